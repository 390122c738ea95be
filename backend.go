package cqrs

import (
	"github.com/zekenie/cqrs/internal/codecs"
	"github.com/zekenie/cqrs/internal/pg"
	"github.com/zekenie/cqrs/schema"
)

type backend struct {
	exec   pg.Executor
	codec  codecs.Codec
	schema *schema.Bootstrap
}

// Backend is implemented by Store and Session. Event stores, buses and views
// take a Backend so they run either on the pool or inside a transaction.
type Backend interface {
	DBExecutor() pg.Executor
	JSONCodec() codecs.Codec
	SchemaBootstrap() *schema.Bootstrap
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*Session)(nil)
)
