package schema

import "testing"

func TestViewDDL(t *testing.T) {
	ddl := viewDDL("todo_lists")
	want := `CREATE TABLE IF NOT EXISTS cqrs_todo_lists (
	id TEXT PRIMARY KEY,
	data JSONB NOT NULL,
	version INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if ddl != want {
		t.Errorf("got:\n%s\nwant:\n%s", ddl, want)
	}
}

func TestEventsDDL(t *testing.T) {
	ddl := eventsDDL()
	want := `CREATE TABLE IF NOT EXISTS cqrs_events (
	stream_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	type TEXT NOT NULL,
	data JSONB NOT NULL,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	global_position BIGINT GENERATED ALWAYS AS IDENTITY,
	PRIMARY KEY (stream_id, version)
)`
	if ddl != want {
		t.Errorf("got:\n%s\nwant:\n%s", ddl, want)
	}
}

func TestViewStatusDDL(t *testing.T) {
	ddl := viewStatusDDL()
	want := `CREATE TABLE IF NOT EXISTS cqrs_view_status (
	view_name TEXT PRIMARY KEY,
	status TEXT NOT NULL DEFAULT 'not_ready',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if ddl != want {
		t.Errorf("got:\n%s\nwant:\n%s", ddl, want)
	}
}

func TestCheckpointsDDL(t *testing.T) {
	ddl := checkpointsDDL()
	want := `CREATE TABLE IF NOT EXISTS cqrs_bus_checkpoints (
	bus_name TEXT PRIMARY KEY,
	last_position BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'running',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`
	if ddl != want {
		t.Errorf("got:\n%s\nwant:\n%s", ddl, want)
	}
}

func TestValidateViewName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"todo_lists", true},
		{"Users123", true},
		{"", false},
		{"drop table;--", false},
		{"has space", false},
		{"has-dash", false},
		{"1starts_with_digit", false},
	}
	for _, tt := range tests {
		err := ValidateViewName(tt.name)
		if (err == nil) != tt.valid {
			t.Errorf("ValidateViewName(%q): got err=%v, wantValid=%v", tt.name, err, tt.valid)
		}
	}
}

func TestViewTable(t *testing.T) {
	if got := ViewTable("todo_lists"); got != "cqrs_todo_lists" {
		t.Errorf("got %q, want %q", got, "cqrs_todo_lists")
	}
}

func TestBootstrap_InvalidateTable(t *testing.T) {
	b := New()
	b.tables.Store("cqrs_users", true)
	if !b.IsCreated("cqrs_users") {
		t.Fatal("should be created")
	}
	b.InvalidateTable("cqrs_users")
	if b.IsCreated("cqrs_users") {
		t.Error("should be invalidated")
	}
}
