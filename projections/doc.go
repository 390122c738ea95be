// Package projections builds read models from event streams.
//
// A Projection declares the event types it handles and a handler per type,
// validated when the projection is constructed. Subscribing a projection to
// a bus registers it for live delivery and, when its view is not ready yet,
// replays the complete history of the declared types into the view before
// returning. Live events that arrive while the view is still being rebuilt
// wait for the view to become ready, so every live event is applied after
// the whole backlog.
//
// The projection does not lock its view. Replay applies events strictly one
// at a time; concurrent live deliveries may interleave, and handlers must
// tolerate that.
package projections
