// Package stream is the room message streaming engine.
//
// A Session resolves nothing itself: it takes an already-resolved RoomID, fetches
// a bounded history window and opens the live feed concurrently, then hands the
// caller the window plus a lazy Sequence that continues exactly where the window
// ends. Duplicates between the tail of the window and the head of the live feed
// are dropped once, at the boundary, and never checked again.
//
// Cancellation is first-wins and idempotent. It may arrive from the caller
// (Session.Cancel), from a lifecycle source (Session.CancelOn), from the context
// passed to Start, or from a context passed to Sequence.Next. All of them end the
// sequence cleanly: Next returns false and Sequence.Err returns nil. A remote
// close or transport failure after start ends the sequence with an error that
// matches ErrStreamInterrupted. The engine never reconnects; callers that want
// to resume start a new Session.
package stream
