package stream

// Observer receives session lifecycle events, typically for metrics.
// Calls are made synchronously from the session and must not block.
type Observer interface {
	SessionStarted(room RoomID, historySize int)
	MessageDelivered(room RoomID)
	BoundaryDuplicate(room RoomID)
	SessionEnded(room RoomID, state State)
}

type nopObserver struct{}

func (nopObserver) SessionStarted(RoomID, int) {}
func (nopObserver) MessageDelivered(RoomID) {}
func (nopObserver) BoundaryDuplicate(RoomID) {}
func (nopObserver) SessionEnded(RoomID, State) {}
