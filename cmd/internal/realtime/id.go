package realtime

import (
	"fmt"
	"time"

	"arcfeed/cmd/internal/ids"
)

// idKind names what an identifier is minted for. It only shows up in errors.
type idKind string

const (
	idSession   idKind = "session"
	idEnvelope  idKind = "envelope"
	idServerMsg idKind = "server_msg"
)

// mintID returns a ULID stamped with now.
func mintID(kind idKind, now time.Time) (string, error) {
	id, err := ids.NewULID(now)
	if err != nil {
		return "", fmt.Errorf("realtime: mint %s id: %w", kind, err)
	}
	return id, nil
}
