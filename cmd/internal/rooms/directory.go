// Package rooms resolves room references and serves the rooms REST API:
// history listing, text posting and media upload.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// ErrRoomNotFound is returned when a reference does not name a known room.
var ErrRoomNotFound = errors.New("rooms: room not found")

const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Room is a directory entry.
type Room struct {
	ID         string
	Ref        string
	Visibility string
	Members    []string
}

// Directory resolves references and answers membership. It satisfies
// realtime.MembershipStore.
type Directory interface {
	Resolve(ctx context.Context, ref string) (Room, error)
	IsMember(ctx context.Context, userID, roomID string) (bool, error)
}

// legacyHost is accepted as a prefix of bare references.
const legacyHost = "gitter.im/"

// NormalizeRef canonicalizes a room reference. "gitter://Org/Room",
// "https://gitter.im/org/room/", "gitter.im/org/room" and "org/room" all
// normalize to "org/room".
func NormalizeRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if i := strings.Index(ref, "://"); i >= 0 {
		if u, err := url.Parse(ref); err == nil {
			switch {
			case u.Scheme == "http" || u.Scheme == "https":
				ref = u.Path
			default:
				// custom scheme: host is the first path segment
				ref = u.Host + u.Path
			}
		} else {
			ref = ref[i+3:]
		}
	}
	ref = strings.ToLower(strings.Trim(ref, "/"))
	ref = strings.TrimPrefix(ref, legacyHost)
	return strings.Trim(ref, "/")
}

// MemoryDirectory is a fixed, in-process room table.
type MemoryDirectory struct {
	mu    sync.RWMutex
	byRef map[string]Room
	byID  map[string]Room
}

// NewMemoryDirectory builds a directory from rooms.
func NewMemoryDirectory(rooms ...Room) *MemoryDirectory {
	d := &MemoryDirectory{byRef: make(map[string]Room), byID: make(map[string]Room)}
	for _, r := range rooms {
		d.Add(r)
	}
	return d
}

// Add registers or replaces a room.
func (d *MemoryDirectory) Add(r Room) {
	if r.Visibility == "" {
		r.Visibility = VisibilityPublic
	}
	r.Ref = NormalizeRef(r.Ref)
	if r.Ref == "" {
		r.Ref = strings.ToLower(r.ID)
	}

	d.mu.Lock()
	d.byRef[r.Ref] = r
	d.byID[r.ID] = r
	d.mu.Unlock()
}

// Resolve implements Directory. A reference equal to a room id resolves too.
func (d *MemoryDirectory) Resolve(ctx context.Context, ref string) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	if r, ok := d.byRef[NormalizeRef(ref)]; ok {
		return r, nil
	}
	if r, ok := d.byID[strings.TrimSpace(ref)]; ok {
		return r, nil
	}
	return Room{}, fmt.Errorf("%w: %q", ErrRoomNotFound, ref)
}

// Lookup returns the room with id.
func (d *MemoryDirectory) Lookup(id string) (Room, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.byID[id]
	return r, ok
}

// IsMember implements Directory. Public rooms admit every user.
func (d *MemoryDirectory) IsMember(ctx context.Context, userID, roomID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r, ok := d.Lookup(roomID)
	if !ok || userID == "" {
		return false, nil
	}
	if r.Visibility == VisibilityPublic {
		return true, nil
	}
	for _, m := range r.Members {
		if m == userID {
			return true, nil
		}
	}
	return false, nil
}

// ParseRooms parses ARC_ROOMS entries of the form "ref=id" (public) or
// "ref=id:user1|user2" (private, listed members only).
func ParseRooms(entries []string) ([]Room, error) {
	out := make([]Room, 0, len(entries))
	for _, e := range entries {
		ref, rest, ok := strings.Cut(e, "=")
		ref = strings.TrimSpace(ref)
		if !ok || ref == "" {
			return nil, fmt.Errorf("rooms: malformed room entry %q (want ref=id[:members])", e)
		}
		id, members, private := strings.Cut(rest, ":")
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("rooms: room entry %q has no id", e)
		}
		r := Room{ID: id, Ref: ref, Visibility: VisibilityPublic}
		if private {
			r.Visibility = VisibilityPrivate
			for _, m := range strings.Split(members, "|") {
				if m = strings.TrimSpace(m); m != "" {
					r.Members = append(r.Members, m)
				}
			}
		}
		out = append(out, r)
	}
	return out, nil
}
