package rooms

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ErrMediaTooLarge is returned for uploads above the configured cap.
var ErrMediaTooLarge = errors.New("rooms: media too large")

// ErrMediaNotFound is returned by Get for unknown ids.
var ErrMediaNotFound = errors.New("rooms: media not found")

// MediaObject is a stored upload. ID is the hex BLAKE2b-256 of the content.
type MediaObject struct {
	ID          string
	ContentType string
	Size        int64
	StoredAt    time.Time
	Data        []byte
}

// MediaStore keeps uploads content-addressed in memory. Identical content is
// stored once.
type MediaStore struct {
	maxBytes int64

	mu      sync.RWMutex
	objects map[string]MediaObject
}

// NewMediaStore returns a store that rejects objects larger than maxBytes.
func NewMediaStore(maxBytes int64) *MediaStore {
	return &MediaStore{maxBytes: maxBytes, objects: make(map[string]MediaObject)}
}

// MaxBytes returns the upload cap.
func (s *MediaStore) MaxBytes() int64 { return s.maxBytes }

// Put stores data and returns its object.
func (s *MediaStore) Put(ctx context.Context, contentType string, data []byte, now time.Time) (MediaObject, error) {
	if err := ctx.Err(); err != nil {
		return MediaObject{}, err
	}
	if len(data) == 0 {
		return MediaObject{}, errors.New("rooms: empty media")
	}
	if s.maxBytes > 0 && int64(len(data)) > s.maxBytes {
		return MediaObject{}, fmt.Errorf("%w: %d > %d bytes", ErrMediaTooLarge, len(data), s.maxBytes)
	}

	sum := blake2b.Sum256(data)
	id := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.objects[id]; ok {
		return existing, nil
	}
	obj := MediaObject{
		ID:          id,
		ContentType: contentType,
		Size:        int64(len(data)),
		StoredAt:    now,
		Data:        append([]byte(nil), data...),
	}
	s.objects[id] = obj
	return obj, nil
}

// Get returns the object with id.
func (s *MediaStore) Get(id string) (MediaObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[id]
	if !ok {
		return MediaObject{}, ErrMediaNotFound
	}
	return obj, nil
}
