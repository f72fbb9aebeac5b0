package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"avaneesh/shotxfer/pkg/types"
)

// ErrNotFound is returned by Get for an unknown key
var ErrNotFound = errors.New("screenshot not found")

// Record is one received screenshot, or one failed capture
type Record struct {
	Key        string             `json:"key"`
	Origin     types.PeerIdentity `json:"origin"`
	Payload    *string            `json:"payload,omitempty"`
	Failed     bool               `json:"failed"`
	Size       int                `json:"size"`
	ReceivedAt time.Time          `json:"received_at"`
}

// NewRecord builds a record for a screenshot delivered by origin. A nil
// payload records a failed capture.
func NewRecord(origin types.PeerIdentity, payload *string, receivedAt time.Time) (*Record, error) {
	// Version 7 keys sort by creation time
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("record key: %w", err)
	}

	rec := &Record{
		Key:        id.String(),
		Origin:     origin,
		Payload:    payload,
		Failed:     payload == nil,
		ReceivedAt: receivedAt.UTC(),
	}
	if payload != nil {
		rec.Size = len(*payload)
	}
	return rec, nil
}

// Summary returns a copy of r without its payload
func (r Record) Summary() Record {
	r.Payload = nil
	return r
}

// Store persists completed screenshots
type Store interface {
	// Save stores rec under rec.Key
	Save(ctx context.Context, rec *Record) error

	// Get returns the record with its payload
	Get(ctx context.Context, key string) (*Record, error)

	// List returns up to limit record summaries, newest first.
	// A limit <= 0 returns all records.
	List(ctx context.Context, limit int) ([]Record, error)

	// Close releases the store
	Close() error
}
