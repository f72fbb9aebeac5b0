package chunk

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"

	"avaneesh/shotxfer/pkg/internal/logger"
	"avaneesh/shotxfer/pkg/types"
)

// IDGenerator produces transfer identifiers. Identifiers must not collide
// among transfers in flight at the same time.
type IDGenerator func() string

// NewRandomID returns a random UUIDv4 string
func NewRandomID() string {
	return uuid.NewString()
}

// SendFunc emits one fragment to a peer
type SendFunc func(ctx context.Context, to types.PeerIdentity, frag Fragment) error

// Sender splits payloads into fragments and emits them in index order
type Sender struct {
	config Config
	newID  IDGenerator
	stats  *Statistics
	logger logger.Logger
}

// NewSender creates a new sender. A nil stats gets a private tracker.
func NewSender(config Config, stats *Statistics, log logger.Logger) *Sender {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if stats == nil {
		stats = NewStatistics()
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}

	return &Sender{
		config: config,
		newID:  NewRandomID,
		stats:  stats,
		logger: log,
	}
}

// SetIDGenerator replaces the transfer identifier source
func (s *Sender) SetIDGenerator(gen IDGenerator) {
	if gen == nil {
		gen = NewRandomID
	}
	s.newID = gen
}

// ChunkSize returns the configured fragment size
func (s *Sender) ChunkSize() int {
	return s.config.ChunkSize
}

// Stats returns sender statistics
func (s *Sender) Stats() *Statistics {
	return s.stats
}

// Fragments splits payload into the fragments of a new transfer.
// Payloads must be valid UTF-8: fragments travel as JSON strings.
func (s *Sender) Fragments(payload string) ([]Fragment, error) {
	if !utf8.ValidString(payload) {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidPayload, len(payload))
	}

	slices, err := Split(payload, s.config.ChunkSize)
	if err != nil {
		return nil, err
	}
	if s.config.MaxFragments > 0 && len(slices) > s.config.MaxFragments {
		return nil, fmt.Errorf("%w: %d bytes need %d fragments, limit %d",
			ErrPayloadTooLarge, len(payload), len(slices), s.config.MaxFragments)
	}

	id := s.newID()
	frags := make([]Fragment, len(slices))
	for i, data := range slices {
		frags[i] = Fragment{
			TransferID: id,
			Total:      len(slices),
			Index:      i,
			Data:       data,
		}
	}
	return frags, nil
}

// SplitAndSend splits payload and calls send once per fragment, in ascending
// index order. A failed send is logged and counted; emission continues with
// the next fragment. Returns the transfer ID and the number of fragments emitted.
func (s *Sender) SplitAndSend(ctx context.Context, payload string, to types.PeerIdentity, send SendFunc) (string, int, error) {
	if err := to.Validate(); err != nil {
		return "", 0, err
	}

	frags, err := s.Fragments(payload)
	if err != nil {
		return "", 0, err
	}

	id := frags[0].TransferID
	s.logger.Debug("Sender: transfer %s to %s, %d bytes in %d fragments", id, to, len(payload), len(frags))

	for _, frag := range frags {
		if err := send(ctx, to, frag); err != nil {
			s.record((*Statistics).IncrementSendErrors)
			s.logger.Warn("Sender: transfer %s fragment %d/%d to %s failed: %v", id, frag.Index, frag.Total, to, err)
			continue
		}
		s.record((*Statistics).IncrementTxFragments)
	}
	s.record((*Statistics).IncrementTxTransfers)

	return id, len(frags), nil
}

func (s *Sender) record(inc func(*Statistics)) {
	if s.config.EnableStatistics {
		inc(s.stats)
	}
}
