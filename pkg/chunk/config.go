package chunk

import (
	"fmt"
	"strings"
	"time"
)

// CompletionPolicy decides when a transfer buffer is emitted
type CompletionPolicy int

const (
	// CompleteWhenFilled emits once every slot holds a slice, in any arrival order
	CompleteWhenFilled CompletionPolicy = iota
	// CompleteOnFinal evaluates completion only when the last index arrives;
	// a final fragment that finds empty slots drops the transfer with ErrIncompleteTransfer
	CompleteOnFinal
)

// String returns string representation of CompletionPolicy
func (p CompletionPolicy) String() string {
	switch p {
	case CompleteWhenFilled:
		return "filled"
	case CompleteOnFinal:
		return "final"
	default:
		return "unknown"
	}
}

// ParseCompletionPolicy parses the configuration name of a policy
func ParseCompletionPolicy(s string) (CompletionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "filled":
		return CompleteWhenFilled, nil
	case "final":
		return CompleteOnFinal, nil
	default:
		return CompleteWhenFilled, fmt.Errorf("unknown completion policy %q", s)
	}
}

// Config holds configuration for the chunk transfer protocol
type Config struct {
	// ChunkSize is the maximum payload bytes per fragment.
	// Default: 60 KiB, below the 64 KiB message limit of common signaling channels
	ChunkSize int

	// MaxFragments bounds Total on both sides
	MaxFragments int

	// MaxPayloadSize bounds the bytes buffered for one transfer
	MaxPayloadSize int

	// MaxTransfers bounds live transfer buffers; the least recently
	// updated buffer is evicted to make room
	MaxTransfers int

	// TransferTimeout discards a buffer that received no fragment for this long.
	// Zero disables expiry
	TransferTimeout time.Duration

	// Completion selects the completion rule
	Completion CompletionPolicy

	// EnableStatistics enables statistics collection
	EnableStatistics bool
}

// DefaultConfig returns default chunk transfer configuration
func DefaultConfig() Config {
	return Config{
		ChunkSize:        DefaultChunkSize,
		MaxFragments:     DefaultMaxFragments,
		MaxPayloadSize:   DefaultMaxPayloadSize,
		MaxTransfers:     DefaultMaxTransfers,
		TransferTimeout:  2 * time.Minute,
		Completion:       CompleteWhenFilled,
		EnableStatistics: true,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.ChunkSize < MinChunkSize {
		return fmt.Errorf("%w: got %d, need at least %d", ErrChunkTooSmall, c.ChunkSize, MinChunkSize)
	}
	if c.MaxFragments <= 0 {
		return fmt.Errorf("max fragments must be positive, got %d", c.MaxFragments)
	}
	if c.MaxPayloadSize <= 0 {
		return fmt.Errorf("max payload size must be positive, got %d", c.MaxPayloadSize)
	}
	if c.MaxTransfers <= 0 {
		return fmt.Errorf("max transfers must be positive, got %d", c.MaxTransfers)
	}
	if c.TransferTimeout < 0 {
		return fmt.Errorf("transfer timeout must not be negative, got %s", c.TransferTimeout)
	}
	return nil
}
