package endpoint

import (
	"fmt"
	"time"

	"avaneesh/shotxfer/pkg/chunk"
	"avaneesh/shotxfer/pkg/types"
)

// Config configures an endpoint
type Config struct {
	// Self is the identity placed in the From field of every outbound envelope
	// and the ID inbound envelopes must be addressed to
	Self types.PeerIdentity

	// Transfer configures both the sender and the reassembler
	Transfer chunk.Config

	// CaptureTimeout bounds one Capture call. Zero means no bound
	CaptureTimeout time.Duration
}

// DefaultConfig returns default endpoint configuration for self
func DefaultConfig(self types.PeerIdentity) Config {
	return Config{
		Self:           self,
		Transfer:       chunk.DefaultConfig(),
		CaptureTimeout: 30 * time.Second,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if err := c.Self.Validate(); err != nil {
		return fmt.Errorf("self: %w", err)
	}
	if err := c.Transfer.Validate(); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	if c.CaptureTimeout < 0 {
		return fmt.Errorf("capture timeout must not be negative, got %s", c.CaptureTimeout)
	}
	return nil
}
