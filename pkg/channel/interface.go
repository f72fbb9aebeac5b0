package channel

import (
	"context"
	"net"
)

// Listening is implemented by physical channels that accept peers
type Listening interface {
	// ListenAddr returns the bound address, nil when not serving
	ListenAddr() net.Addr
}

// ConnectionStateListener receives notifications about connection state changes
type ConnectionStateListener interface {
	// OnConnectionEstablished is called when a new connection is established
	OnConnectionEstablished()

	// OnConnectionLost is called when a connection is lost
	OnConnectionLost()
}

// PhysicalChannel moves discrete, bounded-size messages to and from a peer.
// Implementations preserve message boundaries: one Write is one Read on the
// other side. UDP, TCP, QUIC and an in-memory pipe are provided; any signaling
// transport can be plugged in by implementing this interface.
type PhysicalChannel interface {
	// Read reads the next message
	// Should block until data is available or context is cancelled
	Read(ctx context.Context) ([]byte, error)

	// Write writes one message
	// Must be thread-safe as multiple endpoints may write concurrently
	Write(ctx context.Context, data []byte) error

	// Close closes the physical connection
	// Should cleanup all resources and unblock any pending Read/Write
	Close() error

	// Statistics returns transport-level statistics
	// Optional - can return zero values if not tracked
	Statistics() TransportStats

	// SetConnectionStateListener sets a listener for connection state changes.
	// A channel that is already connected reports it to the new listener at once.
	// Optional - channels that don't support connection state notifications can ignore this
	SetConnectionStateListener(listener ConnectionStateListener)
}

// TransportStats provides transport-level statistics
type TransportStats struct {
	BytesSent     uint64 `json:"bytes_sent"`
	BytesReceived uint64 `json:"bytes_received"`
	WriteErrors   uint64 `json:"write_errors"`
	ReadErrors    uint64 `json:"read_errors"`
	Connects      uint64 `json:"connects"`
	Disconnects   uint64 `json:"disconnects"`
}

// ChannelState represents the state of a channel
type ChannelState int

const (
	ChannelStateOpen ChannelState = iota
	ChannelStateClosed
)

// String returns string representation of ChannelState
func (s ChannelState) String() string {
	switch s {
	case ChannelStateOpen:
		return "Open"
	case ChannelStateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
