package types

import (
	"errors"
	"fmt"
)

// MaxIDLength bounds the ID and the address of a peer identity, in bytes
const MaxIDLength = 256

var (
	// ErrEmptyPeerID is returned when a peer identity carries no ID
	ErrEmptyPeerID = errors.New("peer identity has empty ID")
	// ErrPeerIDTooLong is returned when an ID or address exceeds MaxIDLength
	ErrPeerIDTooLong = errors.New("peer identity too long")
)

// PeerIdentity identifies a remote participant at the transport level.
// It travels alongside a message, never inside the payload.
type PeerIdentity struct {
	ID      string `json:"id"`
	Address string `json:"address,omitempty"`
}

// NewPeerIdentity creates a peer identity
func NewPeerIdentity(id, address string) PeerIdentity {
	return PeerIdentity{ID: id, Address: address}
}

// Validate checks that the identity can be used as a destination
func (p PeerIdentity) Validate() error {
	if p.ID == "" {
		return ErrEmptyPeerID
	}
	if len(p.ID) > MaxIDLength || len(p.Address) > MaxIDLength {
		return fmt.Errorf("%w: limit %d bytes", ErrPeerIDTooLong, MaxIDLength)
	}
	return nil
}

// IsZero reports whether the identity is unset
func (p PeerIdentity) IsZero() bool {
	return p.ID == "" && p.Address == ""
}

// String returns string representation of PeerIdentity
func (p PeerIdentity) String() string {
	if p.Address == "" {
		return p.ID
	}
	return fmt.Sprintf("%s(%s)", p.ID, p.Address)
}
