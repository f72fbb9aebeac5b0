package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"avaneesh/shotxfer/pkg/types"
)

// ErrNoDestination occurs when an envelope has no addressee.
var ErrNoDestination = errors.New("envelope has no destination")

// Envelope is the transport-level wrapper around a message. It carries the
// sender's identity and the point-to-point destination.
type Envelope struct {
	From    types.PeerIdentity
	To      string
	Message Message
}

type wireEnvelope struct {
	From types.PeerIdentity `json:"from"`
	To   string             `json:"to"`
	Body wireMessage        `json:"body"`
}

// NewEnvelope addresses m from one peer to another.
func NewEnvelope(from types.PeerIdentity, to string, m Message) *Envelope {
	return &Envelope{From: from, To: to, Message: m}
}

// Validate checks addressing.
func (e *Envelope) Validate() error {
	if err := e.From.Validate(); err != nil {
		return fmt.Errorf("%w: sender: %v", ErrMalformed, err)
	}
	if e.To == "" {
		return ErrNoDestination
	}
	if len(e.To) > types.MaxIDLength {
		return fmt.Errorf("%w: destination of %d bytes", ErrMalformed, len(e.To))
	}
	if e.Message == nil {
		return fmt.Errorf("%w: empty body", ErrMalformed)
	}
	return nil
}

// String returns string representation of Envelope
func (e *Envelope) String() string {
	switch m := e.Message.(type) {
	case FragmentMessage:
		return fmt.Sprintf("Envelope{%s -> %s, %s %d/%d}", e.From, e.To, m.TransferID, m.Index, m.Total)
	case nil:
		return fmt.Sprintf("Envelope{%s -> %s, <nil>}", e.From, e.To)
	default:
		return fmt.Sprintf("Envelope{%s -> %s, %s}", e.From, e.To, m.Kind())
	}
}

// EncodeEnvelope serializes an envelope for a physical channel.
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	body, err := toWire(e.Message)
	if err != nil {
		return nil, err
	}
	return marshal(wireEnvelope{From: e.From, To: e.To, Body: body})
}

// DecodeEnvelope parses and validates an envelope and its message.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	m, err := fromWire(w.Body)
	if err != nil {
		return nil, err
	}

	e := &Envelope{From: w.From, To: w.To, Message: m}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}
