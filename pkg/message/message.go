package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"avaneesh/shotxfer/pkg/chunk"
	"avaneesh/shotxfer/pkg/types"
)

// Encoded size bounds. JSON escapes a control character as \u00XX, so one
// payload byte costs at most escapeFactor bytes on the wire.
const (
	escapeFactor  = 6
	fixedOverhead = 256 // Field names, kind tag and the two integers
)

// MaxEnvelopeSize bounds the encoded size of any envelope whose payload
// slice is at most chunkSize bytes.
func MaxEnvelopeSize(chunkSize int) int {
	ids := 3*types.MaxIDLength + chunk.MaxTransferIDLength
	return fixedOverhead + escapeFactor*(ids+chunkSize)
}

// MaxChunkSize returns the largest chunk size whose envelopes always fit in
// limit bytes, or 0 if none does.
func MaxChunkSize(limit int) int {
	n := (limit - MaxEnvelopeSize(0)) / escapeFactor
	if n < 0 {
		return 0
	}
	return n
}

// marshal encodes v as compact JSON without HTML escaping, so '<', '>' and
// '&' stay one byte each.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

var (
	// ErrUnknownKind occurs when the kind tag is missing or unregistered.
	ErrUnknownKind = errors.New("unknown message kind")

	// ErrMalformed occurs when a message does not match the shape of its kind.
	ErrMalformed = errors.New("malformed message")
)

// Kind is the tag distinguishing message shapes.
type Kind string

const (
	// KindRequestCapture asks the receiving peer to capture and send a screenshot.
	KindRequestCapture Kind = "request-capture"
	// KindDeliverScreenshot carries a whole screenshot, a fragment, or a capture failure.
	KindDeliverScreenshot Kind = "deliver-screenshot"
)

func (k Kind) String() string {
	return string(k)
}

// Message is one of CaptureRequest, Screenshot or FragmentMessage.
type Message interface {
	Kind() Kind
	isMessage()
}

// CaptureRequest asks the peer to produce a screenshot.
type CaptureRequest struct{}

// Kind implements Message.
func (CaptureRequest) Kind() Kind { return KindRequestCapture }
func (CaptureRequest) isMessage() {}

// Screenshot carries a complete payload in one message.
// A nil or empty Data means the peer attempted a capture and produced nothing.
type Screenshot struct {
	Data *string
}

// Kind implements Message.
func (Screenshot) Kind() Kind { return KindDeliverScreenshot }
func (Screenshot) isMessage() {}

// Failed reports whether this is a capture-failed notice.
func (s Screenshot) Failed() bool {
	return s.Data == nil || *s.Data == ""
}

// FragmentMessage carries one fragment of a multi-fragment transfer.
type FragmentMessage struct {
	chunk.Fragment
}

// Kind implements Message.
func (FragmentMessage) Kind() Kind { return KindDeliverScreenshot }
func (FragmentMessage) isMessage() {}

// NewScreenshot returns a whole-payload message.
func NewScreenshot(data string) Screenshot {
	return Screenshot{Data: &data}
}

// CaptureFailed returns a capture-failed notice.
func CaptureFailed() Screenshot {
	return Screenshot{}
}

// wireMessage is the JSON shape shared by all kinds. Pointers keep absent
// fields distinct from zero values.
type wireMessage struct {
	Kind  Kind    `json:"kind"`
	ID    *string `json:"id,omitempty"`
	Size  *int    `json:"size,omitempty"`
	Idx   *int    `json:"idx,omitempty"`
	Chunk *string `json:"chunk,omitempty"`
}

// Encode serializes a message.
func Encode(m Message) ([]byte, error) {
	w, err := toWire(m)
	if err != nil {
		return nil, err
	}
	return marshal(w)
}

// toWire rejects payload text JSON cannot carry unchanged
func toWire(m Message) (wireMessage, error) {
	w := wireMessage{Kind: m.Kind()}
	switch v := m.(type) {
	case Screenshot:
		w.Chunk = v.Data
	case FragmentMessage:
		id, size, idx, data := v.TransferID, v.Total, v.Index, v.Data
		w.ID, w.Size, w.Idx, w.Chunk = &id, &size, &idx, &data
	}
	if w.Chunk != nil && !utf8.ValidString(*w.Chunk) {
		return w, fmt.Errorf("%w: chunk is not valid UTF-8", ErrMalformed)
	}
	return w, nil
}

// Decode parses and validates a message. Fragment headers are checked for
// presence and range; limits on Total are the reassembler's concern.
func Decode(data []byte) (Message, error) {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return fromWire(w)
}

func fromWire(w wireMessage) (Message, error) {
	switch w.Kind {
	case KindRequestCapture:
		return CaptureRequest{}, nil

	case KindDeliverScreenshot:
		if w.ID == nil || *w.ID == "" {
			// Absent or empty chunk: the peer captured nothing
			if w.Chunk == nil || *w.Chunk == "" {
				return CaptureFailed(), nil
			}
			return Screenshot{Data: w.Chunk}, nil
		}
		if w.Size == nil || w.Idx == nil {
			return nil, fmt.Errorf("%w: fragment %s missing size or idx", ErrMalformed, *w.ID)
		}

		frag := chunk.Fragment{TransferID: *w.ID, Total: *w.Size, Index: *w.Idx}
		if w.Chunk != nil {
			frag.Data = *w.Chunk
		}
		if err := frag.Validate(0); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return FragmentMessage{Fragment: frag}, nil

	case "":
		return nil, fmt.Errorf("%w: missing kind", ErrUnknownKind)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, string(w.Kind))
	}
}
