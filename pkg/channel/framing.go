package channel

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxMessageSize bounds one encoded envelope on a stream channel. It fits
	// a fully escaped fragment of the default chunk size.
	MaxMessageSize = 512 * 1024

	// MaxDatagramSize is the largest UDP payload
	MaxDatagramSize = 65507

	frameHeaderSize = 4
)

var (
	// ErrMessageTooLarge is returned for a message over the channel's size limit
	ErrMessageTooLarge = errors.New("message too large")
	// ErrEmptyMessage is returned for a zero-length frame
	ErrEmptyMessage = errors.New("empty message")
	// ErrUnknownTransport is returned for a transport kind with no channel
	ErrUnknownTransport = errors.New("unknown transport")
)

// MessageLimit returns the largest message the named transport carries:
// one datagram for udp, one frame for tcp and quic.
func MessageLimit(kind string) (int, error) {
	switch kind {
	case "udp":
		return MaxDatagramSize, nil
	case "tcp", "quic":
		return MaxMessageSize, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownTransport, kind)
	}
}

// WriteFrame writes one length-prefixed message to a stream.
// Layout: length (4 bytes, big endian) || message
func WriteFrame(w io.Writer, msg []byte) error {
	if len(msg) == 0 {
		return ErrEmptyMessage
	}
	if len(msg) > MaxMessageSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, len(msg), MaxMessageSize)
	}

	// Header and body in one write so concurrent writers cannot interleave
	buf := make([]byte, frameHeaderSize+len(msg))
	binary.BigEndian.PutUint32(buf, uint32(len(msg)))
	copy(buf[frameHeaderSize:], msg)

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed message from a stream
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(header)
	if n == 0 {
		return nil, ErrEmptyMessage
	}
	if n > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", ErrMessageTooLarge, n, MaxMessageSize)
	}

	msg := make([]byte, n)
	if _, err := io.ReadFull(r, msg); err != nil {
		return nil, err
	}
	return msg, nil
}
