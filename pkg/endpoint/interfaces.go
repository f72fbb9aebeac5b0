package endpoint

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"avaneesh/shotxfer/pkg/message"
	"avaneesh/shotxfer/pkg/types"
)

var (
	// ErrNoCapture is returned by a Capturer that produced no image
	ErrNoCapture = errors.New("nothing captured")

	// ErrNotDataURL is returned when a payload is not a base64 data URL
	ErrNotDataURL = errors.New("payload is not a base64 data URL")
)

// Transport sends one bounded-size envelope. *channel.Channel implements it.
type Transport interface {
	Send(ctx context.Context, env *message.Envelope) error
}

// Capturer produces the screenshot payload answered to a capture request.
// An empty result is treated like ErrNoCapture.
type Capturer interface {
	Capture(ctx context.Context) (string, error)
}

// CaptureFunc adapts a function to the Capturer interface
type CaptureFunc func(ctx context.Context) (string, error)

// Capture implements Capturer
func (f CaptureFunc) Capture(ctx context.Context) (string, error) {
	return f(ctx)
}

// Handler receives completed screenshots. A nil payload means the peer
// attempted a capture and produced nothing. Handlers run on the channel's
// read loop and should return promptly.
type Handler interface {
	OnScreenshot(origin types.PeerIdentity, payload *string)
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(origin types.PeerIdentity, payload *string)

// OnScreenshot implements Handler
func (f HandlerFunc) OnScreenshot(origin types.PeerIdentity, payload *string) {
	f(origin, payload)
}

// FileCapturer answers every capture request with the image stored at Path,
// encoded as a base64 data URL
type FileCapturer struct {
	Path string
}

// Capture implements Capturer
func (c FileCapturer) Capture(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(c.Path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", c.Path, err)
	}
	if len(data) == 0 {
		return "", ErrNoCapture
	}
	return DataURL(data), nil
}

// DataURL encodes an image as a data URL, sniffing its media type
func DataURL(data []byte) string {
	mediaType := http.DetectContentType(data)
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL returns the media type and bytes of a base64 data URL
func DecodeDataURL(payload string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(payload, "data:")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	header, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	mediaType, ok := strings.CutSuffix(header, ";base64")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	if mediaType == "" {
		mediaType = "text/plain"
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrNotDataURL, err)
	}
	return mediaType, data, nil
}
