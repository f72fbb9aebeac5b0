package endpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avaneesh/shotxfer/pkg/channel"
	"avaneesh/shotxfer/pkg/chunk"
	"avaneesh/shotxfer/pkg/message"
	"avaneesh/shotxfer/pkg/types"
)

var (
	alice = types.NewPeerIdentity("alice", "10.0.0.1")
	bob   = types.NewPeerIdentity("bob", "10.0.0.2")
)

type delivery struct {
	origin  types.PeerIdentity
	payload *string
}

// link wires alice (requester) and bob (capturer) over an in-memory pipe
type link struct {
	alice     *Endpoint
	bob       *Endpoint
	bobWire   *channel.PipeChannel
	delivered chan delivery
}

func newLink(t *testing.T, transfer chunk.Config, capturer Capturer) *link {
	t.Helper()

	a, b := channel.Pipe(64)
	aliceCh := channel.New("alice-ch", a, nil)
	bobCh := channel.New("bob-ch", b, nil)
	require.NoError(t, aliceCh.Open())
	require.NoError(t, bobCh.Open())

	delivered := make(chan delivery, 8)
	handler := HandlerFunc(func(origin types.PeerIdentity, payload *string) {
		delivered <- delivery{origin: origin, payload: payload}
	})

	aliceCfg := DefaultConfig(alice)
	aliceCfg.Transfer = transfer
	aliceEp, err := New(aliceCfg, aliceCh, nil, handler, nil)
	require.NoError(t, err)

	bobCfg := DefaultConfig(bob)
	bobCfg.Transfer = transfer
	bobEp, err := New(bobCfg, bobCh, capturer, nil, nil)
	require.NoError(t, err)

	require.NoError(t, aliceCh.AddSession(aliceEp))
	require.NoError(t, bobCh.AddSession(bobEp))

	t.Cleanup(func() {
		aliceEp.Close()
		bobEp.Close()
		aliceCh.Close()
		bobCh.Close()
	})

	return &link{alice: aliceEp, bob: bobEp, bobWire: b, delivered: delivered}
}

func smallChunks() chunk.Config {
	cfg := chunk.DefaultConfig()
	cfg.ChunkSize = 1000
	return cfg
}

func fixed(payload string) Capturer {
	return CaptureFunc(func(ctx context.Context) (string, error) {
		return payload, nil
	})
}

func waitDelivery(t *testing.T, ch <-chan delivery) delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no screenshot delivered")
		return delivery{}
	}
}

func TestFetchMultiFragment(t *testing.T) {
	payload := strings.Repeat("0123456789", 550) // 5500 bytes, 6 fragments
	l := newLink(t, smallChunks(), fixed(payload))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := l.alice.Fetch(ctx, bob)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, payload, *got)

	// Handler sees the same screenshot
	d := waitDelivery(t, l.delivered)
	assert.Equal(t, bob, d.origin)
	assert.Equal(t, payload, *d.payload)

	assert.Equal(t, uint64(6), l.bob.Stats().GetTxFragments())
	assert.Equal(t, uint64(6), l.alice.Stats().GetRxFragments())
	assert.Equal(t, 0, l.alice.Reassembler().Len())
}

func TestRequestScreenshotSingleFragment(t *testing.T) {
	l := newLink(t, smallChunks(), fixed("data:image/png;base64,AAAA"))

	require.NoError(t, l.alice.RequestScreenshot(context.Background(), bob))

	d := waitDelivery(t, l.delivered)
	require.NotNil(t, d.payload)
	assert.Equal(t, "data:image/png;base64,AAAA", *d.payload)
}

func TestCaptureFailureNotifiesNil(t *testing.T) {
	cases := []struct {
		name     string
		capturer Capturer
	}{
		{"error", CaptureFunc(func(ctx context.Context) (string, error) { return "", errors.New("no display") })},
		{"no capture", CaptureFunc(func(ctx context.Context) (string, error) { return "", ErrNoCapture })},
		{"empty", fixed("")},
		{"no capturer", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := newLink(t, smallChunks(), tc.capturer)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			got, err := l.alice.Fetch(ctx, bob)
			require.NoError(t, err)
			assert.Nil(t, got)

			d := waitDelivery(t, l.delivered)
			assert.Nil(t, d.payload)
		})
	}
}

func TestRefusedScreenshotNotifiesNil(t *testing.T) {
	limited := smallChunks()
	limited.MaxFragments = 2

	cases := []struct {
		name     string
		transfer chunk.Config
		payload  string
	}{
		{"invalid utf-8", smallChunks(), "ab\xffcd"},
		{"too many fragments", limited, strings.Repeat("z", 2500)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := newLink(t, tc.transfer, fixed(tc.payload))

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()

			got, err := l.alice.Fetch(ctx, bob)
			require.NoError(t, err)
			assert.Nil(t, got)
			assert.Equal(t, uint64(0), l.bob.Stats().GetTxFragments())
		})
	}
}

func TestLostFragmentNeverCompletes(t *testing.T) {
	payload := strings.Repeat("x", 3500) // 4 fragments
	l := newLink(t, smallChunks(), fixed(payload))

	l.bobWire.SetWriteFilter(func(data []byte) bool {
		env, err := message.DecodeEnvelope(data)
		if err != nil {
			return true
		}
		frag, ok := env.Message.(message.FragmentMessage)
		return !ok || frag.Index != 1
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := l.alice.Fetch(ctx, bob)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	infos := l.alice.Reassembler().InFlight()
	require.Len(t, infos, 1)
	assert.Equal(t, 4, infos[0].Total)
	assert.Equal(t, 3, infos[0].Filled)
	assert.Equal(t, bob.ID, infos[0].Origin.ID)

	select {
	case d := <-l.delivered:
		t.Fatalf("unexpected delivery from %s", d.origin)
	default:
	}
}

func TestSendScreenshotUnsolicited(t *testing.T) {
	l := newLink(t, smallChunks(), nil)

	id, n, err := l.bob.SendScreenshot(context.Background(), alice, strings.Repeat("y", 2001))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 3, n)

	d := waitDelivery(t, l.delivered)
	assert.Len(t, *d.payload, 2001)
}

func TestSendScreenshotEmptyPayload(t *testing.T) {
	l := newLink(t, smallChunks(), nil)

	_, n, err := l.bob.SendScreenshot(context.Background(), alice, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d := waitDelivery(t, l.delivered)
	require.NotNil(t, d.payload, "empty payload is not a capture failure")
	assert.Equal(t, "", *d.payload)
}

func TestOnReceiveWholeScreenshot(t *testing.T) {
	var got *string
	ep, err := New(DefaultConfig(alice), nopTransport{}, nil, HandlerFunc(func(origin types.PeerIdentity, payload *string) {
		got = payload
	}), nil)
	require.NoError(t, err)
	defer ep.Close()

	require.NoError(t, ep.OnReceive(message.NewEnvelope(bob, alice.ID, message.NewScreenshot("whole"))))
	require.NotNil(t, got)
	assert.Equal(t, "whole", *got)
	assert.Equal(t, uint64(1), ep.Stats().GetRxTransfers())
}

func TestClosedEndpoint(t *testing.T) {
	ep, err := New(DefaultConfig(alice), nopTransport{}, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, ep.Close())
	require.NoError(t, ep.Close())

	assert.ErrorIs(t, ep.RequestScreenshot(context.Background(), bob), ErrEndpointClosed)
	_, _, err = ep.SendScreenshot(context.Background(), bob, "x")
	assert.ErrorIs(t, err, ErrEndpointClosed)
	assert.ErrorIs(t, ep.OnReceive(message.NewEnvelope(bob, alice.ID, message.CaptureRequest{})), ErrEndpointClosed)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(DefaultConfig(types.PeerIdentity{}), nopTransport{}, nil, nil, nil)
	assert.ErrorIs(t, err, types.ErrEmptyPeerID)

	cfg := DefaultConfig(alice)
	cfg.Transfer.ChunkSize = 0
	_, err = New(cfg, nopTransport{}, nil, nil, nil)
	assert.Error(t, err)

	_, err = New(DefaultConfig(alice), nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestFileCapturer(t *testing.T) {
	dir := t.TempDir()
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	path := filepath.Join(dir, "shot.png")
	require.NoError(t, os.WriteFile(path, png, 0o644))

	got, err := FileCapturer{Path: path}.Capture(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "data:image/png;base64,"), got)

	empty := filepath.Join(dir, "empty.png")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = FileCapturer{Path: empty}.Capture(context.Background())
	assert.ErrorIs(t, err, ErrNoCapture)

	_, err = FileCapturer{Path: filepath.Join(dir, "missing.png")}.Capture(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

type nopTransport struct{}

func (nopTransport) Send(ctx context.Context, env *message.Envelope) error { return nil }

func TestDataURLRoundTrip(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

	mediaType, data, err := DecodeDataURL(DataURL(png))
	require.NoError(t, err)
	assert.Equal(t, "image/png", mediaType)
	assert.Equal(t, png, data)

	for _, bad := range []string{"", "hello", "data:image/png,raw", "data:image/png;base64", "data:image/png;base64,!!"} {
		_, _, err := DecodeDataURL(bad)
		assert.ErrorIs(t, err, ErrNotDataURL, bad)
	}
}
