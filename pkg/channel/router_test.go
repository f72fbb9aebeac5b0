package channel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avaneesh/shotxfer/pkg/message"
	"avaneesh/shotxfer/pkg/types"
)

type failingSession struct{ id string }

var errRejected = errors.New("rejected")

func (s failingSession) PeerID() string                        { return s.id }
func (s failingSession) OnReceive(env *message.Envelope) error { return errRejected }

func TestRouterAddSession(t *testing.T) {
	r := NewRouter()

	require.NoError(t, r.AddSession(&recordingSession{id: "bob"}))
	assert.Error(t, r.AddSession(&recordingSession{id: "bob"}), "duplicate ID")
	assert.Error(t, r.AddSession(&recordingSession{id: ""}), "empty ID")
	assert.Equal(t, 1, r.GetSessionCount())

	_, ok := r.GetSession("bob")
	assert.True(t, ok)

	r.RemoveSession("bob")
	_, ok = r.GetSession("bob")
	assert.False(t, ok)
}

func TestRouterRoute(t *testing.T) {
	r := NewRouter()
	bob := &recordingSession{id: "bob"}
	require.NoError(t, r.AddSession(bob))
	require.NoError(t, r.AddSession(failingSession{id: "mallory"}))

	from := types.NewPeerIdentity("alice", "")

	require.NoError(t, r.Route(message.NewEnvelope(from, "bob", message.CaptureRequest{})))
	assert.Equal(t, 1, bob.count())

	err := r.Route(message.NewEnvelope(from, "carol", message.CaptureRequest{}))
	assert.ErrorIs(t, err, ErrNoSession)

	err = r.Route(message.NewEnvelope(from, "mallory", message.CaptureRequest{}))
	assert.ErrorIs(t, err, errRejected)
}

func TestRouterClear(t *testing.T) {
	r := NewRouter()
	require.NoError(t, r.AddSession(&recordingSession{id: "a"}))
	require.NoError(t, r.AddSession(&recordingSession{id: "b"}))

	r.Clear()
	assert.Equal(t, 0, r.GetSessionCount())
}
