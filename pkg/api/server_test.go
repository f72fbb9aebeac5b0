package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avaneesh/shotxfer/pkg/channel"
	"avaneesh/shotxfer/pkg/chunk"
	"avaneesh/shotxfer/pkg/shotxfer"
	"avaneesh/shotxfer/pkg/store"
	"avaneesh/shotxfer/pkg/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeNode struct {
	requests []types.PeerIdentity
	fail     error
}

func (n *fakeNode) Statistics() shotxfer.Statistics {
	return shotxfer.Statistics{
		Channels: map[string]shotxfer.ChannelStatistics{"signaling": {
			StatisticsSnapshot: channel.StatisticsSnapshot{Connects: 2, Disconnects: 1},
			PhysicalBytesTx:    42,
		}},
		Endpoints: map[string]chunk.Snapshot{"viewer": {RxFragments: 7}},
	}
}

func (n *fakeNode) InFlight() map[string][]chunk.TransferInfo {
	return map[string][]chunk.TransferInfo{
		"viewer": {{TransferID: "t-1", Total: 4, Filled: 3}},
	}
}

func (n *fakeNode) RequestScreenshot(ctx context.Context, from string, peer types.PeerIdentity) error {
	if n.fail != nil {
		return n.fail
	}
	if from != "viewer" {
		return fmt.Errorf("%w: %s", shotxfer.ErrUnknownEndpoint, from)
	}
	if err := peer.Validate(); err != nil {
		return err
	}
	n.requests = append(n.requests, peer)
	return nil
}

func newTestServer(t *testing.T) (*Server, *fakeNode, store.Store) {
	t.Helper()
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	node := &fakeNode{}
	return New(node, st, "viewer", nil), node, st
}

func do(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func saveShot(t *testing.T, st store.Store, payload *string) *store.Record {
	t.Helper()
	rec, err := store.NewRecord(types.NewPeerIdentity("desk", ""), payload, time.Now())
	require.NoError(t, err)
	require.NoError(t, st.Save(context.Background(), rec))
	return rec
}

func TestGetStats(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := do(s, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got shotxfer.Statistics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, uint64(42), got.Channels["signaling"].PhysicalBytesTx)
	assert.Equal(t, uint64(7), got.Endpoints["viewer"].RxFragments)
	assert.Equal(t, uint64(2), got.Channels["signaling"].Connects)
	assert.Contains(t, w.Body.String(), `"disconnects":1`)
}

func TestGetTransfers(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := do(s, http.MethodGet, "/api/transfers", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string][]chunk.TransferInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got["viewer"], 1)
	assert.Equal(t, "t-1", got["viewer"][0].TransferID)
	assert.Equal(t, 3, got["viewer"][0].Filled)
}

func TestScreenshots(t *testing.T) {
	s, _, st := newTestServer(t)

	payload := "data:image/png;base64,iVBORw0KGgo="
	shot := saveShot(t, st, &payload)
	failed := saveShot(t, st, nil)

	w := do(s, http.MethodGet, "/api/screenshots", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []store.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, failed.Key, list[0].Key)
	assert.Nil(t, list[1].Payload)

	w = do(s, http.MethodGet, "/api/screenshots?limit=1", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	w = do(s, http.MethodGet, "/api/screenshots?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(s, http.MethodGet, "/api/screenshots/"+shot.Key, "")
	require.Equal(t, http.StatusOK, w.Code)
	var rec store.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	require.NotNil(t, rec.Payload)
	assert.Equal(t, payload, *rec.Payload)

	w = do(s, http.MethodGet, "/api/screenshots/"+shot.Key+"/image", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG\r\n\x1a\n", w.Body.String())

	w = do(s, http.MethodGet, "/api/screenshots/"+failed.Key+"/image", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(s, http.MethodGet, "/api/screenshots/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScreenshotsWithoutStore(t *testing.T) {
	s := New(&fakeNode{}, nil, "viewer", nil)

	w := do(s, http.MethodGet, "/api/screenshots", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequestCapture(t *testing.T) {
	s, node, _ := newTestServer(t)

	w := do(s, http.MethodPost, "/api/peers/desk/capture", `{"address":"10.0.0.9"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, node.requests, 1)
	assert.Equal(t, types.NewPeerIdentity("desk", "10.0.0.9"), node.requests[0])

	w = do(s, http.MethodPost, "/api/peers/desk/capture", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, node.requests, 2)

	w = do(s, http.MethodPost, "/api/peers/desk/capture?from=ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(s, http.MethodPost, "/api/peers/desk/capture", "{bad")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	node.fail = errors.New("channel is closed")
	w = do(s, http.MethodPost, "/api/peers/desk/capture", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}
