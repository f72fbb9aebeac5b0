package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"avaneesh/shotxfer/pkg/endpoint"
	"avaneesh/shotxfer/pkg/types"
)

var desk = types.NewPeerIdentity("desk", "192.168.1.20")

func strPtr(s string) *string { return &s }

func openBolt(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "shots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewRecord(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rec, err := NewRecord(desk, strPtr("abc"), at)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Key)
	assert.Equal(t, 3, rec.Size)
	assert.False(t, rec.Failed)
	assert.Equal(t, at, rec.ReceivedAt)

	failed, err := NewRecord(desk, nil, at)
	require.NoError(t, err)
	assert.True(t, failed.Failed)
	assert.Zero(t, failed.Size)
	assert.NotEqual(t, rec.Key, failed.Key)
}

func TestBoltStoreSaveGet(t *testing.T) {
	s := openBolt(t)
	ctx := context.Background()

	rec, err := NewRecord(desk, strPtr("data:image/png;base64,AAAA"), time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, rec))

	got, err := s.Get(ctx, rec.Key)
	require.NoError(t, err)
	require.NotNil(t, got.Payload)
	assert.Equal(t, *rec.Payload, *got.Payload)
	assert.Equal(t, desk, got.Origin)
	assert.True(t, rec.ReceivedAt.Equal(got.ReceivedAt))

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoltStoreListNewestFirst(t *testing.T) {
	s := openBolt(t)
	ctx := context.Background()

	var keys []string
	for i := 0; i < 5; i++ {
		rec, err := NewRecord(desk, strPtr(fmt.Sprintf("shot-%d", i)), time.Now())
		require.NoError(t, err)
		require.NoError(t, s.Save(ctx, rec))
		keys = append(keys, rec.Key)
	}

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, rec := range all {
		assert.Equal(t, keys[len(keys)-1-i], rec.Key)
		assert.Nil(t, rec.Payload, "list omits payloads")
		assert.Equal(t, 6, rec.Size)
	}

	some, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, keys[4], some[0].Key)
}

func TestBoltStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shots.db")
	ctx := context.Background()

	s, err := NewBoltStore(path)
	require.NoError(t, err)
	rec, err := NewRecord(desk, nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, rec))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, rec.Key)
	require.NoError(t, err)
	assert.True(t, got.Failed)
	assert.Nil(t, got.Payload)
}

func TestRecorderSavesAndChains(t *testing.T) {
	s := openBolt(t)

	var forwarded []*string
	next := endpoint.HandlerFunc(func(origin types.PeerIdentity, payload *string) {
		forwarded = append(forwarded, payload)
	})

	r := NewRecorder(s, next, nil)
	r.OnScreenshot(desk, strPtr("one"))
	r.OnScreenshot(desk, nil)

	require.Len(t, forwarded, 2)
	assert.Nil(t, forwarded[1])

	recs, err := s.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].Failed)
	assert.False(t, recs[1].Failed)
}

func TestRecorderForwardsWhenSaveFails(t *testing.T) {
	s := openBolt(t)
	require.NoError(t, s.Close())

	called := false
	r := NewRecorder(s, endpoint.HandlerFunc(func(types.PeerIdentity, *string) { called = true }), nil)
	r.OnScreenshot(desk, strPtr("x"))
	assert.True(t, called)
}

func TestRedisRecordFields(t *testing.T) {
	rec, err := NewRecord(desk, strPtr("payload"), time.Date(2024, 5, 1, 12, 0, 0, 5, time.UTC))
	require.NoError(t, err)

	// Redis returns every hash field as a string
	fields := make(map[string]string)
	for k, v := range recordHash(rec) {
		fields[k] = fmt.Sprint(v)
	}

	got, err := parseRecord(rec.Key, fields)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	failed, err := NewRecord(desk, nil, time.Now())
	require.NoError(t, err)
	_, hasPayload := recordHash(failed)[fieldPayload]
	assert.False(t, hasPayload)

	_, err = parseRecord("k", map[string]string{fieldSize: "big"})
	assert.Error(t, err)
}

// fakeIndex serves index pages from memory; an entry without fields is an expired record
type fakeIndex struct {
	keys   []string
	fields []map[string]string
	reads  int
}

func (f *fakeIndex) page(start, stop int64) ([]string, []map[string]string, error) {
	f.reads++
	if start >= int64(len(f.keys)) {
		return nil, nil, nil
	}
	if stop >= int64(len(f.keys)) {
		stop = int64(len(f.keys)) - 1
	}
	return f.keys[start : stop+1], f.fields[start : stop+1], nil
}

func newFakeIndex(t *testing.T, live []bool) *fakeIndex {
	t.Helper()
	f := &fakeIndex{}
	for i, ok := range live {
		key := fmt.Sprintf("k%02d", i)
		f.keys = append(f.keys, key)
		if !ok {
			f.fields = append(f.fields, map[string]string{})
			continue
		}
		rec, err := NewRecord(desk, strPtr(key), time.Unix(int64(100-i), 0))
		require.NoError(t, err)
		fields := make(map[string]string)
		for k, v := range recordHash(rec) {
			if k != fieldPayload {
				fields[k] = fmt.Sprint(v)
			}
		}
		f.fields = append(f.fields, fields)
	}
	return f
}

func TestRedisListSkipsExpiredEntries(t *testing.T) {
	// Newest first: two expired entries ahead of the live ones
	idx := newFakeIndex(t, []bool{false, true, false, true, true, true})

	records, stale, err := collectLive(3, 2, idx.page)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"k01", "k03", "k04"}, []string{records[0].Key, records[1].Key, records[2].Key})
	assert.Equal(t, []string{"k00", "k02"}, stale)
	assert.Equal(t, 3, idx.reads)
}

func TestRedisListWalksWholeIndex(t *testing.T) {
	idx := newFakeIndex(t, []bool{true, false, true, false, false})

	records, stale, err := collectLive(0, 2, idx.page)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, []string{"k01", "k03", "k04"}, stale)

	// Fewer live records than asked for
	idx = newFakeIndex(t, []bool{false, true})
	records, _, err = collectLive(5, 4, idx.page)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 1, idx.reads)

	empty := &fakeIndex{}
	records, stale, err = collectLive(3, 2, empty.page)
	require.NoError(t, err)
	assert.NotNil(t, records)
	assert.Empty(t, records)
	assert.Empty(t, stale)
}

func TestRedisListStopsOnReadError(t *testing.T) {
	boom := errors.New("connection reset")
	_, _, err := collectLive(1, 2, func(int64, int64) ([]string, []map[string]string, error) {
		return nil, nil, boom
	})
	assert.ErrorIs(t, err, boom)
}

// TestRedisStore runs against a live server named by SHOTXFER_TEST_REDIS
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("SHOTXFER_TEST_REDIS")
	if addr == "" {
		t.Skip("SHOTXFER_TEST_REDIS not set")
	}

	ctx := context.Background()
	prefix := fmt.Sprintf("shotxfer-test-%d:", time.Now().UnixNano())
	s, err := NewRedisStore(ctx, RedisOptions{Addr: addr, Prefix: prefix})
	require.NoError(t, err)
	defer s.Close()

	first, err := NewRecord(desk, strPtr("first"), time.Now())
	require.NoError(t, err)
	second, err := NewRecord(desk, nil, time.Now().Add(time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, first))
	require.NoError(t, s.Save(ctx, second))
	defer s.client.Del(ctx, s.indexKey(), s.recordKey(first.Key), s.recordKey(second.Key))

	got, err := s.Get(ctx, first.Key)
	require.NoError(t, err)
	require.NotNil(t, got.Payload)
	assert.Equal(t, "first", *got.Payload)

	list, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.Key, list[0].Key)
	assert.True(t, list[0].Failed)
	assert.Nil(t, list[1].Payload)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// An index entry whose record expired does not use up the limit
	require.NoError(t, s.client.ZAdd(ctx, s.indexKey(), &redis.Z{
		Score:  float64(time.Now().Add(time.Hour).UnixNano()),
		Member: "expired",
	}).Err())
	list, err = s.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, second.Key, list[0].Key)

	score := s.client.ZScore(ctx, s.indexKey(), "expired")
	assert.ErrorIs(t, score.Err(), redis.Nil)
}
