package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"avaneesh/shotxfer/pkg/internal/logger"
	"avaneesh/shotxfer/pkg/types"
)

const (
	fieldOriginID   = "origin_id"
	fieldOriginAddr = "origin_address"
	fieldPayload    = "payload"
	fieldFailed     = "failed"
	fieldSize       = "size"
	fieldReceivedAt = "received_at"
)

// listPageSize is the smallest index page List reads at once
const listPageSize = 64

var summaryFields = []string{fieldOriginID, fieldOriginAddr, fieldFailed, fieldSize, fieldReceivedAt}

// RedisStore implements Store with one hash per record and a sorted set,
// scored by arrival time, indexing the keys
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger logger.Logger
}

// RedisOptions configures a RedisStore
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	// Prefix namespaces every key. Default "shotxfer:"
	Prefix string

	// TTL expires records; zero keeps them forever
	TTL time.Duration

	Logger logger.Logger
}

// NewRedisStore connects to Redis and checks the connection
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s: %w", opts.Addr, err)
	}

	return NewRedisStoreWithClient(client, opts.Prefix, opts.TTL, opts.Logger), nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration, log logger.Logger) *RedisStore {
	if prefix == "" {
		prefix = "shotxfer:"
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, logger: log}
}

func (s *RedisStore) recordKey(key string) string {
	return s.prefix + "shot:" + key
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "shots"
}

// Save implements Store
func (s *RedisStore) Save(ctx context.Context, rec *Record) error {
	key := s.recordKey(rec.Key)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, recordHash(rec))
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		pipe.ZAdd(ctx, s.indexKey(), &redis.Z{
			Score:  float64(rec.ReceivedAt.UnixNano()),
			Member: rec.Key,
		})
		return nil
	})
	return err
}

// Get implements Store
func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(key)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return parseRecord(key, fields)
}

// List implements Store. Index entries whose record expired are skipped
// and pruned; the index is read page by page until limit live records are
// found or it runs out.
func (s *RedisStore) List(ctx context.Context, limit int) ([]Record, error) {
	pageSize := int64(listPageSize)
	if limit > listPageSize {
		pageSize = int64(limit)
	}

	records, stale, err := collectLive(limit, pageSize, func(start, stop int64) ([]string, []map[string]string, error) {
		return s.readPage(ctx, start, stop)
	})
	if err != nil {
		return nil, err
	}

	if len(stale) > 0 {
		members := make([]interface{}, len(stale))
		for i, key := range stale {
			members[i] = key
		}
		if err := s.client.ZRem(ctx, s.indexKey(), members...).Err(); err != nil {
			s.logger.Warn("RedisStore: failed to prune %d expired index entries: %v", len(stale), err)
		} else {
			s.logger.Debug("RedisStore: pruned %d expired index entries", len(stale))
		}
	}
	return records, nil
}

// readPage returns the index keys ranked start..stop, newest first, with the
// summary fields of each record. A record that no longer exists has no fields.
func (s *RedisStore) readPage(ctx context.Context, start, stop int64) ([]string, []map[string]string, error) {
	keys, err := s.client.ZRevRange(ctx, s.indexKey(), start, stop).Result()
	if err != nil {
		return nil, nil, err
	}

	cmds := make([]*redis.SliceCmd, len(keys))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HMGet(ctx, s.recordKey(key), summaryFields...)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	fields := make([]map[string]string, len(keys))
	for i, cmd := range cmds {
		vals := cmd.Val()
		fields[i] = make(map[string]string, len(summaryFields))
		for j, name := range summaryFields {
			if str, ok := vals[j].(string); ok {
				fields[i][name] = str
			}
		}
	}
	return keys, fields, nil
}

// pageFunc reads the index ranks start..stop inclusive
type pageFunc func(start, stop int64) ([]string, []map[string]string, error)

// collectLive walks the index in pages of pageSize until limit live records
// are found, or to the end when limit is not positive. Keys without fields
// are returned as stale.
func collectLive(limit int, pageSize int64, page pageFunc) ([]Record, []string, error) {
	records := make([]Record, 0)
	var stale []string

	for start := int64(0); ; start += pageSize {
		keys, fields, err := page(start, start+pageSize-1)
		if err != nil {
			return nil, nil, err
		}

		for i, key := range keys {
			if len(fields[i]) == 0 {
				stale = append(stale, key)
				continue
			}
			rec, err := parseRecord(key, fields[i])
			if err != nil {
				return nil, nil, err
			}
			records = append(records, *rec)
			if limit > 0 && len(records) == limit {
				return records, stale, nil
			}
		}

		if int64(len(keys)) < pageSize {
			return records, stale, nil
		}
	}
}

// Close implements Store
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func recordHash(rec *Record) map[string]interface{} {
	h := map[string]interface{}{
		fieldOriginID:   rec.Origin.ID,
		fieldOriginAddr: rec.Origin.Address,
		fieldFailed:     strconv.FormatBool(rec.Failed),
		fieldSize:       rec.Size,
		fieldReceivedAt: rec.ReceivedAt.UTC().Format(time.RFC3339Nano),
	}
	if rec.Payload != nil {
		h[fieldPayload] = *rec.Payload
	}
	return h
}

// parseRecord rebuilds a record from hash fields; the payload is set only
// when fields carries one
func parseRecord(key string, fields map[string]string) (*Record, error) {
	rec := &Record{
		Key:    key,
		Origin: types.NewPeerIdentity(fields[fieldOriginID], fields[fieldOriginAddr]),
	}

	if v, ok := fields[fieldFailed]; ok {
		failed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("record %s: %s: %w", key, fieldFailed, err)
		}
		rec.Failed = failed
	}
	if v, ok := fields[fieldSize]; ok {
		size, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("record %s: %s: %w", key, fieldSize, err)
		}
		rec.Size = size
	}
	if v, ok := fields[fieldReceivedAt]; ok {
		at, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("record %s: %s: %w", key, fieldReceivedAt, err)
		}
		rec.ReceivedAt = at
	}
	if v, ok := fields[fieldPayload]; ok {
		payload := v
		rec.Payload = &payload
	}
	return rec, nil
}
