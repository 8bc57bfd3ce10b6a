package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// IdempotencyHeader is the client-supplied dedup key for POST requests.
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyRecord is a cached response bound to the hash of the request
// that produced it.
type IdempotencyRecord struct {
	RequestHash string      `json:"request_hash"`
	Status      int         `json:"status"`
	Header      http.Header `json:"header"`
	Body        []byte      `json:"body"`
	StoredAt    time.Time   `json:"stored_at"`
}

// IdempotencyStore persists records for the dedup window. Lookup errors are
// treated as misses by the middleware; storage must never block a response.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (IdempotencyRecord, bool, error)
	Put(ctx context.Context, key string, record IdempotencyRecord) error
}

// MemoryIdempotencyStore is a TTL-bounded in-process store.
type MemoryIdempotencyStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	records map[string]IdempotencyRecord
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryIdempotencyStore{
		ttl:     ttl,
		now:     time.Now,
		records: make(map[string]IdempotencyRecord),
	}
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) (IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[key]
	if !ok {
		return IdempotencyRecord{}, false, nil
	}
	if s.now().Sub(record.StoredAt) > s.ttl {
		delete(s.records, key)
		return IdempotencyRecord{}, false, nil
	}
	return record, true, nil
}

func (s *MemoryIdempotencyStore) Put(_ context.Context, key string, record IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, existing := range s.records {
		if s.now().Sub(existing.StoredAt) > s.ttl {
			delete(s.records, k)
		}
	}
	s.records[key] = record
	return nil
}

// RedisIdempotencyStore shares the dedup window across processes.
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

func (s *RedisIdempotencyStore) redisKey(key string) string {
	return "idem:" + key
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (IdempotencyRecord, bool, error) {
	raw, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err == redis.Nil {
		return IdempotencyRecord{}, false, nil
	}
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	var record IdempotencyRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return IdempotencyRecord{}, false, err
	}
	return record, true, nil
}

func (s *RedisIdempotencyStore) Put(ctx context.Context, key string, record IdempotencyRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.redisKey(key), raw, s.ttl).Err()
}

// RequestHash binds an idempotency key to the exact request it covers.
func RequestHash(method, path, query string, body []byte) string {
	digest := sha256.New()
	fmt.Fprintf(digest, "%s:%s:%s:", method, path, query)
	digest.Write(body)
	return hex.EncodeToString(digest.Sum(nil))
}

// Idempotency replays cached responses for repeated POSTs carrying the same
// Idempotency-Key. Reusing a key with a different request body is answered
// with 409 rather than silently executing a second time.
func Idempotency(store IdempotencyStore, metrics *Metrics, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}

			var body []byte
			if r.Body != nil {
				var err error
				body, err = io.ReadAll(r.Body)
				if err != nil {
					WriteError(w, r, http.StatusBadRequest, CodeBadRequest, "unreadable request body", nil)
					return
				}
				_ = r.Body.Close()
				r.Body = io.NopCloser(bytes.NewReader(body))
			}
			hash := RequestHash(r.Method, r.URL.Path, r.URL.RawQuery, body)

			record, found, err := store.Get(r.Context(), key)
			if err != nil {
				logger.Warn().Err(err).Str("trace_id", TraceID(r.Context())).Msg("idempotency lookup failed, treating as miss")
				found = false
			}
			if found {
				if record.RequestHash != hash {
					metrics.IdempotencyHits.WithLabelValues("conflict").Inc()
					WriteError(w, r, http.StatusConflict, CodeIdempotencyConflict,
						"idempotency key reused with a different request", nil)
					return
				}
				metrics.IdempotencyHits.WithLabelValues("replay").Inc()
				for headerKey, values := range record.Header {
					for _, value := range values {
						w.Header().Add(headerKey, value)
					}
				}
				w.WriteHeader(record.Status)
				_, _ = w.Write(record.Body)
				return
			}

			metrics.IdempotencyHits.WithLabelValues("miss").Inc()
			recorder := newResponseRecorder()
			next.ServeHTTP(recorder, r)

			// 5xx responses are not cached: the client should be able to
			// retry them with the same key.
			if recorder.status < 500 {
				putErr := store.Put(r.Context(), key, IdempotencyRecord{
					RequestHash: hash,
					Status:      recorder.status,
					Header:      recorder.header.Clone(),
					Body:        recorder.body.Bytes(),
					StoredAt:    time.Now(),
				})
				if putErr != nil {
					logger.Warn().Err(putErr).Str("trace_id", TraceID(r.Context())).Msg("idempotency store failed")
				}
			}
			recorder.flush(w)
		})
	}
}
