package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"delivery/internal/logx"
)

const (
	idempotencyHeader = "Idempotency-Key"
	idempotencyTTL    = 24 * time.Hour
	maxIdempotencyKey = 128
)

// ErrResponseNotCached is returned by a ResponseStore on a miss.
var ErrResponseNotCached = errors.New("response not cached")

// CachedResponse is a replayable response.
type CachedResponse struct {
	StatusCode  int             `json:"status_code"`
	Body        json.RawMessage `json:"body"`
	ContentType string          `json:"content_type"`
}

// ResponseStore persists responses by idempotency key.
type ResponseStore interface {
	Get(ctx context.Context, key string) (*CachedResponse, error)
	Set(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error
}

// RedisResponseStore keeps responses in Redis.
type RedisResponseStore struct {
	client redis.Cmdable
}

// NewRedisResponseStore creates a RedisResponseStore.
func NewRedisResponseStore(client redis.Cmdable) *RedisResponseStore {
	return &RedisResponseStore{client: client}
}

// Get implements ResponseStore.
func (s *RedisResponseStore) Get(ctx context.Context, key string) (*CachedResponse, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrResponseNotCached
	}
	if err != nil {
		return nil, err
	}

	var cached CachedResponse
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, err
	}
	return &cached, nil
}

// Set implements ResponseStore.
func (s *RedisResponseStore) Set(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

// responseWriter tees the body so it can be cached.
type responseWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// IdempotencyMiddleware replays the stored response of a mutating request
// that repeats an Idempotency-Key. Keys are scoped by caller, so it must run
// after AuthMiddleware. Store failures degrade to normal processing.
func IdempotencyMiddleware(store ResponseStore, log logx.Logger) gin.HandlerFunc {
	if log == nil {
		log = logx.Nop()
	}
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			c.Next()
			return
		}

		key := c.GetHeader(idempotencyHeader)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxIdempotencyKey {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid_idempotency_key"})
			return
		}

		owner := "anonymous"
		if caller, ok := CallerFrom(c); ok {
			owner = caller.UserID
		}
		ctx := c.Request.Context()
		cacheKey := "idempotency:" + owner + ":" + c.Request.Method + ":" + c.FullPath() + ":" + key

		cached, err := store.Get(ctx, cacheKey)
		switch {
		case err == nil:
			c.Header("Idempotent-Replay", "true")
			c.Data(cached.StatusCode, cached.ContentType, cached.Body)
			c.Abort()
			return
		case !errors.Is(err, ErrResponseNotCached):
			log.Warn("idempotency lookup failed", logx.Err(err))
			c.Next()
			return
		}

		w := &responseWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = w
		c.Next()

		// Server errors are not cached so the client can retry.
		status := c.Writer.Status()
		if status < 200 || status >= 500 {
			return
		}
		resp := &CachedResponse{
			StatusCode:  status,
			Body:        w.body.Bytes(),
			ContentType: c.Writer.Header().Get("Content-Type"),
		}
		if err := store.Set(ctx, cacheKey, resp, idempotencyTTL); err != nil {
			log.Warn("idempotency store failed", logx.Err(err))
		}
	}
}
