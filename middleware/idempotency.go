package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// IdempotencyHeader is the standard HTTP header for idempotency keys
	IdempotencyHeader = "Idempotency-Key"

	// IdempotencyHitHeader marks a response replayed from the cache
	IdempotencyHitHeader = "X-Idempotency-Hit"

	// IdempotencyCacheTTL defines how long responses are cached in Redis
	IdempotencyCacheTTL = 24 * time.Hour

	// LockTimeout prevents indefinite locks if a request crashes
	LockTimeout = 10 * time.Second

	// RedisKeyPrefix for namespacing idempotency keys
	RedisKeyPrefix = "idempotency:"

	// LockKeyPrefix for namespacing distributed locks
	LockKeyPrefix = "lock:"
)

// cachedResponse is what gets stored under an idempotency key.
// Transfers answer 204 with no body, so the status is kept alongside the body.
type cachedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// responseWriterWrapper captures HTTP responses for caching.
// It intercepts both the status code and response body to store in Redis.
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

// WriteHeader captures the HTTP status code before delegating to the underlying writer.
func (rw *responseWriterWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response body while also writing to the client.
func (rw *responseWriterWrapper) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// Idempotency replays the first successful response for a repeated Idempotency-Key.
// Requests without the header are processed normally, so a plain replay is a new transfer.
//
// Flow:
//  1. Extract idempotency key from request headers
//  2. Check Redis cache for existing response
//  3. Acquire distributed lock to prevent race conditions
//  4. Process request if not cached
//  5. Store successful responses in Redis with TTL
func Idempotency(rdb redis.Cmdable) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			idempotencyKey := r.Header.Get(IdempotencyHeader)
			if idempotencyKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			// Scope keys by caller so two users cannot collide on the same key
			scope := idempotencyKey
			if caller, ok := CallerID(ctx); ok {
				scope = caller + ":" + idempotencyKey
			}
			cacheKey := RedisKeyPrefix + scope
			lockKey := LockKeyPrefix + scope

			cached, err := rdb.Get(ctx, cacheKey).Bytes()
			if err == nil {
				var resp cachedResponse
				if err := json.Unmarshal(cached, &resp); err == nil {
					log.Printf("[Idempotency] Cache hit for key: %s", idempotencyKey)
					if resp.ContentType != "" {
						w.Header().Set("Content-Type", resp.ContentType)
					}
					w.Header().Set(IdempotencyHitHeader, "true")
					w.WriteHeader(resp.Status)
					w.Write(resp.Body)
					return
				}
				log.Printf("[Idempotency] Ignoring unreadable cache entry for key: %s", idempotencyKey)
			} else if err != redis.Nil {
				log.Printf("[Idempotency] Cache lookup error: %v", err)
				writeError(w, http.StatusServiceUnavailable, "unavailable", "idempotency cache unavailable")
				return
			}

			acquired, err := rdb.SetNX(ctx, lockKey, "processing", LockTimeout).Result()
			if err != nil {
				log.Printf("[Idempotency] Lock acquisition error: %v", err)
				writeError(w, http.StatusServiceUnavailable, "unavailable", "idempotency cache unavailable")
				return
			}
			if !acquired {
				log.Printf("[Idempotency] Concurrent request detected: %s", idempotencyKey)
				writeError(w, http.StatusConflict, "conflict", "A request with this idempotency key is currently being processed")
				return
			}

			// Release with a fresh context: the request one may already be done
			defer func() {
				if err := rdb.Del(context.WithoutCancel(ctx), lockKey).Err(); err != nil {
					log.Printf("[Idempotency] Failed to release lock: %v", err)
				}
			}()

			wrapper := &responseWriterWrapper{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(wrapper, r)

			// Cache successful responses only (2xx status codes)
			if wrapper.statusCode >= 200 && wrapper.statusCode < 300 {
				payload, _ := json.Marshal(cachedResponse{
					Status:      wrapper.statusCode,
					ContentType: wrapper.Header().Get("Content-Type"),
					Body:        wrapper.body.Bytes(),
				})
				if err := rdb.Set(context.WithoutCancel(ctx), cacheKey, payload, IdempotencyCacheTTL).Err(); err != nil {
					log.Printf("[Idempotency] Failed to cache response: %v", err)
				} else {
					log.Printf("[Idempotency] Cached response for key: %s (TTL: %v)", idempotencyKey, IdempotencyCacheTTL)
				}
			}
		})
	}
}
