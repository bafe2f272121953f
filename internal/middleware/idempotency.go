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
	"github.com/rs/zerolog/log"
)

const (
	idempotencyHeader    = "Idempotency-Key"
	idempotencyKeyPrefix = "dispatch:idempotency:"
	idempotencyTTL       = 24 * time.Hour
)

// storedResponse is the replayable response for a seen idempotency key.
type storedResponse struct {
	StatusCode  int             `json:"status_code"`
	ContentType string          `json:"content_type"`
	Body        json.RawMessage `json:"body"`
}

// captureWriter tees the response body so it can be stored for replay.
type captureWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// Idempotency replays the stored response for mutating requests that carry a
// previously seen Idempotency-Key. Store errors fail open: the request runs,
// it just loses replay protection.
func Idempotency(client *redis.Client) gin.HandlerFunc {
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

		ctx := c.Request.Context()
		cacheKey := idempotencyKeyPrefix + key

		stored, err := loadResponse(ctx, client, cacheKey)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("idempotency lookup failed")
			c.Next()
			return
		}
		if stored != nil {
			c.Data(stored.StatusCode, stored.ContentType, stored.Body)
			c.Abort()
			return
		}

		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w

		c.Next()

		// 5xx responses are not replayable; the client should retry.
		status := c.Writer.Status()
		if status >= 200 && status < 500 {
			if err := storeResponse(ctx, client, cacheKey, &storedResponse{
				StatusCode:  status,
				ContentType: c.Writer.Header().Get("Content-Type"),
				Body:        w.body.Bytes(),
			}); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("idempotency store failed")
			}
		}
	}
}

func loadResponse(ctx context.Context, client *redis.Client, key string) (*storedResponse, error) {
	data, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var stored storedResponse
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

func storeResponse(ctx context.Context, client *redis.Client, key string, resp *storedResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, data, idempotencyTTL).Err()
}
