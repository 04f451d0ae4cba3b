package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
	idempotencyPrefix    = "idempotency:v2:"
	inProgressMarker     = "__in_progress__"
	maxIdempotencyKeyLen = 128
	cacheOpTimeout       = 2 * time.Second
)

var errKeyInFlight = fiber.NewError(fiber.StatusConflict, "duplicate request currently processing")

type storedResponse struct {
	Fingerprint string            `json:"fingerprint"`
	Status      int               `json:"status"`
	Body        string            `json:"body"`
	Headers     map[string]string `json:"headers"`
}

type responseStore struct {
	cache  *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func (s responseStore) lookup(key string) (storedResponse, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()

	raw, err := s.cache.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return storedResponse{}, false, nil
	}
	if err != nil {
		s.logger.Error("idempotency lookup failed", "key", key, "error", err)
		return storedResponse{}, false, fiber.NewError(fiber.StatusInternalServerError, "idempotency store failure")
	}
	if raw == inProgressMarker {
		return storedResponse{}, false, errKeyInFlight
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		s.logger.Warn("undecodable idempotent response", "key", key, "error", err)
		return storedResponse{}, false, fiber.NewError(fiber.StatusConflict, "duplicate request")
	}
	return stored, true, nil
}

func (s responseStore) reserve(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()

	ok, err := s.cache.SetNX(ctx, key, inProgressMarker, s.ttl).Result()
	if err != nil {
		s.logger.Error("idempotency reservation failed", "key", key, "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "idempotency reservation failure")
	}
	if !ok {
		return errKeyInFlight
	}
	return nil
}

func (s responseStore) save(key string, resp storedResponse) {
	payload, err := json.Marshal(resp)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
		defer cancel()
		err = s.cache.Set(ctx, key, payload, s.ttl).Err()
	}
	if err != nil {
		s.logger.Error("failed to persist idempotent response", "key", key, "error", err)
		s.release(key)
	}
}

func (s responseStore) release(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), cacheOpTimeout)
	defer cancel()
	if err := s.cache.Del(ctx, key).Err(); err != nil {
		s.logger.Warn("failed to release idempotency key", "key", key, "error", err)
	}
}

func fingerprint(c *fiber.Ctx) string {
	h := sha256.New()
	h.Write([]byte(c.Method()))
	h.Write([]byte(c.Path()))
	h.Write(c.Body())
	return hex.EncodeToString(h.Sum(nil))
}

// Idempotency requires an Idempotency-Key on unsafe methods and replays the
// first response stored in Redis for the same caller and key. A key reused
// with a different request is rejected. With a nil cache only the header is
// enforced; the ledger still rejects replayed postings.
func Idempotency(cache *redis.Client, ttl time.Duration, logger *slog.Logger) fiber.Handler {
	store := responseStore{cache: cache, ttl: ttl, logger: logger}

	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}

		key := strings.TrimSpace(c.Get(idempotencyKeyHeader))
		switch {
		case key == "":
			return fiber.NewError(fiber.StatusBadRequest, "missing Idempotency-Key header")
		case len(key) > maxIdempotencyKeyLen:
			return fiber.NewError(fiber.StatusBadRequest, "Idempotency-Key too long")
		case cache == nil:
			return c.Next()
		}

		caller, _ := c.Locals(LocalPartyID).(string)
		cacheKey := idempotencyPrefix + caller + ":" + key
		fp := fingerprint(c)

		stored, found, err := store.lookup(cacheKey)
		if err != nil {
			return err
		}
		if found {
			if stored.Fingerprint != "" && stored.Fingerprint != fp {
				return fiber.NewError(fiber.StatusUnprocessableEntity, "Idempotency-Key reused with a different request")
			}
			for header, value := range stored.Headers {
				if strings.EqualFold(header, fiber.HeaderContentLength) || strings.EqualFold(header, requestIDHeader) {
					continue
				}
				c.Set(header, value)
			}
			c.Set(replayedHeader, "true")
			return c.Status(stored.Status).SendString(stored.Body)
		}

		if err := store.reserve(cacheKey); err != nil {
			return err
		}
		if err := c.Next(); err != nil {
			store.release(cacheKey)
			return err
		}
		// Server faults stay retryable.
		if c.Response().StatusCode() >= fiber.StatusInternalServerError {
			store.release(cacheKey)
			return nil
		}

		resp := storedResponse{
			Fingerprint: fp,
			Status:      c.Response().StatusCode(),
			Body:        string(c.Response().Body()),
			Headers:     map[string]string{},
		}
		c.Response().Header.VisitAll(func(k, v []byte) {
			resp.Headers[string(k)] = string(v)
		})
		store.save(cacheKey, resp)
		return nil
	}
}
