package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ompay/ompay/internal/config"
	"github.com/ompay/ompay/internal/logging"
	"github.com/ompay/ompay/internal/middleware"
)

const testSecret = "server-test-secret"

func devConfig() config.Config {
	return config.Config{
		AppName:           "OMPAY",
		AppEnv:            "development",
		Port:              "0",
		JWTSecret:         testSecret,
		EventsExchange:    "ledger.events",
		NotificationQueue: "notifications.test",
		WarmupSchedule:    "@every 1h",
		OutboxBatchSize:   10,
		OutboxPoll:        20 * time.Millisecond,
		IdempotencyTTL:    time.Minute,
		BalanceCacheTTL:   time.Minute,
		ShutdownPeriod:    time.Second,
	}
}

func token(t *testing.T, subject, role string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func send(t *testing.T, srv *Server, method, path, body, bearer, key string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := srv.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func TestNewRequiresBackendsOutsideDevelopment(t *testing.T) {
	cfg := devConfig()
	cfg.AppEnv = "production"
	_, err := New(cfg, nil, nil, nil, logging.Discard())
	assert.Error(t, err)
}

func TestInMemoryServerEndToEnd(t *testing.T) {
	srv, err := New(devConfig(), nil, nil, nil, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, srv.StartWorkers(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		assert.NoError(t, srv.Shutdown(ctx))
	})

	status, body := send(t, srv, http.MethodGet, "/healthz", "", "", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"postgres": "memory", "redis": "memory", "rabbitmq": "local"}, body["status"])

	status, body = send(t, srv, http.MethodPost, "/api/v1/parties", `{"phone":"+242060000001","full_name":"Alice Mabiala"}`, "", "")
	require.Equal(t, http.StatusCreated, status)
	alice := token(t, body["id"].(string), "")
	admin := token(t, uuid.NewString(), "admin")

	status, _ = send(t, srv, http.MethodGet, "/api/v1/me", "", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = send(t, srv, http.MethodPost, "/api/v1/accounts", `{}`, alice, "open-1")
	require.Equal(t, http.StatusCreated, status)
	accountID := body["id"].(string)
	assert.Equal(t, "inactive", body["status"])

	status, _ = send(t, srv, http.MethodPost, "/api/v1/admin/accounts/"+accountID+"/activate", "", alice, "act-1")
	assert.Equal(t, http.StatusForbidden, status)
	status, body = send(t, srv, http.MethodPost, "/api/v1/admin/accounts/"+accountID+"/activate", "", admin, "act-2")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "active", body["status"])

	base := "/api/v1/accounts/" + accountID
	status, _ = send(t, srv, http.MethodPost, base+"/deposits", `{"amount":"1500"}`, alice, "")
	assert.Equal(t, http.StatusBadRequest, status, "mutations need an idempotency key")

	status, _ = send(t, srv, http.MethodPost, base+"/deposits", `{"amount":"1500"}`, alice, "dep-1")
	require.Equal(t, http.StatusCreated, status)
	status, _ = send(t, srv, http.MethodPost, base+"/withdrawals", `{"amount":"400"}`, alice, "wd-1")
	require.Equal(t, http.StatusCreated, status)

	status, body = send(t, srv, http.MethodGet, base+"/balance", "", alice, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "1100.00", body["balance"])
}
