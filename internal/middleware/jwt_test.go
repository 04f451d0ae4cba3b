package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

func sign(t *testing.T, method jwt.SigningMethod, key any, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func claimsFor(sub, role string, ttl time.Duration) Claims {
	return Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
}

func authApp() *fiber.App {
	app := fiber.New()
	app.Use(JWTAuth(testSecret))
	app.Get("/me", func(c *fiber.Ctx) error {
		return c.SendString(c.Locals(LocalPartyID).(string))
	})
	app.Get("/admin", RequireRole("admin"), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusNoContent)
	})
	return app
}

func call(t *testing.T, app *fiber.App, path, token string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestJWTAuthAcceptsValidToken(t *testing.T) {
	app := authApp()
	status, body := call(t, app, "/me", sign(t, jwt.SigningMethodHS256, testSecret, claimsFor("party-1", "", time.Hour)))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "party-1", body)
}

func TestJWTAuthRejects(t *testing.T) {
	app := authApp()
	cases := map[string]string{
		"missing":      "",
		"garbage":      "not-a-token",
		"expired":      sign(t, jwt.SigningMethodHS256, testSecret, claimsFor("party-1", "", -time.Minute)),
		"wrong secret": sign(t, jwt.SigningMethodHS256, []byte("other"), claimsFor("party-1", "", time.Hour)),
		"wrong alg":    sign(t, jwt.SigningMethodHS512, testSecret, claimsFor("party-1", "", time.Hour)),
		"no subject":   sign(t, jwt.SigningMethodHS256, testSecret, claimsFor("", "", time.Hour)),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			status, _ := call(t, app, "/me", token)
			assert.Equal(t, http.StatusUnauthorized, status)
		})
	}
}

func TestRequireRole(t *testing.T) {
	app := authApp()
	status, _ := call(t, app, "/admin", sign(t, jwt.SigningMethodHS256, testSecret, claimsFor("party-1", "", time.Hour)))
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = call(t, app, "/admin", sign(t, jwt.SigningMethodHS256, testSecret, claimsFor("ops", "admin", time.Hour)))
	assert.Equal(t, http.StatusNoContent, status)
}
