package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// LocalPartyID holds the authenticated party id.
	LocalPartyID = "party_id"
	// LocalRole holds the role claim of the token, if any.
	LocalRole = "role"
)

// Claims is the token shape issued by the identity provider.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuth verifies HS256 bearer tokens and exposes the subject as the party id.
func JWTAuth(secret []byte) fiber.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("Bearer "):])

		var claims Claims
		token, err := parser.ParseWithClaims(tokenStr, &claims, keyFunc)
		if err != nil || !token.Valid || claims.Subject == "" {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		c.Locals(LocalPartyID, claims.Subject)
		c.Locals(LocalRole, claims.Role)
		return c.Next()
	}
}

// RequireRole rejects callers whose token lacks role. It must run after JWTAuth.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if got, _ := c.Locals(LocalRole).(string); got != role {
			return fiber.NewError(http.StatusForbidden, "forbidden")
		}
		return c.Next()
	}
}
