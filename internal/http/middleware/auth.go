package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/shared/apperr"
)

const ctxKeyActor = "actor"

// Actor is the authenticated caller. Tokens are issued by the accounts
// service; this side only verifies them.
type Actor struct {
	ID   string
	Role string
}

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// BearerAuth verifies an HS256 bearer token and stores its subject as the
// current actor.
func BearerAuth(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			Fail(c, apperr.UnauthorizedErr("Authentication required."))
			return
		}

		var claims Claims
		_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil {
			msg := "Invalid token."
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "Token expired."
			}
			Fail(c, apperr.UnauthorizedErr(msg).WithCause(err))
			return
		}
		if claims.Subject == "" {
			Fail(c, apperr.UnauthorizedErr("Invalid token."))
			return
		}

		c.Set(ctxKeyActor, Actor{ID: claims.Subject, Role: claims.Role})
		c.Next()
	}
}

// RequireRole rejects actors whose token carries a different role.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := CurrentActor(c)
		if !ok {
			Fail(c, apperr.UnauthorizedErr("Authentication required."))
			return
		}
		if a.Role != role {
			Fail(c, apperr.ForbiddenErr("Forbidden."))
			return
		}
		c.Next()
	}
}

func CurrentActor(c *gin.Context) (Actor, bool) {
	v, ok := c.Get(ctxKeyActor)
	if !ok {
		return Actor{}, false
	}
	a, ok := v.(Actor)
	return a, ok
}
