// Package middleware provides shared request processing: bearer token
// verification, role enforcement and rate limiting. Tokens are issued by
// the surrounding authentication system; this service only verifies them
// and extracts the participant identity.
package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Context keys populated by JWTAuth.
const (
	CtxUserID   = "user_id"
	CtxRole     = "role"
	CtxUserName = "user_name"
)

// JWTAuth returns an Echo middleware that validates a Bearer access token
// and injects the subject, role and display-name claims into the request
// context. The token is re-validated on every request, including websocket
// upgrade requests, so identity is never trusted from the URL alone.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := bearerToken(c)
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}

			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}

			c.Set(CtxUserID, claims["sub"])
			c.Set(CtxRole, claims["role"])
			c.Set(CtxUserName, claims["name"])
			return next(c)
		}
	}
}

// bearerToken extracts the access token from the Authorization header, or
// from the access_token query parameter as a fallback for browser
// websocket clients that cannot set headers.
func bearerToken(c echo.Context) string {
	auth := c.Request().Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.QueryParam("access_token")
}

// UserID extracts the authenticated user id stored by JWTAuth.
func UserID(c echo.Context) (uint64, bool) {
	switch t := c.Get(CtxUserID).(type) {
	case uint64:
		return t, true
	case int:
		return uint64(t), true
	case int64:
		return uint64(t), true
	case float64:
		return uint64(t), true
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// Role extracts the authenticated role stored by JWTAuth.
func Role(c echo.Context) string {
	if r, ok := c.Get(CtxRole).(string); ok {
		return r
	}
	return ""
}

// UserName extracts the display name stored by JWTAuth.
func UserName(c echo.Context) string {
	if n, ok := c.Get(CtxUserName).(string); ok {
		return n
	}
	return ""
}
