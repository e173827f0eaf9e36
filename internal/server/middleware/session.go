package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type SessionConfig struct {
	Skipper       Skipper
	SessionCookie string
	TokenCookie   string
	// MaxAge of the session cookie; the local cart lives as long.
	MaxAge time.Duration
	Secure bool
}

// Session identifies the storefront session of a request by its session
// cookie, issuing a new one when absent, and extracts the credential the
// request carries from the Authorization header or the token cookie.
func Session(config SessionConfig) echo.MiddlewareFunc {
	if config.Skipper == nil {
		config.Skipper = DefaultSkipper
	}
	parser := jwt.NewParser()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if config.Skipper(c) {
				return next(c)
			}

			sid := ""
			if cookie, err := c.Cookie(config.SessionCookie); err == nil {
				if _, err := uuid.Parse(cookie.Value); err == nil {
					sid = cookie.Value
				}
			}
			if sid == "" {
				sid = uuid.NewString()
				c.SetCookie(&http.Cookie{
					Name:     config.SessionCookie,
					Value:    sid,
					Path:     "/",
					MaxAge:   int(config.MaxAge.Seconds()),
					HttpOnly: true,
					Secure:   config.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			c.Set(SessionIDKey, sid)

			token := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" {
				if cookie, err := c.Cookie(config.TokenCookie); err == nil {
					token = cookie.Value
				}
			}
			if token != "" {
				c.Set(TokenKey, token)
				// the shop backend verifies the token; the claims only label logs
				claims := &jwt.RegisteredClaims{}
				if parsed, _, err := parser.ParseUnverified(token, claims); err == nil {
					c.Set(jwtKey, parsed)
					c.Set(UserIDKey, claims.Subject)
				}
			}

			return next(c)
		}
	}
}

// ClearCredential expires the token cookie after the shop backend rejected it.
func ClearCredential(c echo.Context, config SessionConfig) {
	c.SetCookie(&http.Cookie{
		Name:     config.TokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
