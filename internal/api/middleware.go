package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/momo/internal/identity"
	"github.com/momo/internal/question"
)

const (
	userIDKey      = "userID"
	fingerprintKey = "fingerprint"
)

// requireAuth rejects requests without a valid bearer token and stores the
// resolved user id on the context.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
		}
		userID, err := s.deps.Resolver.Resolve(c.Request().Context(), token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
		}
		c.Set(userIDKey, userID)
		return next(c)
	}
}

// optionalAuth resolves a token when one is presented; otherwise it tags the
// caller with a salted fingerprint of their network origin, so an anonymous
// asker can be matched back to their own threads. A token that is present but
// invalid is still rejected.
func (s *Server) optionalAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if token := bearerToken(c); token != "" {
			userID, err := s.deps.Resolver.Resolve(c.Request().Context(), token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or expired token")
			}
			c.Set(userIDKey, userID)
			return next(c)
		}
		// A caller we cannot fingerprint is still served, just as a plain
		// visitor.
		if fp, err := identity.Fingerprint(c.RealIP(), s.deps.IPSalt); err == nil {
			c.Set(fingerprintKey, fp)
		}
		return next(c)
	}
}

func bearerToken(c echo.Context) string {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func currentUserID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}

func callerIdentity(c echo.Context) question.Identity {
	fp, _ := c.Get(fingerprintKey).(string)
	return question.Identity{UserID: currentUserID(c), Fingerprint: fp}
}
