package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/momo/internal/bottle"
	"github.com/momo/internal/question"
)

// writeError translates domain errors into HTTP responses. Unknown errors
// are logged and answered with a bare 500 so internals never leak.
func writeError(c echo.Context, err error) error {
	var bv *bottle.ValidationError
	if errors.As(err, &bv) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": bv.Reason})
	}
	var qv *question.ValidationError
	if errors.As(err, &qv) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": qv.Reason})
	}

	var conflict *bottle.ConflictError
	if errors.As(err, &conflict) {
		return c.JSON(http.StatusConflict, map[string]string{
			"error":    "you already hold a picked bottle",
			"bottleId": conflict.ExistingBottleID,
		})
	}

	if errors.Is(err, bottle.ErrNotFound) || errors.Is(err, question.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	if errors.Is(err, question.ErrAnonymousPrivate) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": err.Error()})
	}

	var unavailable *bottle.StoreUnavailableError
	if errors.As(err, &unavailable) {
		log.Error().Err(err).Msg("storage unavailable")
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "storage unavailable, try again later"})
	}

	log.Error().Err(err).Msg("unhandled API error")
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"})
}
