package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type createBottleRequest struct {
	Content string `json:"content"`
}

type messageRequest struct {
	Content string `json:"content"`
}

// createBottle throws a new bottle into the pool.
func (s *Server) createBottle(c echo.Context) error {
	var req createBottleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	id, err := s.deps.Engine.CreateBottle(c.Request().Context(), currentUserID(c), req.Content)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"bottleId": id})
}

// pickBottle assigns one random floating bottle to the caller. A 409 means
// the caller already holds a pick; a 404 means the pool had nothing for them
// this attempt.
func (s *Server) pickBottle(c echo.Context) error {
	thread, err := s.deps.Engine.PickBottle(c.Request().Context(), currentUserID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, thread)
}

// releaseBottle returns the caller's picked bottle to the pool.
func (s *Server) releaseBottle(c echo.Context) error {
	err := s.deps.Engine.ReleaseBottle(c.Request().Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "released"})
}

// replyToBottle appends a message to a bottle thread.
func (s *Server) replyToBottle(c echo.Context) error {
	var req messageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	id, err := s.deps.Engine.ReplyToBottle(c.Request().Context(), currentUserID(c), c.Param("id"), req.Content)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"messageId": id})
}

// getBottle returns a bottle with its full thread.
func (s *Server) getBottle(c echo.Context) error {
	thread, err := s.deps.Engine.GetBottleThread(c.Request().Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, thread)
}

// myBottles lists every bottle the caller created or picked.
func (s *Server) myBottles(c echo.Context) error {
	bottles, err := s.deps.Engine.ListUserBottles(c.Request().Context(), currentUserID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"bottles": bottles})
}

// bottleStats reports pool counts by status. Public.
func (s *Server) bottleStats(c echo.Context) error {
	stats, err := s.deps.Engine.Stats(c.Request().Context())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}
