package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type askQuestionRequest struct {
	ReceiverHandle string `json:"receiver_handle"`
	Content        string `json:"content"`
	IsPrivate      bool   `json:"is_private"`
}

type replyRequest struct {
	Content string `json:"content"`
}

// askQuestion posts a question to a user's board. Works for both
// authenticated and anonymous callers.
func (s *Server) askQuestion(c echo.Context) error {
	var req askQuestionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	id, err := s.deps.Board.Ask(c.Request().Context(), req.ReceiverHandle, callerIdentity(c), req.Content, req.IsPrivate)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"questionId": id})
}

// questionInbox lists questions on the caller's board. The status query
// parameter filters for "pending" or "answered"; default is everything.
func (s *Server) questionInbox(c echo.Context) error {
	questions, err := s.deps.Board.Inbox(c.Request().Context(), currentUserID(c), c.QueryParam("status"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"questions": questions})
}

// replyToQuestion appends to a question thread. The anonymous asker is
// recognized by fingerprint.
func (s *Server) replyToQuestion(c echo.Context) error {
	var req replyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	id, err := s.deps.Board.Reply(c.Request().Context(), c.Param("id"), callerIdentity(c), req.Content)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"replyId": id})
}

// getQuestion returns a question thread with the caller's standing.
func (s *Server) getQuestion(c echo.Context) error {
	thread, err := s.deps.Board.Thread(c.Request().Context(), c.Param("id"), callerIdentity(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, thread)
}
