// Package question implements the public board: questions asked on a
// user's board, authenticated or anonymous, and their reply threads. The
// anonymous side is keyed by a salted fingerprint of the asker's network
// origin so an unauthenticated asker can find their way back to the thread.
package question

import (
	"time"
)

// Notification event types raised by the board.
const (
	EventQuestionReceived = "question_received"
	EventQuestionAnswered = "question_answered"
)

// Content bounds.
const (
	MaxQuestionLength = 500
	MaxReplyLength    = 1000
)

// Viewer permissions on a question thread.
const (
	ViewerReceiver = "receiver"
	ViewerAsker    = "asker"
	ViewerVisitor  = "visitor"
)

// Question is one entry on a user's board.
type Question struct {
	ID               string    `json:"id"`
	ReceiverID       string    `json:"receiver_id"`
	AskerID          *string   `json:"asker_id,omitempty"`
	AskerFingerprint *string   `json:"-"`
	Content          string    `json:"content"`
	IsPrivate        bool      `json:"is_private"`
	CreatedAt        time.Time `json:"created_at"`
	LastReplyAt      time.Time `json:"last_reply_at"`
}

// Reply is one message in a question's thread. SenderID is nil for replies
// by the anonymous asker.
type Reply struct {
	ID         string    `json:"id"`
	QuestionID string    `json:"question_id"`
	SenderID   *string   `json:"sender_id,omitempty"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// Thread is a question with its ordered replies and the caller's standing.
type Thread struct {
	Question
	Replies          []Reply `json:"replies"`
	ViewerPermission string  `json:"viewer_permission"`
}

// Identity is the caller as the board sees them: a resolved user id, a
// fingerprint of their network origin, or neither.
type Identity struct {
	UserID      string
	Fingerprint string
}

// Anonymous reports whether the caller carries no resolved user id.
func (id Identity) Anonymous() bool {
	return id.UserID == ""
}

// ViewerPermission classifies the caller against a question. The receiver
// outranks the asker; an anonymous caller counts as the asker only when
// their fingerprint matches the one recorded at ask time.
func ViewerPermission(q *Question, viewer Identity) string {
	if viewer.UserID != "" && viewer.UserID == q.ReceiverID {
		return ViewerReceiver
	}
	if viewer.UserID != "" && q.AskerID != nil && viewer.UserID == *q.AskerID {
		return ViewerAsker
	}
	if viewer.Anonymous() && q.AskerFingerprint != nil && viewer.Fingerprint != "" &&
		viewer.Fingerprint == *q.AskerFingerprint {
		return ViewerAsker
	}
	return ViewerVisitor
}
