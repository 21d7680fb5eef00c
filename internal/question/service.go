package question

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/momo/internal/identity"
)

// ErrNotFound covers a missing question and, for private threads, a viewer
// without standing; the two are indistinguishable on purpose.
var ErrNotFound = errors.New("question not found or access denied")

// ErrAnonymousPrivate rejects private questions from unauthenticated askers.
var ErrAnonymousPrivate = errors.New("private questions require authentication")

// ValidationError reports malformed or oversized board input.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// Sink is the notification collaborator; see the exchange engine for the
// contract. Fire-and-forget.
type Sink interface {
	Enqueue(ctx context.Context, recipientID, eventType string, payload map[string]any)
}

// Service runs the board: asking, inbox listing, replying, thread reads.
type Service struct {
	pool  *pgxpool.Pool
	users *identity.Users
	sink  Sink
	now   func() time.Time
}

// NewService creates a board service. The sink may be nil.
func NewService(pool *pgxpool.Pool, users *identity.Users, sink Sink) *Service {
	return &Service{
		pool:  pool,
		users: users,
		sink:  sink,
		now:   time.Now,
	}
}

// Ask posts a question to the board owned by receiverHandle. Anonymous
// askers are recorded by fingerprint only; authenticated askers may not ask
// themselves. Private questions require authentication.
func (s *Service) Ask(ctx context.Context, receiverHandle string, asker Identity, content string, isPrivate bool) (string, error) {
	if err := validate(content, MaxQuestionLength); err != nil {
		return "", err
	}
	if isPrivate && asker.Anonymous() {
		return "", ErrAnonymousPrivate
	}

	receiver, err := s.users.ByHandle(ctx, receiverHandle)
	if errors.Is(err, identity.ErrUnresolved) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	if !asker.Anonymous() && asker.UserID == receiver.ID {
		return "", &ValidationError{Reason: "you cannot ask questions to yourself"}
	}

	var askerID, fingerprint *string
	if !asker.Anonymous() {
		askerID = &asker.UserID
	} else if asker.Fingerprint != "" {
		fingerprint = &asker.Fingerprint
	}

	id := uuid.NewString()
	now := s.now().UTC()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO questions (id, receiver_id, asker_id, asker_fingerprint, content, is_private, created_at, last_reply_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, id, receiver.ID, askerID, fingerprint, content, isPrivate, now)
	if err != nil {
		return "", fmt.Errorf("insert question: %w", err)
	}

	s.enqueue(ctx, receiver.ID, EventQuestionReceived, map[string]any{
		"question_id": id,
		"content":     content,
	})
	log.Info().Str("question_id", id).Str("receiver_id", receiver.ID).Bool("anonymous", asker.Anonymous()).Msg("question asked")
	return id, nil
}

// Inbox lists questions on the user's board, newest activity first.
// Filter is "all", "pending" (no reply from the receiver yet) or
// "answered".
func (s *Service) Inbox(ctx context.Context, userID, filter string) ([]Question, error) {
	query := `
		SELECT id, receiver_id, asker_id, asker_fingerprint, content, is_private, created_at, last_reply_at
		FROM questions q
		WHERE receiver_id = $1`
	switch filter {
	case "pending":
		query += ` AND NOT EXISTS (SELECT 1 FROM question_replies r WHERE r.question_id = q.id AND r.sender_id = $1)`
	case "answered":
		query += ` AND EXISTS (SELECT 1 FROM question_replies r WHERE r.question_id = q.id AND r.sender_id = $1)`
	case "", "all":
	default:
		return nil, &ValidationError{Reason: "unknown inbox filter"}
	}
	query += ` ORDER BY last_reply_at DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list inbox: %w", err)
	}
	defer rows.Close()

	var qs []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.ID, &q.ReceiverID, &q.AskerID, &q.AskerFingerprint, &q.Content, &q.IsPrivate, &q.CreatedAt, &q.LastReplyAt); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		qs = append(qs, q)
	}
	return qs, rows.Err()
}

// Reply appends to a question's thread. Allowed for the receiver, the
// authenticated asker, and the anonymous asker whose fingerprint matches.
// The other party is notified.
func (s *Service) Reply(ctx context.Context, questionID string, replier Identity, content string) (string, error) {
	if err := validate(content, MaxReplyLength); err != nil {
		return "", err
	}

	q, err := s.get(ctx, questionID)
	if err != nil {
		return "", err
	}

	perm := ViewerPermission(q, replier)
	if perm == ViewerVisitor {
		return "", ErrNotFound
	}

	var senderID *string
	if !replier.Anonymous() {
		senderID = &replier.UserID
	}

	id := uuid.NewString()
	now := s.now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin reply: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO question_replies (id, question_id, sender_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, questionID, senderID, content, now)
	if err != nil {
		return "", fmt.Errorf("insert reply: %w", err)
	}
	_, err = tx.Exec(ctx, `UPDATE questions SET last_reply_at = $2 WHERE id = $1`, questionID, now)
	if err != nil {
		return "", fmt.Errorf("bump last_reply_at: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit reply: %w", err)
	}

	switch perm {
	case ViewerReceiver:
		// Anonymous askers have no account to notify.
		if q.AskerID != nil {
			s.enqueue(ctx, *q.AskerID, EventQuestionAnswered, map[string]any{
				"question_id": questionID,
				"content":     content,
			})
		}
	case ViewerAsker:
		s.enqueue(ctx, q.ReceiverID, EventQuestionReceived, map[string]any{
			"question_id": questionID,
			"content":     content,
		})
	}
	return id, nil
}

// Thread returns a question with its replies and the caller's permission.
// Private questions are hidden from visitors.
func (s *Service) Thread(ctx context.Context, questionID string, viewer Identity) (*Thread, error) {
	q, err := s.get(ctx, questionID)
	if err != nil {
		return nil, err
	}

	perm := ViewerPermission(q, viewer)
	if q.IsPrivate && perm == ViewerVisitor {
		return nil, ErrNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, question_id, sender_id, content, created_at
		FROM question_replies
		WHERE question_id = $1
		ORDER BY created_at, id
	`, questionID)
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	replies := []Reply{}
	for rows.Next() {
		var r Reply
		if err := rows.Scan(&r.ID, &r.QuestionID, &r.SenderID, &r.Content, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reply: %w", err)
		}
		replies = append(replies, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &Thread{Question: *q, Replies: replies, ViewerPermission: perm}, nil
}

func (s *Service) get(ctx context.Context, id string) (*Question, error) {
	var q Question
	err := s.pool.QueryRow(ctx, `
		SELECT id, receiver_id, asker_id, asker_fingerprint, content, is_private, created_at, last_reply_at
		FROM questions WHERE id = $1
	`, id).Scan(&q.ID, &q.ReceiverID, &q.AskerID, &q.AskerFingerprint, &q.Content, &q.IsPrivate, &q.CreatedAt, &q.LastReplyAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load question: %w", err)
	}
	return &q, nil
}

func (s *Service) enqueue(ctx context.Context, recipientID, eventType string, payload map[string]any) {
	if s.sink == nil {
		return
	}
	s.sink.Enqueue(ctx, recipientID, eventType, payload)
}

func validate(content string, max int) error {
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Reason: "content is empty"}
	}
	if len([]rune(content)) > max {
		return &ValidationError{Reason: "content too long"}
	}
	return nil
}
