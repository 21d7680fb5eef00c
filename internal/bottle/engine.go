package bottle

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/momo/internal/metrics"
)

// MaxContentLength bounds the content of a single bottle message.
const MaxContentLength = 500

// DefaultLeaseDuration is the maximum time a picker may hold a bottle
// unanswered before the sweep returns it to the pool.
const DefaultLeaseDuration = 12 * time.Hour

// Engine enforces the bottle lifecycle state machine: exclusivity (at most
// one active pick per user), no self-pick, uniform random selection over the
// eligible pool, and lease-based reclamation. All state lives in the Store;
// the engine itself is stateless and safe for concurrent use.
type Engine struct {
	store Store
	sink  Sink
	now   func() time.Time
}

// NewEngine creates an engine over the given store. The sink may be nil,
// in which case reply notifications are skipped.
func NewEngine(store Store, sink Sink) *Engine {
	return &Engine{
		store: store,
		sink:  sink,
		now:   time.Now,
	}
}

// CreateBottle throws a new bottle into the pool with its first message.
// There is no exclusivity constraint on creation: a user may own any number
// of floating bottles at once.
func (e *Engine) CreateBottle(ctx context.Context, creatorID, content string) (string, error) {
	if err := validateContent(content, MaxContentLength); err != nil {
		return "", err
	}

	now := e.now().UTC()
	b := &Bottle{
		ID:        uuid.NewString(),
		CreatorID: creatorID,
		Status:    StatusFloating,
		CreatedAt: now,
	}
	first := &Message{
		ID:        uuid.NewString(),
		BottleID:  b.ID,
		SenderID:  creatorID,
		Content:   content,
		CreatedAt: now,
	}

	if err := e.store.InsertBottle(ctx, b, first); err != nil {
		return "", err
	}

	metrics.BottlesCreated.Inc()
	log.Info().Str("bottle_id", b.ID).Str("creator_id", creatorID).Msg("bottle created")
	return b.ID, nil
}

// PickBottle assigns one floating bottle, chosen uniformly at random among
// those not created by userID, to userID. Returns ConflictError with the
// existing bottle id if the user already holds an active pick, and
// ErrNotFound if no eligible bottle exists or the chosen one was claimed by
// a concurrent picker first (retrying is safe: eligibility is re-evaluated
// fresh each attempt).
func (e *Engine) PickBottle(ctx context.Context, userID string) (*BottleWithThread, error) {
	existing, err := e.store.ActivePick(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing != "" {
		return nil, &ConflictError{ExistingBottleID: existing}
	}

	candidate, err := e.store.RandomFloating(ctx, userID)
	if err != nil {
		return nil, err
	}

	claimed, err := e.store.ClaimBottle(ctx, candidate.ID, userID, e.now().UTC())
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Lost the race to another picker; treated as no eligible bottle
		// found this attempt.
		return nil, ErrNotFound
	}

	metrics.BottlesPicked.Inc()
	log.Info().Str("bottle_id", candidate.ID).Str("picker_id", userID).Msg("bottle picked")
	return e.thread(ctx, candidate.ID)
}

// ReleaseBottle returns a picked bottle to the pool. Only the current
// picker may release, and only while the bottle is still picked; a second
// release of the same bottle fails with ErrNotFound.
func (e *Engine) ReleaseBottle(ctx context.Context, userID, bottleID string) error {
	ok, err := e.store.ReleaseBottle(ctx, bottleID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	log.Info().Str("bottle_id", bottleID).Str("picker_id", userID).Msg("bottle released")
	return nil
}

// ReplyToBottle appends a message to the thread. Only the creator or the
// current picker may reply. A first reply by the picker moves the bottle
// from picked to replied; the other party is notified.
func (e *Engine) ReplyToBottle(ctx context.Context, userID, bottleID, content string) (string, error) {
	if err := validateContent(content, MaxContentLength); err != nil {
		return "", err
	}

	b, err := e.store.GetBottle(ctx, bottleID)
	if err != nil {
		return "", err
	}
	if !isParticipant(b, userID) {
		return "", ErrNotFound
	}

	m := &Message{
		ID:        uuid.NewString(),
		BottleID:  bottleID,
		SenderID:  userID,
		Content:   content,
		CreatedAt: e.now().UTC(),
	}
	if err := e.store.InsertMessage(ctx, m); err != nil {
		return "", err
	}

	if b.Status == StatusPicked && b.PickerID != nil && *b.PickerID == userID {
		// The transition is conditional on the bottle still being picked by
		// this user; losing that race to the sweep leaves the message in
		// place and the bottle floating, which is fine.
		if _, err := e.store.MarkReplied(ctx, bottleID, userID); err != nil {
			return "", err
		}
	}

	e.notifyOtherParty(ctx, b, userID, content)
	return m.ID, nil
}

// GetBottleThread returns the bottle and its full thread. Read-only;
// restricted to the creator and the current picker.
func (e *Engine) GetBottleThread(ctx context.Context, userID, bottleID string) (*BottleWithThread, error) {
	b, err := e.store.GetBottle(ctx, bottleID)
	if err != nil {
		return nil, err
	}
	if !isParticipant(b, userID) {
		return nil, ErrNotFound
	}
	return e.thread(ctx, bottleID)
}

// ReclaimExpired returns every bottle whose lease ran out to the floating
// pool and reports how many were reclaimed. Each expired row is reclaimed
// with its own conditional update: a row that fails (or was concurrently
// released or replied to) is logged and skipped, never blocking the rest of
// the batch. Invoked only by the scheduler.
func (e *Engine) ReclaimExpired(ctx context.Context, now time.Time, lease time.Duration) (int, error) {
	cutoff := now.Add(-lease)

	ids, err := e.store.ExpiredPicks(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for _, id := range ids {
		ok, err := e.store.ReclaimBottle(ctx, id, cutoff)
		if err != nil {
			log.Warn().Err(err).Str("bottle_id", id).Msg("reclaim failed, skipping")
			continue
		}
		if ok {
			reclaimed++
		}
	}

	if reclaimed > 0 {
		metrics.BottlesReclaimed.Add(float64(reclaimed))
		log.Info().Int("reclaimed", reclaimed).Time("cutoff", cutoff).Msg("expired bottles reclaimed")
	}
	return reclaimed, nil
}

// ListUserBottles returns every bottle the user created or picked, newest
// first.
func (e *Engine) ListUserBottles(ctx context.Context, userID string) ([]Bottle, error) {
	return e.store.UserBottles(ctx, userID)
}

// Stats returns pool counts by status.
func (e *Engine) Stats(ctx context.Context) (*PoolStats, error) {
	return e.store.PoolStats(ctx)
}

func (e *Engine) thread(ctx context.Context, bottleID string) (*BottleWithThread, error) {
	b, err := e.store.GetBottle(ctx, bottleID)
	if err != nil {
		return nil, err
	}
	msgs, err := e.store.Messages(ctx, bottleID)
	if err != nil {
		return nil, err
	}
	return &BottleWithThread{Bottle: *b, Messages: msgs}, nil
}

func (e *Engine) notifyOtherParty(ctx context.Context, b *Bottle, senderID, content string) {
	if e.sink == nil {
		return
	}
	var recipient string
	switch {
	case b.CreatorID != senderID:
		recipient = b.CreatorID
	case b.PickerID != nil && *b.PickerID != senderID:
		recipient = *b.PickerID
	default:
		return
	}
	e.sink.Enqueue(ctx, recipient, EventBottleReplied, map[string]any{
		"bottle_id": b.ID,
		"content":   content,
	})
}

func isParticipant(b *Bottle, userID string) bool {
	if b.CreatorID == userID {
		return true
	}
	return b.PickerID != nil && *b.PickerID == userID
}

func validateContent(content string, max int) error {
	if strings.TrimSpace(content) == "" {
		return &ValidationError{Reason: "content is empty"}
	}
	if len([]rune(content)) > max {
		return &ValidationError{Reason: "content too long"}
	}
	return nil
}
