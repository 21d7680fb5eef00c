package bottle

import (
	"context"
	"time"
)

// Status is the lifecycle state of a bottle. The machine is cyclic:
// picked/replied bottles return to floating on release or lease expiry.
type Status string

const (
	StatusFloating Status = "floating"
	StatusPicked   Status = "picked"
	StatusReplied  Status = "replied"
)

// EventBottleReplied is the notification event type queued when a
// participant posts into a bottle thread.
const EventBottleReplied = "bottle_replied"

// Bottle is a floating message thread matched anonymously between its
// creator and at most one picker at a time.
type Bottle struct {
	ID        string     `json:"id"`
	CreatorID string     `json:"creator_id"`
	PickerID  *string    `json:"picker_id,omitempty"`
	Status    Status     `json:"status"`
	PickedAt  *time.Time `json:"picked_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Message is one entry in a bottle's thread, ordered by creation time.
// Messages are append-only and never edited or deleted.
type Message struct {
	ID        string    `json:"id"`
	BottleID  string    `json:"bottle_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// BottleWithThread is a bottle together with its full ordered thread.
type BottleWithThread struct {
	Bottle
	Messages []Message `json:"messages"`
}

// PoolStats are aggregate counts over the whole pool.
type PoolStats struct {
	Floating int `json:"floating_count"`
	Picked   int `json:"picked_count"`
	Replied  int `json:"replied_count"`
	Total    int `json:"total_count"`
}

// Store is the durable record of bottles and their threads. The engine is
// its only writer. Every invariant-bearing mutation is a conditional update
// that reports whether the row still matched the expected prior state, so
// concurrent callers either win or fail cleanly.
type Store interface {
	// InsertBottle persists a new floating bottle and its first message.
	InsertBottle(ctx context.Context, b *Bottle, first *Message) error

	// GetBottle returns the bottle or ErrNotFound.
	GetBottle(ctx context.Context, id string) (*Bottle, error)

	// ActivePick returns the id of the bottle currently held by userID in
	// picked state, or "" if the user holds none.
	ActivePick(ctx context.Context, userID string) (string, error)

	// RandomFloating returns one bottle chosen uniformly at random among
	// floating bottles not created by excludeCreatorID, or ErrNotFound.
	RandomFloating(ctx context.Context, excludeCreatorID string) (*Bottle, error)

	// ClaimBottle transitions bottleID from floating to picked by pickerID.
	// The guard covers, in one atomic update: the bottle is still floating,
	// it was not created by pickerID, and pickerID holds no other picked
	// bottle. Returns false when the guard no longer matches.
	ClaimBottle(ctx context.Context, bottleID, pickerID string, pickedAt time.Time) (bool, error)

	// ReleaseBottle returns a picked bottle to floating, clearing picker and
	// pickedAt, if it is still held by pickerID in picked state.
	ReleaseBottle(ctx context.Context, bottleID, pickerID string) (bool, error)

	// MarkReplied transitions picked -> replied if the bottle is still
	// picked by pickerID.
	MarkReplied(ctx context.Context, bottleID, pickerID string) (bool, error)

	// InsertMessage appends a message to a bottle's thread.
	InsertMessage(ctx context.Context, m *Message) error

	// Messages returns a bottle's thread in creation order.
	Messages(ctx context.Context, bottleID string) ([]Message, error)

	// ExpiredPicks returns ids of bottles in picked state whose pickedAt is
	// strictly before cutoff.
	ExpiredPicks(ctx context.Context, cutoff time.Time) ([]string, error)

	// ReclaimBottle returns an expired pick to floating if the bottle is
	// still picked and its pickedAt is still before cutoff.
	ReclaimBottle(ctx context.Context, bottleID string, cutoff time.Time) (bool, error)

	// UserBottles lists bottles the user created or picked, newest first.
	UserBottles(ctx context.Context, userID string) ([]Bottle, error)

	// PoolStats counts bottles by status.
	PoolStats(ctx context.Context) (*PoolStats, error)
}

// Sink accepts fire-and-forget notification requests keyed by recipient and
// event type. Delivery, retries and failures are the sink's concern and are
// never surfaced to the engine's caller.
type Sink interface {
	Enqueue(ctx context.Context, recipientID, eventType string, payload map[string]any)
}
