package bottle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedNotification struct {
	RecipientID string
	EventType   string
	Payload     map[string]any
}

// recordingSink captures enqueued notifications for assertions.
type recordingSink struct {
	mu    sync.Mutex
	calls []recordedNotification
}

func (s *recordingSink) Enqueue(ctx context.Context, recipientID, eventType string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, recordedNotification{recipientID, eventType, payload})
}

func (s *recordingSink) recorded() []recordedNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedNotification(nil), s.calls...)
}

func newTestEngine(t *testing.T) (*Engine, *MemStore, *recordingSink) {
	t.Helper()
	store := NewMemStore()
	sink := &recordingSink{}
	return NewEngine(store, sink), store, sink
}

func TestCreateBottle_Validation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateBottle(ctx, "alice", "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = e.CreateBottle(ctx, "alice", "   ")
	require.ErrorAs(t, err, &verr)

	long := make([]rune, MaxContentLength+1)
	for i := range long {
		long[i] = 'x'
	}
	_, err = e.CreateBottle(ctx, "alice", string(long))
	require.ErrorAs(t, err, &verr)

	id, err := e.CreateBottle(ctx, "alice", "hello")
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestCreateBottle_NoExclusivityOnCreation(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	// A user holding an active pick can still throw new bottles.
	_, err := e.CreateBottle(ctx, "alice", "first")
	require.NoError(t, err)
	_, err = e.PickBottle(ctx, "bob")
	require.NoError(t, err)

	_, err = e.CreateBottle(ctx, "bob", "from the holder")
	require.NoError(t, err)
	_, err = e.CreateBottle(ctx, "bob", "and another")
	require.NoError(t, err)
}

func TestPickReleaseCycle(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	b1, err := e.CreateBottle(ctx, "alice", "hello")
	require.NoError(t, err)

	got, err := e.PickBottle(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, b1, got.ID)
	assert.Equal(t, StatusPicked, got.Status)
	require.NotNil(t, got.PickerID)
	assert.Equal(t, "bob", *got.PickerID)
	assert.NotNil(t, got.PickedAt)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Content)

	require.NoError(t, e.ReleaseBottle(ctx, "bob", b1))

	b, err := store.GetBottle(ctx, b1)
	require.NoError(t, err)
	assert.Equal(t, StatusFloating, b.Status)
	assert.Nil(t, b.PickerID)
	assert.Nil(t, b.PickedAt)
}

func TestPick_ConflictReturnsExistingBottle(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreateBottle(ctx, "alice", "one")
	require.NoError(t, err)
	_, err = e.CreateBottle(ctx, "carol", "two")
	require.NoError(t, err)

	first, err := e.PickBottle(ctx, "bob")
	require.NoError(t, err)

	_, err = e.PickBottle(ctx, "bob")
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.ID, conflict.ExistingBottleID)
}

func TestPick_NoSelfPick(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	// The sole eligible bottle is the requester's own: must be NotFound,
	// never a self-assignment.
	_, err := e.CreateBottle(ctx, "alice", "mine")
	require.NoError(t, err)

	_, err = e.PickBottle(ctx, "alice")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPick_EmptyPool(t *testing.T) {
	e, _, _ := newTestEngine(t)

	_, err := e.PickBottle(context.Background(), "bob")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRelease_NotIdempotent(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	b1, err := e.CreateBottle(ctx, "alice", "hello")
	require.NoError(t, err)
	_, err = e.PickBottle(ctx, "bob")
	require.NoError(t, err)

	require.NoError(t, e.ReleaseBottle(ctx, "bob", b1))
	require.ErrorIs(t, e.ReleaseBottle(ctx, "bob", b1), ErrNotFound)
}

func TestRelease_OnlyHolder(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	b1, err := e.CreateBottle(ctx, "alice", "hello")
	require.NoError(t, err)
	_, err = e.PickBottle(ctx, "bob")
	require.NoError(t, err)

	// Neither the creator nor a stranger may release.
	require.ErrorIs(t, e.ReleaseBottle(ctx, "alice", b1), ErrNotFound)
	require.ErrorIs(t, e.ReleaseBottle(ctx, "mallory", b1), ErrNotFound)
}

func TestReply_Transitions(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	b1, err := e.CreateBottle(ctx, "alice", "hello")
	require.NoError(t, err)
	_, err = e.PickBottle(ctx, "bob")
	require.NoError(t, err)

	// Picker's reply moves picked -> replied.
	_, err = e.ReplyToBottle(ctx, "bob", b1, "hi back")
	require.NoError(t, err)
	b, err := store.GetBottle(ctx, b1)
	require.NoError(t, err)
	assert.Equal(t, StatusReplied, b.Status)

	// Further replies by either party leave it replied.
	_, err = e.ReplyToBottle(ctx, "alice", b1, "nice to meet you")
	require.NoError(t, err)
	_, err = e.ReplyToBottle(ctx, "bob", b1, "likewise")
	require.NoError(t, err)
	b, err = store.GetBottle(ctx, b1)
	require.NoError(t, err)
	assert.Equal(t, StatusReplied, b.Status)

	// Non-participants are rejected without leaking existence.
	_, err = e.ReplyToBottle(ctx, "mallory", b1, "let me in")
	require.ErrorIs(t, err, ErrNotFound)

	msgs, err := store.Messages(ctx, b1)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
}

func TestReply_CreatorDoesNotAdvanceStatus(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	b1, err := e.CreateBottle(ctx, "alice", "hello")
	require.NoError(t, err)
	_, err = e.PickBottle(ctx, "bob")
	require.NoError(t, err)

	// A creator reply while the bottle is merely picked leaves it picked.
	_, err = e.ReplyToBottle(ctx, "alice", b1, "anyone there?")
	require.NoError(t, err)
	b, err := store.GetBottle(ctx, b1)
	require.NoError(t, err)
	assert.Equal(t, StatusPicked, b.Status)
}

func TestReply_NotifiesOtherPartyOnly(t *testing.T) {
	e, _, sink := newTestEngine(t)
	ctx := context.Background()

	b1, err := e.CreateBottle(ctx, "alice", "hello")
	require.NoError(t, err)
	_, err = e.PickBottle(ctx, "bob")
	require.NoError(t, err)

	_, err = e.ReplyToBottle(ctx, "bob", b1, "hi back")
	require.NoError(t, err)
	_, err = e.ReplyToBottle(ctx, "alice", b1, "hello again")
	require.NoError(t, err)

	want := []recordedNotification{
		{RecipientID: "alice", EventType: EventBottleReplied, Payload: map[string]any{"bottle_id": b1, "content": "hi back"}},
		{RecipientID: "bob", EventType: EventBottleReplied, Payload: map[string]any{"bottle_id": b1, "content": "hello again"}},
	}
	if diff := cmp.Diff(want, sink.recorded()); diff != "" {
		t.Fatalf("notifications mismatch (-want +got):\n%s", diff)
	}
}

func TestGetBottleThread_AccessControl(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	b1, err := e.CreateBottle(ctx, "alice", "hello")
	require.NoError(t, err)

	// Creator can always read.
	got, err := e.GetBottleThread(ctx, "alice", b1)
	require.NoError(t, err)
	assert.Equal(t, b1, got.ID)

	// A stranger gets the merged not-found/access-denied answer, same as a
	// missing bottle.
	_, err = e.GetBottleThread(ctx, "mallory", b1)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = e.GetBottleThread(ctx, "alice", "no-such-bottle")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = e.PickBottle(ctx, "bob")
	require.NoError(t, err)
	_, err = e.GetBottleThread(ctx, "bob", b1)
	require.NoError(t, err)
}

func TestReclaimExpired_LeaseBoundary(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	pickedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return pickedAt }

	b2, err := e.CreateBottle(ctx, "alice", "drifting")
	require.NoError(t, err)
	_, err = e.PickBottle(ctx, "bob")
	require.NoError(t, err)

	// One minute before the lease runs out: untouched.
	n, err := e.ReclaimExpired(ctx, time.Date(2024, 1, 1, 11, 59, 0, 0, time.UTC), DefaultLeaseDuration)
	require.NoError(t, err)
	assert.Zero(t, n)
	b, err := store.GetBottle(ctx, b2)
	require.NoError(t, err)
	assert.Equal(t, StatusPicked, b.Status)

	// At exactly pickedAt + lease the bottle is still within its lease.
	n, err = e.ReclaimExpired(ctx, pickedAt.Add(DefaultLeaseDuration), DefaultLeaseDuration)
	require.NoError(t, err)
	assert.Zero(t, n)

	// One minute past: reclaimed, picker and pickedAt cleared.
	n, err = e.ReclaimExpired(ctx, time.Date(2024, 1, 1, 12, 1, 0, 0, time.UTC), DefaultLeaseDuration)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	b, err = store.GetBottle(ctx, b2)
	require.NoError(t, err)
	assert.Equal(t, StatusFloating, b.Status)
	assert.Nil(t, b.PickerID)
	assert.Nil(t, b.PickedAt)
}

func TestReclaimExpired_SkipsRepliedBottles(t *testing.T) {
	e, store, _ := newTestEngine(t)
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return start }

	b1, err := e.CreateBottle(ctx, "alice", "hello")
	require.NoError(t, err)
	_, err = e.PickBottle(ctx, "bob")
	require.NoError(t, err)
	_, err = e.ReplyToBottle(ctx, "bob", b1, "answered in time")
	require.NoError(t, err)

	// Replied bottles hold no lease; only picked ones are swept.
	n, err := e.ReclaimExpired(ctx, start.Add(24*time.Hour), DefaultLeaseDuration)
	require.NoError(t, err)
	assert.Zero(t, n)
	b, err := store.GetBottle(ctx, b1)
	require.NoError(t, err)
	assert.Equal(t, StatusReplied, b.Status)
}

func TestReclaimedBottleCanBePickedAgain(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return start }

	b1, err := e.CreateBottle(ctx, "alice", "round and round")
	require.NoError(t, err)
	_, err = e.PickBottle(ctx, "bob")
	require.NoError(t, err)

	_, err = e.ReclaimExpired(ctx, start.Add(DefaultLeaseDuration+time.Minute), DefaultLeaseDuration)
	require.NoError(t, err)

	// The machine is cyclic: the reclaimed bottle drifts back out.
	got, err := e.PickBottle(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, b1, got.ID)

	// And bob is free to pick again too.
	_, err = e.CreateBottle(ctx, "dave", "fresh")
	require.NoError(t, err)
	_, err = e.PickBottle(ctx, "bob")
	require.NoError(t, err)
}

func TestListUserBottlesAndStats(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	e.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	b1, err := e.CreateBottle(ctx, "alice", "one")
	require.NoError(t, err)
	b2, err := e.CreateBottle(ctx, "alice", "two")
	require.NoError(t, err)
	_, err = e.CreateBottle(ctx, "carol", "three")
	require.NoError(t, err)

	picked, err := e.PickBottle(ctx, "bob")
	require.NoError(t, err)

	mine, err := e.ListUserBottles(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, b2, mine[0].ID) // newest first
	assert.Equal(t, b1, mine[1].ID)

	bobs, err := e.ListUserBottles(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bobs, 1)
	assert.Equal(t, picked.ID, bobs[0].ID)

	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &PoolStats{Floating: 2, Picked: 1, Replied: 0, Total: 3}, st)
}
