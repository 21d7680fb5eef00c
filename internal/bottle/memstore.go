package bottle

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store with the same conditional-update semantics
// as PgStore: every guarded transition checks and mutates under one lock
// acquisition, so it honors the same atomicity contract.
type MemStore struct {
	mu       sync.Mutex
	bottles  map[string]*Bottle
	messages map[string][]Message
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		bottles:  make(map[string]*Bottle),
		messages: make(map[string][]Message),
	}
}

func (s *MemStore) InsertBottle(ctx context.Context, b *Bottle, first *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.bottles[b.ID] = &cp
	s.messages[b.ID] = append(s.messages[b.ID], *first)
	return nil
}

func (s *MemStore) GetBottle(ctx context.Context, id string) (*Bottle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bottles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemStore) ActivePick(ctx context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activePickLocked(userID), nil
}

func (s *MemStore) activePickLocked(userID string) string {
	for _, b := range s.bottles {
		if b.Status == StatusPicked && b.PickerID != nil && *b.PickerID == userID {
			return b.ID
		}
	}
	return ""
}

func (s *MemStore) RandomFloating(ctx context.Context, excludeCreatorID string) (*Bottle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var eligible []string
	for id, b := range s.bottles {
		if b.Status == StatusFloating && b.CreatorID != excludeCreatorID {
			eligible = append(eligible, id)
		}
	}
	if len(eligible) == 0 {
		return nil, ErrNotFound
	}
	// Map iteration order is already random, but sort first so the draw is
	// uniform rather than whatever the runtime happens to do.
	sort.Strings(eligible)
	cp := *s.bottles[eligible[rand.Intn(len(eligible))]]
	return &cp, nil
}

func (s *MemStore) ClaimBottle(ctx context.Context, bottleID, pickerID string, pickedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bottles[bottleID]
	if !ok || b.Status != StatusFloating || b.CreatorID == pickerID {
		return false, nil
	}
	if s.activePickLocked(pickerID) != "" {
		return false, nil
	}
	picker := pickerID
	at := pickedAt
	b.Status = StatusPicked
	b.PickerID = &picker
	b.PickedAt = &at
	return true, nil
}

func (s *MemStore) ReleaseBottle(ctx context.Context, bottleID, pickerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bottles[bottleID]
	if !ok || b.Status != StatusPicked || b.PickerID == nil || *b.PickerID != pickerID {
		return false, nil
	}
	b.Status = StatusFloating
	b.PickerID = nil
	b.PickedAt = nil
	return true, nil
}

func (s *MemStore) MarkReplied(ctx context.Context, bottleID, pickerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bottles[bottleID]
	if !ok || b.Status != StatusPicked || b.PickerID == nil || *b.PickerID != pickerID {
		return false, nil
	}
	b.Status = StatusReplied
	return true, nil
}

func (s *MemStore) InsertMessage(ctx context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bottles[m.BottleID]; !ok {
		return ErrNotFound
	}
	s.messages[m.BottleID] = append(s.messages[m.BottleID], *m)
	return nil
}

func (s *MemStore) Messages(ctx context.Context, bottleID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]Message, len(s.messages[bottleID]))
	copy(msgs, s.messages[bottleID])
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

func (s *MemStore) ExpiredPicks(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, b := range s.bottles {
		if b.Status == StatusPicked && b.PickedAt != nil && b.PickedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemStore) ReclaimBottle(ctx context.Context, bottleID string, cutoff time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bottles[bottleID]
	if !ok || b.Status != StatusPicked || b.PickedAt == nil || !b.PickedAt.Before(cutoff) {
		return false, nil
	}
	b.Status = StatusFloating
	b.PickerID = nil
	b.PickedAt = nil
	return true, nil
}

func (s *MemStore) UserBottles(ctx context.Context, userID string) ([]Bottle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var bottles []Bottle
	for _, b := range s.bottles {
		if b.CreatorID == userID || (b.PickerID != nil && *b.PickerID == userID) {
			bottles = append(bottles, *b)
		}
	}
	sort.Slice(bottles, func(i, j int) bool {
		return bottles[i].CreatedAt.After(bottles[j].CreatedAt)
	})
	return bottles, nil
}

func (s *MemStore) PoolStats(ctx context.Context) (*PoolStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &PoolStats{}
	for _, b := range s.bottles {
		switch b.Status {
		case StatusFloating:
			st.Floating++
		case StatusPicked:
			st.Picked++
		case StatusReplied:
			st.Replied++
		}
		st.Total++
	}
	return st, nil
}
