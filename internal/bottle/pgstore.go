package bottle

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is the Postgres-backed Store. Every guarded transition is a
// single conditional UPDATE, so the eligibility check and the state change
// execute as one atomic unit under the database's isolation.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a store over an existing connection pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) InsertBottle(ctx context.Context, b *Bottle, first *Message) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &StoreUnavailableError{Err: err}
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO bottles (id, creator_id, status, created_at)
		VALUES ($1, $2, $3, $4)
	`, b.ID, b.CreatorID, b.Status, b.CreatedAt)
	if err != nil {
		return &StoreUnavailableError{Err: err}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO bottle_messages (id, bottle_id, sender_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, first.ID, first.BottleID, first.SenderID, first.Content, first.CreatedAt)
	if err != nil {
		return &StoreUnavailableError{Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &StoreUnavailableError{Err: err}
	}
	return nil
}

func (s *PgStore) GetBottle(ctx context.Context, id string) (*Bottle, error) {
	var b Bottle
	err := s.pool.QueryRow(ctx, `
		SELECT id, creator_id, picker_id, status, picked_at, created_at
		FROM bottles WHERE id = $1
	`, id).Scan(&b.ID, &b.CreatorID, &b.PickerID, &b.Status, &b.PickedAt, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StoreUnavailableError{Err: err}
	}
	return &b, nil
}

func (s *PgStore) ActivePick(ctx context.Context, userID string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
		SELECT id FROM bottles WHERE picker_id = $1 AND status = 'picked'
	`, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", &StoreUnavailableError{Err: err}
	}
	return id, nil
}

func (s *PgStore) RandomFloating(ctx context.Context, excludeCreatorID string) (*Bottle, error) {
	var b Bottle
	err := s.pool.QueryRow(ctx, `
		SELECT id, creator_id, picker_id, status, picked_at, created_at
		FROM bottles
		WHERE status = 'floating' AND creator_id <> $1
		ORDER BY random() LIMIT 1
	`, excludeCreatorID).Scan(&b.ID, &b.CreatorID, &b.PickerID, &b.Status, &b.PickedAt, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StoreUnavailableError{Err: err}
	}
	return &b, nil
}

func (s *PgStore) ClaimBottle(ctx context.Context, bottleID, pickerID string, pickedAt time.Time) (bool, error) {
	// The NOT EXISTS clause re-checks the one-active-pick invariant inside
	// the same statement that performs the transition, so two concurrent
	// picks by the same user cannot both succeed.
	tag, err := s.pool.Exec(ctx, `
		UPDATE bottles
		SET status = 'picked', picker_id = $2, picked_at = $3
		WHERE id = $1
		  AND status = 'floating'
		  AND creator_id <> $2
		  AND NOT EXISTS (
			SELECT 1 FROM bottles WHERE picker_id = $2 AND status = 'picked'
		  )
	`, bottleID, pickerID, pickedAt)
	if err != nil {
		// The partial unique index on (picker_id) WHERE status='picked'
		// backstops the NOT EXISTS guard under concurrency; a violation is
		// just a lost race, not an outage.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, nil
		}
		return false, &StoreUnavailableError{Err: err}
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) ReleaseBottle(ctx context.Context, bottleID, pickerID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bottles
		SET status = 'floating', picker_id = NULL, picked_at = NULL
		WHERE id = $1 AND picker_id = $2 AND status = 'picked'
	`, bottleID, pickerID)
	if err != nil {
		return false, &StoreUnavailableError{Err: err}
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) MarkReplied(ctx context.Context, bottleID, pickerID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bottles
		SET status = 'replied'
		WHERE id = $1 AND picker_id = $2 AND status = 'picked'
	`, bottleID, pickerID)
	if err != nil {
		return false, &StoreUnavailableError{Err: err}
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) InsertMessage(ctx context.Context, m *Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bottle_messages (id, bottle_id, sender_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, m.ID, m.BottleID, m.SenderID, m.Content, m.CreatedAt)
	if err != nil {
		return &StoreUnavailableError{Err: err}
	}
	return nil
}

func (s *PgStore) Messages(ctx context.Context, bottleID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, bottle_id, sender_id, content, created_at
		FROM bottle_messages
		WHERE bottle_id = $1
		ORDER BY created_at, id
	`, bottleID)
	if err != nil {
		return nil, &StoreUnavailableError{Err: err}
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.BottleID, &m.SenderID, &m.Content, &m.CreatedAt); err != nil {
			return nil, &StoreUnavailableError{Err: err}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreUnavailableError{Err: err}
	}
	return msgs, nil
}

func (s *PgStore) ExpiredPicks(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM bottles WHERE status = 'picked' AND picked_at < $1
	`, cutoff)
	if err != nil {
		return nil, &StoreUnavailableError{Err: err}
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &StoreUnavailableError{Err: err}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreUnavailableError{Err: err}
	}
	return ids, nil
}

func (s *PgStore) ReclaimBottle(ctx context.Context, bottleID string, cutoff time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bottles
		SET status = 'floating', picker_id = NULL, picked_at = NULL
		WHERE id = $1 AND status = 'picked' AND picked_at < $2
	`, bottleID, cutoff)
	if err != nil {
		return false, &StoreUnavailableError{Err: err}
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) UserBottles(ctx context.Context, userID string) ([]Bottle, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, creator_id, picker_id, status, picked_at, created_at
		FROM bottles
		WHERE creator_id = $1 OR picker_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, &StoreUnavailableError{Err: err}
	}
	defer rows.Close()

	var bottles []Bottle
	for rows.Next() {
		var b Bottle
		if err := rows.Scan(&b.ID, &b.CreatorID, &b.PickerID, &b.Status, &b.PickedAt, &b.CreatedAt); err != nil {
			return nil, &StoreUnavailableError{Err: err}
		}
		bottles = append(bottles, b)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreUnavailableError{Err: err}
	}
	return bottles, nil
}

func (s *PgStore) PoolStats(ctx context.Context) (*PoolStats, error) {
	var st PoolStats
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'floating'),
			COUNT(*) FILTER (WHERE status = 'picked'),
			COUNT(*) FILTER (WHERE status = 'replied'),
			COUNT(*)
		FROM bottles
	`).Scan(&st.Floating, &st.Picked, &st.Replied, &st.Total)
	if err != nil {
		return nil, &StoreUnavailableError{Err: err}
	}
	return &st, nil
}
