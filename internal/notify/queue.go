// Package notify is the notification sink and the home of the background
// schedule. Notification requests become River jobs drained by an email
// worker; a periodic River job drives the lease-expiry sweep.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/momo/internal/identity"
	"github.com/momo/internal/metrics"
)

// Reclaimer is the sweep operation the periodic job invokes. Satisfied by
// the bottle engine.
type Reclaimer interface {
	ReclaimExpired(ctx context.Context, now time.Time, lease time.Duration) (int, error)
}

// Options tunes the queue and the sweep schedule.
type Options struct {
	MaxWorkers    int
	SweepInterval time.Duration
	LeaseDuration time.Duration
}

// EmailJobArgs is a queued notification delivery.
type EmailJobArgs struct {
	RecipientID string         `json:"recipient_id"`
	EventType   string         `json:"event_type"`
	Payload     map[string]any `json:"payload"`
}

// Kind returns the job kind for River.
func (EmailJobArgs) Kind() string { return "notification_email" }

// ReclaimJobArgs is the periodic lease-expiry sweep trigger.
type ReclaimJobArgs struct{}

// Kind returns the job kind for River.
func (ReclaimJobArgs) Kind() string { return "bottle_reclaim" }

// EmailWorker delivers one queued notification.
type EmailWorker struct {
	river.WorkerDefaults[EmailJobArgs]
	users  *identity.Users
	mailer *Mailer
}

// Work resolves the recipient and sends the rendered email. A recipient
// that no longer exists is logged and dropped, not retried.
func (w *EmailWorker) Work(ctx context.Context, job *river.Job[EmailJobArgs]) error {
	args := job.Args

	user, err := w.users.ByID(ctx, args.RecipientID)
	if err != nil {
		log.Warn().Err(err).Str("recipient_id", args.RecipientID).Str("event_type", args.EventType).
			Msg("dropping notification for unknown recipient")
		return nil
	}

	if err := w.mailer.Send(ctx, user.Email, args.EventType, args.Payload); err != nil {
		return fmt.Errorf("send %s notification: %w", args.EventType, err)
	}
	return nil
}

// ReclaimWorker runs the sweep. Its Reclaimer is bound after the queue is
// constructed, before Start, because the engine takes the queue as its sink.
type ReclaimWorker struct {
	river.WorkerDefaults[ReclaimJobArgs]
	reclaimer Reclaimer
	lease     time.Duration
}

func (w *ReclaimWorker) Work(ctx context.Context, job *river.Job[ReclaimJobArgs]) error {
	if w.reclaimer == nil {
		return fmt.Errorf("reclaim worker has no engine bound")
	}
	n, err := w.reclaimer.ReclaimExpired(ctx, time.Now(), w.lease)
	if err != nil {
		return fmt.Errorf("reclaim sweep: %w", err)
	}
	log.Debug().Int("reclaimed", n).Msg("reclaim sweep completed")
	return nil
}

// JobQueue is the River-backed notification sink and sweep scheduler.
type JobQueue struct {
	client  *river.Client[pgx.Tx]
	reclaim *ReclaimWorker
}

// NewJobQueue builds the queue over the shared connection pool. Call
// SetReclaimer before Start.
func NewJobQueue(pool *pgxpool.Pool, users *identity.Users, mailer *Mailer, opts Options) (*JobQueue, error) {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 5
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}

	reclaim := &ReclaimWorker{lease: opts.LeaseDuration}

	workers := river.NewWorkers()
	river.AddWorker(workers, &EmailWorker{users: users, mailer: mailer})
	river.AddWorker(workers, reclaim)

	periodic := []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(opts.SweepInterval),
			func() (river.JobArgs, *river.InsertOpts) {
				return ReclaimJobArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		),
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: opts.MaxWorkers},
		},
		Workers:      workers,
		PeriodicJobs: periodic,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}

	return &JobQueue{client: client, reclaim: reclaim}, nil
}

// SetReclaimer binds the sweep target. Must be called before Start.
func (q *JobQueue) SetReclaimer(r Reclaimer) {
	q.reclaim.reclaimer = r
}

// Start starts the queue workers and the periodic sweep.
func (q *JobQueue) Start(ctx context.Context) error {
	return q.client.Start(ctx)
}

// Stop drains the queue workers.
func (q *JobQueue) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}

// Enqueue accepts a fire-and-forget notification request. Failures are
// logged and swallowed: delivery is this package's concern, never the
// caller's.
func (q *JobQueue) Enqueue(ctx context.Context, recipientID, eventType string, payload map[string]any) {
	_, err := q.client.Insert(ctx, EmailJobArgs{
		RecipientID: recipientID,
		EventType:   eventType,
		Payload:     payload,
	}, nil)
	if err != nil {
		log.Warn().Err(err).Str("recipient_id", recipientID).Str("event_type", eventType).
			Msg("failed to queue notification")
		return
	}
	metrics.NotificationsQueued.Inc()
}
