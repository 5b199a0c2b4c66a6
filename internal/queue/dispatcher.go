package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"mailfan/internal/types"
)

// maxConcurrentPublishes bounds the number of in-flight broker publish
// calls during fan-out. Fan-out for the largest allowed job (5000
// recipients / batch size 10) is 500 messages; publishing them strictly
// sequentially would make job submission needlessly slow.
const maxConcurrentPublishes = 10

// JobCreator is the slice of the job store the dispatcher needs.
type JobCreator interface {
	// CreateJob persists a new job record. It fails if the job ID already
	// exists.
	CreateJob(ctx context.Context, job *types.Job) error
}

// BatchPublisher publishes one batch message to the push-delivery broker.
// Implementations must request provider-side retry on delivery failure.
type BatchPublisher interface {
	Publish(ctx context.Context, msg types.BatchMessage) error
}

// DispatcherConfig holds the fan-out tunables.
type DispatcherConfig struct {
	BatchSize     int
	MaxRecipients int
}

// Dispatcher creates bulk-email jobs: it persists the job record and fans
// the recipient list out into one broker message per batch. Each message
// carries enough data to be processed independently of dispatch order.
type Dispatcher struct {
	store     JobCreator
	publisher BatchPublisher
	cfg       DispatcherConfig
	logger    *slog.Logger

	// now is injectable for deterministic tests; defaults to time.Now UTC.
	now func() time.Time
}

// NewDispatcher creates a Dispatcher with the given store, publisher, and
// configuration.
func NewDispatcher(store JobCreator, publisher BatchPublisher, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob validates the request, persists a pending job record, and
// publishes one batch message per recipient slice.
//
// Side effects: one durable write plus expectedBatchCount publish calls.
// If publishing fails partway, the already-published batches will still be
// delivered and folded, but the job can stall short of its expected batch
// count; there is no compensating transaction. The error is surfaced to
// the caller so the stall is at least visible at submission time.
func (d *Dispatcher) CreateJob(ctx context.Context, templateID string, recipientIDs []string, subject string) (*types.Job, error) {
	if templateID == "" {
		return nil, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"template_id is required",
			nil,
		)
	}
	if len(recipientIDs) == 0 {
		return nil, types.NewAppError(
			types.ErrCodeValidationEmptyRecipients,
			"at least one recipient is required",
			nil,
		)
	}
	if len(recipientIDs) > d.cfg.MaxRecipients {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationRecipientLimit,
			fmt.Sprintf("maximum %d recipients per job; split into smaller jobs", d.cfg.MaxRecipients),
			nil,
			map[string]any{"max": d.cfg.MaxRecipients, "got": len(recipientIDs)},
		)
	}

	now := d.now()
	job := &types.Job{
		ID:                 "job_" + uuid.New().String(),
		TemplateID:         templateID,
		RecipientIDs:       recipientIDs,
		Subject:            subject,
		Status:             types.JobStatusPending,
		TotalRecipients:    len(recipientIDs),
		ExpectedBatchCount: types.ExpectedBatches(len(recipientIDs), d.cfg.BatchSize),
		CreatedAt:          now,
	}

	if err := d.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("dispatcher: failed to persist job: %w", err)
	}

	if err := d.publishBatches(ctx, job); err != nil {
		// The job record exists; some batches may already be in flight.
		d.logger.ErrorContext(ctx, "batch fan-out failed partway",
			"job_id", job.ID,
			"expected_batches", job.ExpectedBatchCount,
			"error", err,
		)
		return nil, err
	}

	d.logger.InfoContext(ctx, "job created",
		"job_id", job.ID,
		"template_id", job.TemplateID,
		"total_recipients", job.TotalRecipients,
		"expected_batches", job.ExpectedBatchCount,
	)

	return job, nil
}

// publishBatches slices the recipient list into fixed-size batches and
// publishes one message per batch concurrently (bounded).
func (d *Dispatcher) publishBatches(ctx context.Context, job *types.Job) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPublishes)

	for i := 0; i < len(job.RecipientIDs); i += d.cfg.BatchSize {
		end := i + d.cfg.BatchSize
		if end > len(job.RecipientIDs) {
			end = len(job.RecipientIDs)
		}

		msg := types.BatchMessage{
			JobID:        job.ID,
			TemplateID:   job.TemplateID,
			RecipientIDs: job.RecipientIDs[i:end],
			Subject:      job.Subject,
			BatchIndex:   i / d.cfg.BatchSize,
			TotalBatches: job.ExpectedBatchCount,
		}

		g.Go(func() error {
			if err := d.publisher.Publish(gctx, msg); err != nil {
				return fmt.Errorf("dispatcher: failed to publish batch %d: %w", msg.BatchIndex, err)
			}
			return nil
		})
	}

	return g.Wait()
}
