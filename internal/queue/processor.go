package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mailfan/internal/types"
)

// RecipientResolver maps an opaque recipient ID to a deliverable profile.
// Resolution may fail per-ID; the processor converts such failures into
// recorded per-recipient outcomes, never batch aborts.
type RecipientResolver interface {
	Resolve(ctx context.Context, recipientID string) (*types.RecipientProfile, error)
}

// EmailSender sends one templated message. Implementations must return an
// error satisfying types.IsRateLimited when the provider signals "rate
// exceeded" so the processor can apply backoff.
type EmailSender interface {
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}

// BatchFolder is the slice of the job store the processor needs: the
// atomic read-modify-write that merges one batch's outcome into the job.
type BatchFolder interface {
	FoldBatch(ctx context.Context, jobID string, res types.BatchResult) (*types.Job, error)
}

// ProcessorConfig holds the delivery-loop tunables.
type ProcessorConfig struct {
	// SendDelay is the fixed pause between consecutive recipient sends,
	// keeping one invocation under the provider's per-second rate ceiling.
	SendDelay time.Duration
	// RetryAttempts bounds rate-limit retries per recipient; delays start
	// at RetryBaseDelay and double each attempt.
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// Processor executes one batch-delivery message: it resolves each recipient,
// sends the templated email sequentially with rate-limit pacing, and folds
// the aggregate outcome into the job record.
//
// Each invocation is stateless and runs concurrently with other invocations
// for the same or different jobs; the fold step (BatchFolder) is the only
// shared mutation point.
type Processor struct {
	resolver RecipientResolver
	sender   EmailSender
	store    BatchFolder
	cfg      ProcessorConfig
	logger   *slog.Logger

	// sleep is injectable for tests; defaults to time.Sleep.
	sleep func(time.Duration)
}

// NewProcessor creates a Processor with the given collaborators.
func NewProcessor(resolver RecipientResolver, sender EmailSender, store BatchFolder, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		resolver: resolver,
		sender:   sender,
		store:    store,
		cfg:      cfg,
		logger:   logger,
		sleep:    time.Sleep,
	}
}

// ProcessBatch runs the delivery loop for one authenticated batch message
// and folds the result. The caller (webhook handler) has already verified
// the broker signature.
//
// Error contract:
//   - per-recipient failures (resolution, rejection, exhausted rate-limit
//     retries) become data in the returned BatchResult and never abort the
//     loop;
//   - a store failure during the fold is returned as an error so the broker
//     redelivers the whole message. The deliveries already happened; the
//     fold's idempotence guard only protects against double COUNTING, not
//     double SENDING, so redelivery after a fold failure can resend.
func (p *Processor) ProcessBatch(ctx context.Context, msg types.BatchMessage) (*types.Job, types.BatchResult, error) {
	if err := msg.Validate(); err != nil {
		return nil, types.BatchResult{}, err
	}

	logger := p.logger.With(
		"job_id", msg.JobID,
		"batch_index", msg.BatchIndex,
		"total_batches", msg.TotalBatches,
		"batch_size", len(msg.RecipientIDs),
	)
	logger.InfoContext(ctx, "processing batch delivery")

	outcomes := make([]types.RecipientOutcome, 0, len(msg.RecipientIDs))
	for i, recipientID := range msg.RecipientIDs {
		outcomes = append(outcomes, p.deliver(ctx, msg, recipientID))

		// Pace consecutive sends; no pause after the final recipient.
		if i < len(msg.RecipientIDs)-1 && p.cfg.SendDelay > 0 {
			p.sleep(p.cfg.SendDelay)
		}
	}

	result := types.CollectBatchResult(msg.BatchIndex, outcomes)

	job, err := p.store.FoldBatch(ctx, msg.JobID, result)
	if err != nil {
		logger.ErrorContext(ctx, "failed to fold batch result",
			"sent", result.Sent,
			"failed", result.Failed,
			"error", err,
		)
		return nil, result, fmt.Errorf("processor: failed to fold batch %d of job %s: %w", msg.BatchIndex, msg.JobID, err)
	}

	logger.InfoContext(ctx, "batch folded",
		"sent", result.Sent,
		"failed", result.Failed,
		"job_status", string(job.Status),
		"processed_batches", job.ProcessedBatchCount,
	)

	return job, result, nil
}

// deliver resolves and sends to a single recipient, converting every
// failure into a recorded outcome.
func (p *Processor) deliver(ctx context.Context, msg types.BatchMessage, recipientID string) types.RecipientOutcome {
	profile, err := p.resolver.Resolve(ctx, recipientID)
	if err != nil {
		return types.RecipientOutcome{
			RecipientID: recipientID,
			Error:       types.DeliveryFailure(recipientID, err),
		}
	}
	if profile.Email == "" {
		return types.RecipientOutcome{
			RecipientID: recipientID,
			Error:       types.DeliveryFailure(recipientID, errors.New("recipient has no email address")),
		}
	}
	if profile.Disabled {
		return types.RecipientOutcome{
			RecipientID: recipientID,
			Error:       types.DeliveryFailure(recipientID, errors.New("recipient account is disabled")),
		}
	}

	displayName := profile.DisplayName
	if displayName == "" {
		displayName = profile.Email
	}

	input := types.SendInput{
		TemplateID: msg.TemplateID,
		To:         profile.Email,
		TemplateData: map[string]string{
			"display_name": displayName,
			"email":        profile.Email,
		},
	}
	if msg.Subject != "" {
		input.TemplateData["subject"] = msg.Subject
	}

	if err := p.sendWithRetry(ctx, input); err != nil {
		return types.RecipientOutcome{
			RecipientID: recipientID,
			Email:       profile.Email,
			Error:       types.DeliveryFailure(recipientID, err),
		}
	}

	return types.RecipientOutcome{
		RecipientID: recipientID,
		Email:       profile.Email,
		Success:     true,
	}
}

// sendWithRetry sends one message, retrying only on provider rate-limit
// signals with bounded exponential backoff (RetryBaseDelay doubling per
// attempt). Any other failure is returned immediately.
func (p *Processor) sendWithRetry(ctx context.Context, input types.SendInput) error {
	delay := p.cfg.RetryBaseDelay
	var lastErr error

	for attempt := 0; attempt < p.cfg.RetryAttempts; attempt++ {
		_, err := p.sender.Send(ctx, input)
		if err == nil {
			return nil
		}
		lastErr = err

		if !types.IsRateLimited(err) {
			return err
		}

		if attempt < p.cfg.RetryAttempts-1 {
			p.logger.WarnContext(ctx, "provider rate limit hit, backing off",
				"to", input.To,
				"attempt", attempt+1,
				"delay", delay.String(),
			)
			p.sleep(delay)
			delay *= 2
		}
	}

	return lastErr
}
