package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mailfan/internal/core"
	"mailfan/internal/queue"
	"mailfan/internal/types"
)

// maxWebhookBodySize caps the broker delivery payload (64 KB). A batch
// message holds at most one batch worth of recipient IDs.
const maxWebhookBodySize = 64 * 1024

// BatchProcessor runs the delivery loop for one batch message and folds
// the outcome into the job record.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, msg types.BatchMessage) (*types.Job, types.BatchResult, error)
}

// BatchWebhookResponse acknowledges a processed batch to the broker.
type BatchWebhookResponse struct {
	JobID  string `json:"job_id"`
	Sent   int    `json:"sent"`
	Failed int    `json:"failed"`
}

// BatchWebhookHandler receives batch-delivery messages pushed by the
// broker. The route sits outside bearer auth; authenticity comes from the
// HMAC signature over the raw body.
type BatchWebhookHandler struct {
	verifier  *queue.SignatureVerifier
	processor BatchProcessor
	logger    *slog.Logger
}

// NewBatchWebhookHandler creates a BatchWebhookHandler.
func NewBatchWebhookHandler(verifier *queue.SignatureVerifier, processor BatchProcessor, logger *slog.Logger) *BatchWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchWebhookHandler{
		verifier:  verifier,
		processor: processor,
		logger:    logger,
	}
}

// RegisterRoutes mounts the webhook endpoint.
func (h *BatchWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/batches", h.Handle)
}

// Handle processes one pushed batch message:
//
//  1. read the raw body (signature covers exact bytes, so no decoding
//     before verification)
//  2. verify the broker signature; failure is 401 and nothing else runs
//  3. parse and process the batch, folding the result into the job
//
// Status codes steer the broker's redelivery: 2xx acknowledges the message
// even when individual recipients failed (those are data in the job
// record); 5xx means infrastructure failure and requests redelivery.
func (h *BatchWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidBatch,
			"failed to read request body",
			err,
		))
		return
	}

	if err := h.verifier.Verify(payload, r.Header.Get(queue.SignatureHeader)); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature rejected",
			"remote_addr", r.RemoteAddr,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	var msg types.BatchMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidBatch,
			"malformed batch message",
			err,
		))
		return
	}

	job, result, err := h.processor.ProcessBatch(r.Context(), msg)
	if err != nil {
		// Validation errors are 400 (redelivery cannot fix a bad message);
		// store failures surface as 5xx so the broker retries.
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, BatchWebhookResponse{
		JobID:  job.ID,
		Sent:   result.Sent,
		Failed: result.Failed,
	})
}
