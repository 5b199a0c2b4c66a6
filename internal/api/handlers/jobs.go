// Package handlers contains the HTTP handler implementations for the
// mailfan API: job submission and query, the broker batch webhook, email
// template management, and the recipient directory.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"mailfan/internal/core"
	"mailfan/internal/types"
)

// defaultListLimit is both the default and the ceiling for the recent-jobs
// listing: a ?limit= above it is clamped, not rejected.
const defaultListLimit = 50

// JobSubmitter creates a bulk job and fans out its batch messages.
type JobSubmitter interface {
	CreateJob(ctx context.Context, templateID string, recipientIDs []string, subject string) (*types.Job, error)
}

// JobReader is the read-only slice of the job store the query handler uses.
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (*types.Job, error)
	ListRecent(ctx context.Context, limit int) ([]*types.Job, error)
}

// SubmitJobRequest is the request body for POST /v1/jobs.
type SubmitJobRequest struct {
	TemplateID   string   `json:"template_id" validate:"required"`
	RecipientIDs []string `json:"recipient_ids" validate:"required,min=1"`
	Subject      string   `json:"subject,omitempty"`
}

// SubmitJobResponse is the 202 body for an accepted job.
type SubmitJobResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	TotalEmails int    `json:"total_emails"`
	BatchCount  int    `json:"batch_count"`
	Message     string `json:"message"`
}

// JobView is the client projection of one job record. Progress is computed
// at read time; the raw recipient list is never echoed back.
type JobView struct {
	JobID        string   `json:"job_id"`
	TemplateID   string   `json:"template_id"`
	Status       string   `json:"status"`
	Progress     int      `json:"progress"`
	TotalEmails  int      `json:"total_emails"`
	SentCount    int      `json:"sent_count"`
	FailedCount  int      `json:"failed_count"`
	BatchesDone  int      `json:"batches_done"`
	BatchesTotal int      `json:"batches_total"`
	RecentErrors []string `json:"recent_errors,omitempty"`
	CreatedAt    string   `json:"created_at"`
	StartedAt    string   `json:"started_at,omitempty"`
	CompletedAt  string   `json:"completed_at,omitempty"`
}

// QueueStats summarizes the listed jobs by lifecycle state.
type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Total      int `json:"total"`
}

// JobListResponse is the body for the recent-jobs listing.
type JobListResponse struct {
	Jobs  []JobView  `json:"jobs"`
	Stats QueueStats `json:"stats"`
}

// JobsHandler serves job submission and job status queries.
type JobsHandler struct {
	submitter JobSubmitter
	reader    JobReader
	validator *core.Validator
	logger    *slog.Logger
}

// NewJobsHandler creates a JobsHandler with the given dependencies.
func NewJobsHandler(submitter JobSubmitter, reader JobReader, v *core.Validator, logger *slog.Logger) *JobsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobsHandler{
		submitter: submitter,
		reader:    reader,
		validator: v,
		logger:    logger,
	}
}

// RegisterRoutes mounts the job endpoints. rateLimit wraps submission only;
// reads are not rate limited.
func (h *JobsHandler) RegisterRoutes(r chi.Router, rateLimit func(http.Handler) http.Handler) {
	r.With(rateLimit).Post("/jobs", h.Submit)
	r.Get("/jobs", h.Query)
}

// Submit handles POST /v1/jobs: validate, create the job record, fan out
// the batches, and return 202 immediately. Delivery happens asynchronously
// via the broker.
func (h *JobsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	job, err := h.submitter.CreateJob(r.Context(), req.TemplateID, req.RecipientIDs, req.Subject)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusAccepted, SubmitJobResponse{
		JobID:       job.ID,
		Status:      string(job.Status),
		TotalEmails: job.TotalRecipients,
		BatchCount:  job.ExpectedBatchCount,
		Message: fmt.Sprintf("queued %d emails in %d batches",
			job.TotalRecipients, job.ExpectedBatchCount),
	})
}

// Query handles GET /v1/jobs. With ?job_id= it returns that single job;
// otherwise it returns the recent listing with queue stats. ?limit= accepts
// 1..50; larger values are clamped to 50.
func (h *JobsHandler) Query(w http.ResponseWriter, r *http.Request) {
	if jobID := r.URL.Query().Get("job_id"); jobID != "" {
		job, err := h.reader.GetJob(r.Context(), jobID)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		core.JSON(w, r, http.StatusOK, jobView(job))
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"limit must be a positive integer",
				err,
			))
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	jobs, err := h.reader.ListRecent(r.Context(), limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := JobListResponse{Jobs: make([]JobView, 0, len(jobs))}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, jobView(job))
		switch job.Status {
		case types.JobStatusPending:
			resp.Stats.Pending++
		case types.JobStatusProcessing:
			resp.Stats.Processing++
		}
	}
	resp.Stats.Total = len(jobs)

	core.JSON(w, r, http.StatusOK, resp)
}

// jobView projects a job record for clients.
func jobView(job *types.Job) JobView {
	v := JobView{
		JobID:        job.ID,
		TemplateID:   job.TemplateID,
		Status:       string(job.Status),
		Progress:     job.Progress(),
		TotalEmails:  job.TotalRecipients,
		SentCount:    job.SentCount,
		FailedCount:  job.FailedCount,
		BatchesDone:  job.ProcessedBatchCount,
		BatchesTotal: job.ExpectedBatchCount,
		RecentErrors: job.RecentErrors,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		v.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		v.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return v
}
