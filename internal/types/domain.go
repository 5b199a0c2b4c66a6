// Package types defines the shared domain model for the mailfan platform:
// the bulk-email Job record and its fold semantics, the broker batch message
// envelope, external collaborator DTOs, and the application error taxonomy.
package types

import (
	"fmt"
	"sort"
	"time"
)

// JobStatus is the lifecycle state of a bulk-email job.
// Transitions only move forward: pending -> processing -> completed|failed.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// MaxRecentErrors bounds the sliding window of per-recipient failure strings
// kept on a Job record. Older entries are discarded, newest kept.
const MaxRecentErrors = 50

// Job is the durable state of one bulk-send request, spanning all of its
// batches until completion. It is created by the dispatcher, mutated only by
// the fold step, and read by the query API.
//
// JSON tags use snake_case to match the wire format of the broker messages.
type Job struct {
	ID           string   `json:"id"`
	TemplateID   string   `json:"template_id"`
	RecipientIDs []string `json:"recipient_ids"`
	Subject      string   `json:"subject,omitempty"`

	Status JobStatus `json:"status"`

	TotalRecipients int      `json:"total_recipients"`
	SentCount       int      `json:"sent_count"`
	FailedCount     int      `json:"failed_count"`
	RecentErrors    []string `json:"recent_errors,omitempty"`

	ExpectedBatchCount  int `json:"expected_batch_count"`
	ProcessedBatchCount int `json:"processed_batch_count"`

	// FoldedBatches records which batch indices have already been folded.
	// It is the idempotence guard against at-least-once redelivery: folding
	// a batch index that is already present is a no-op.
	FoldedBatches map[int]bool `json:"folded_batches,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ExpectedBatches computes ceil(total / batchSize), the number of broker
// messages a job of the given size fans out into.
func ExpectedBatches(total, batchSize int) int {
	if total <= 0 || batchSize <= 0 {
		return 0
	}
	return (total + batchSize - 1) / batchSize
}

// Progress returns the percentage of recipients with a known outcome,
// rounded to the nearest integer. Computed at read time, never stored.
func (j *Job) Progress() int {
	if j.TotalRecipients == 0 {
		return 0
	}
	done := j.SentCount + j.FailedCount
	return int(float64(done)/float64(j.TotalRecipients)*100 + 0.5)
}

// ApplyBatchResult folds one batch's delivery outcome into the job record.
// It returns true when the record was mutated and false when the fold was a
// no-op (duplicate batch index, terminal status, or out-of-range index).
//
// The fold is a pure in-memory transformation; the store is responsible for
// applying it under an atomic read-modify-write so concurrent folds never
// lose increments. Semantics:
//
//   - duplicate batch index: no-op (at-least-once redelivery guard)
//   - first fold sets StartedAt
//   - counters increase by the batch's success/failure counts
//   - failure strings append to RecentErrors, trimmed to the newest 50
//   - ProcessedBatchCount increments exactly once per distinct batch
//   - reaching ExpectedBatchCount transitions to completed and sets
//     CompletedAt; otherwise the job is processing
//   - terminal jobs are never mutated, including over-folds past
//     ExpectedBatchCount
func (j *Job) ApplyBatchResult(res BatchResult, now time.Time) bool {
	if j.Status.Terminal() {
		return false
	}
	if res.BatchIndex < 0 || res.BatchIndex >= j.ExpectedBatchCount {
		return false
	}
	if j.FoldedBatches[res.BatchIndex] {
		return false
	}

	if j.FoldedBatches == nil {
		j.FoldedBatches = make(map[int]bool, j.ExpectedBatchCount)
	}
	j.FoldedBatches[res.BatchIndex] = true

	if j.StartedAt == nil {
		t := now
		j.StartedAt = &t
	}

	j.SentCount += res.Sent
	j.FailedCount += res.Failed
	j.RecentErrors = append(j.RecentErrors, res.Errors...)
	if len(j.RecentErrors) > MaxRecentErrors {
		j.RecentErrors = j.RecentErrors[len(j.RecentErrors)-MaxRecentErrors:]
	}

	j.ProcessedBatchCount++
	if j.ProcessedBatchCount >= j.ExpectedBatchCount {
		j.Status = JobStatusCompleted
		t := now
		j.CompletedAt = &t
	} else {
		j.Status = JobStatusProcessing
	}

	return true
}

// MarkFailed records an unrecoverable job-level error, distinct from
// per-recipient failures. Terminal jobs are left untouched.
func (j *Job) MarkFailed(reason string, now time.Time) bool {
	if j.Status.Terminal() {
		return false
	}
	j.Status = JobStatusFailed
	t := now
	j.CompletedAt = &t
	j.RecentErrors = append(j.RecentErrors, "system error: "+reason)
	if len(j.RecentErrors) > MaxRecentErrors {
		j.RecentErrors = j.RecentErrors[len(j.RecentErrors)-MaxRecentErrors:]
	}
	return true
}

// SortJobsNewestFirst orders jobs by CreatedAt descending, the order the
// recent-jobs listing returns them in.
func SortJobsNewestFirst(jobs []*Job) {
	sort.SliceStable(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
}

// RecipientProfile is the identity provider's view of one recipient,
// resolved from an opaque recipient ID at delivery time.
type RecipientProfile struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	Disabled    bool   `json:"disabled"`
}

// SendInput carries everything the email provider needs to send one
// templated message.
type SendInput struct {
	TemplateID string
	To         string
	// TemplateData is serialized as the provider's template variable payload.
	TemplateData map[string]string
}

// EmailTemplate is the service's view of a provider-side message template.
type EmailTemplate struct {
	Name      string     `json:"name"`
	Subject   string     `json:"subject"`
	HTMLBody  string     `json:"html_body,omitempty"`
	TextBody  string     `json:"text_body,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// DeliveryFailure formats the human-readable per-recipient failure string
// appended to a job's RecentErrors window.
func DeliveryFailure(recipientID string, err error) string {
	return fmt.Sprintf("failed to send to %s: %v", recipientID, err)
}
