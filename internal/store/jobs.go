// Package store provides the Redis-backed persistence layer for bulk-email
// job records and the rate-limit counters.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"mailfan/internal/types"
)

const (
	// jobKeyPrefix namespaces job records in Redis. A job with ID "job_x"
	// lives at "email-job:job_x".
	jobKeyPrefix = "email-job:"

	// foldMaxRetries bounds the optimistic-concurrency loop in FoldBatch.
	// Each retry means another webhook invocation folded the same job
	// between our read and our write.
	foldMaxRetries = 10

	// scanPageSize is the COUNT hint for SCAN during listing.
	scanPageSize = 100
)

// JobStore persists job records in Redis. Records are stored as JSON blobs
// under namespaced keys; the fold path uses WATCH/MULTI optimistic
// transactions so concurrent batch completions never lose increments.
type JobStore struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewJobStore creates a JobStore backed by the given Redis client.
func NewJobStore(rdb *redis.Client, logger *slog.Logger) *JobStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobStore{rdb: rdb, logger: logger}
}

// jobKey returns the Redis key for a job ID.
func jobKey(jobID string) string {
	return jobKeyPrefix + jobID
}

// decodeJob unmarshals a stored job record.
func decodeJob(raw []byte) (*types.Job, error) {
	var job types.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStore, "corrupt job record", err)
	}
	return &job, nil
}

// CreateJob persists a new job record. It fails with a conflict error if a
// record with the same ID already exists.
func (s *JobStore) CreateJob(ctx context.Context, job *types.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to encode job record", err)
	}

	ok, err := s.rdb.SetNX(ctx, jobKey(job.ID), raw, 0).Result()
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalStore, "failed to persist job record", err)
	}
	if !ok {
		return types.NewAppError(types.ErrCodeConflictJobExists,
			fmt.Sprintf("job %s already exists", job.ID), nil)
	}
	return nil
}

// GetJob fetches one job record by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*types.Job, error) {
	raw, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.NewAppError(types.ErrCodeNotFoundJob,
			fmt.Sprintf("job %s not found", jobID), nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to read job record", err)
	}
	return decodeJob(raw)
}

// ListRecent returns up to limit job records ordered newest-first by
// creation time. It scans the job keyspace; the record count is bounded in
// practice (jobs are few, recipients are many), so a full scan is
// acceptable here.
func (s *JobStore) ListRecent(ctx context.Context, limit int) ([]*types.Job, error) {
	var jobs []*types.Job

	iter := s.rdb.Scan(ctx, 0, jobKeyPrefix+"*", scanPageSize).Iterator()
	for iter.Next(ctx) {
		raw, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			// Key expired between SCAN and GET.
			continue
		}
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to read job record", err)
		}
		job, err := decodeJob(raw)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping corrupt job record", "key", iter.Val(), "error", err)
			continue
		}
		jobs = append(jobs, job)
	}
	if err := iter.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to scan job records", err)
	}

	types.SortJobsNewestFirst(jobs)
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// FoldBatch atomically merges one batch's outcome into the job record using
// a WATCH/MULTI optimistic transaction: read the record, apply the pure
// fold, write it back only if the key was untouched in between. A duplicate
// fold (redelivered batch) leaves the record unchanged and returns the
// current state without error.
func (s *JobStore) FoldBatch(ctx context.Context, jobID string, res types.BatchResult) (*types.Job, error) {
	key := jobKey(jobID)
	var folded *types.Job

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return types.NewAppError(types.ErrCodeNotFoundJob,
				fmt.Sprintf("job %s not found", jobID), nil)
		}
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalStore, "failed to read job record", err)
		}

		job, err := decodeJob(raw)
		if err != nil {
			return err
		}

		if !job.ApplyBatchResult(res, time.Now().UTC()) {
			// No-op fold: duplicate index, terminal job, or out-of-range
			// index. Return the current state untouched.
			folded = job
			return nil
		}

		updated, err := json.Marshal(job)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalStore, "failed to encode job record", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		if err != nil {
			return err
		}
		folded = job
		return nil
	}

	for attempt := 0; attempt < foldMaxRetries; attempt++ {
		err := s.rdb.Watch(ctx, txn, key)
		if err == nil {
			return folded, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			// Another fold won the race; re-read and retry.
			s.logger.DebugContext(ctx, "fold transaction conflict, retrying",
				"job_id", jobID,
				"batch_index", res.BatchIndex,
				"attempt", attempt+1,
			)
			continue
		}
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to fold batch result", err)
	}

	return nil, types.NewAppError(types.ErrCodeConflictConcurrent,
		fmt.Sprintf("job %s is under heavy concurrent modification", jobID), nil)
}

// FailJob marks a job failed with a job-level reason, using the same
// optimistic write path as FoldBatch.
func (s *JobStore) FailJob(ctx context.Context, jobID string, reason string) (*types.Job, error) {
	key := jobKey(jobID)
	var failed *types.Job

	txn := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return types.NewAppError(types.ErrCodeNotFoundJob,
				fmt.Sprintf("job %s not found", jobID), nil)
		}
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalStore, "failed to read job record", err)
		}

		job, err := decodeJob(raw)
		if err != nil {
			return err
		}

		if !job.MarkFailed(reason, time.Now().UTC()) {
			failed = job
			return nil
		}

		updated, err := json.Marshal(job)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalStore, "failed to encode job record", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		if err != nil {
			return err
		}
		failed = job
		return nil
	}

	for attempt := 0; attempt < foldMaxRetries; attempt++ {
		err := s.rdb.Watch(ctx, txn, key)
		if err == nil {
			return failed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var appErr *types.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, types.NewAppError(types.ErrCodeInternalStore, "failed to mark job failed", err)
	}

	return nil, types.NewAppError(types.ErrCodeConflictConcurrent,
		fmt.Sprintf("job %s is under heavy concurrent modification", jobID), nil)
}
