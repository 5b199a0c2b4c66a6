package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailfan/internal/types"
)

// fakeJobCreator records created jobs in memory.
type fakeJobCreator struct {
	mu      sync.Mutex
	jobs    map[string]*types.Job
	failErr error
}

func newFakeJobCreator() *fakeJobCreator {
	return &fakeJobCreator{jobs: make(map[string]*types.Job)}
}

func (f *fakeJobCreator) CreateJob(_ context.Context, job *types.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.jobs[job.ID] = job
	return nil
}

// fakePublisher captures published batch messages; failIndexes simulates
// partial publish failure.
type fakePublisher struct {
	mu          sync.Mutex
	messages    []types.BatchMessage
	failIndexes map[int]bool
}

func (f *fakePublisher) Publish(_ context.Context, msg types.BatchMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIndexes[msg.BatchIndex] {
		return errors.New("broker unavailable")
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakePublisher) sorted() []types.BatchMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := append([]types.BatchMessage(nil), f.messages...)
	sort.Slice(msgs, func(i, k int) bool { return msgs[i].BatchIndex < msgs[k].BatchIndex })
	return msgs
}

func newTestDispatcher(store JobCreator, pub BatchPublisher) *Dispatcher {
	return NewDispatcher(store, pub, DispatcherConfig{
		BatchSize:     10,
		MaxRecipients: 5000,
	}, slog.New(slog.DiscardHandler))
}

func recipientIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("r%d", i+1)
	}
	return ids
}

func TestDispatcher_CreateJob_FanOut(t *testing.T) {
	store := newFakeJobCreator()
	pub := &fakePublisher{}
	d := newTestDispatcher(store, pub)

	job, err := d.CreateJob(context.Background(), "welcome", recipientIDs(23), "Hello")
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, types.JobStatusPending, job.Status)
	assert.Equal(t, 23, job.TotalRecipients)
	assert.Equal(t, 3, job.ExpectedBatchCount)
	assert.Equal(t, 0, job.SentCount)
	assert.Equal(t, 0, job.ProcessedBatchCount)
	assert.False(t, job.CreatedAt.IsZero())

	// The job record was persisted before fan-out.
	require.Contains(t, store.jobs, job.ID)

	// One message per batch, slices of 10, 10, 3, each self-contained.
	msgs := pub.sorted()
	require.Len(t, msgs, 3)
	assert.Len(t, msgs[0].RecipientIDs, 10)
	assert.Len(t, msgs[1].RecipientIDs, 10)
	assert.Len(t, msgs[2].RecipientIDs, 3)
	assert.Equal(t, "r1", msgs[0].RecipientIDs[0])
	assert.Equal(t, "r11", msgs[1].RecipientIDs[0])
	assert.Equal(t, "r23", msgs[2].RecipientIDs[2])

	for i, msg := range msgs {
		assert.Equal(t, job.ID, msg.JobID)
		assert.Equal(t, "welcome", msg.TemplateID)
		assert.Equal(t, "Hello", msg.Subject)
		assert.Equal(t, i, msg.BatchIndex)
		assert.Equal(t, 3, msg.TotalBatches)
	}
}

func TestDispatcher_CreateJob_SingleBatch(t *testing.T) {
	store := newFakeJobCreator()
	pub := &fakePublisher{}
	d := newTestDispatcher(store, pub)

	job, err := d.CreateJob(context.Background(), "welcome", recipientIDs(7), "")
	require.NoError(t, err)

	assert.Equal(t, 1, job.ExpectedBatchCount)
	require.Len(t, pub.sorted(), 1)
	assert.Len(t, pub.sorted()[0].RecipientIDs, 7)
}

func TestDispatcher_CreateJob_RejectsEmptyRecipients(t *testing.T) {
	store := newFakeJobCreator()
	pub := &fakePublisher{}
	d := newTestDispatcher(store, pub)

	_, err := d.CreateJob(context.Background(), "welcome", nil, "")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationEmptyRecipients, appErr.Code)

	// Rejected before any side effect: no job created, nothing published.
	assert.Empty(t, store.jobs)
	assert.Empty(t, pub.sorted())
}

func TestDispatcher_CreateJob_RejectsOversizedList(t *testing.T) {
	store := newFakeJobCreator()
	pub := &fakePublisher{}
	d := newTestDispatcher(store, pub)

	_, err := d.CreateJob(context.Background(), "welcome", recipientIDs(5001), "")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationRecipientLimit, appErr.Code)
	assert.Equal(t, 5000, appErr.Details["max"])
	assert.Empty(t, store.jobs)
}

func TestDispatcher_CreateJob_RejectsMissingTemplate(t *testing.T) {
	d := newTestDispatcher(newFakeJobCreator(), &fakePublisher{})

	_, err := d.CreateJob(context.Background(), "", recipientIDs(3), "")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationMissingField, appErr.Code)
}

func TestDispatcher_CreateJob_StoreFailure(t *testing.T) {
	store := newFakeJobCreator()
	store.failErr = errors.New("redis down")
	pub := &fakePublisher{}
	d := newTestDispatcher(store, pub)

	_, err := d.CreateJob(context.Background(), "welcome", recipientIDs(5), "")
	require.Error(t, err)

	// No batches may be published for a job that was never persisted.
	assert.Empty(t, pub.sorted())
}

func TestDispatcher_CreateJob_PartialPublishFailureSurfaces(t *testing.T) {
	store := newFakeJobCreator()
	pub := &fakePublisher{failIndexes: map[int]bool{1: true}}
	d := newTestDispatcher(store, pub)

	_, err := d.CreateJob(context.Background(), "welcome", recipientIDs(23), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish batch 1")

	// The job record remains; it will stall short of its expected batch
	// count since batch 1 was never dispatched.
	require.Len(t, store.jobs, 1)
	for _, job := range store.jobs {
		assert.Equal(t, 3, job.ExpectedBatchCount)
	}
}
