package external

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailfan/internal/types"
)

func testBatchMessage() types.BatchMessage {
	return types.BatchMessage{
		JobID:        "job_1",
		TemplateID:   "welcome",
		RecipientIDs: []string{"r1", "r2"},
		BatchIndex:   0,
		TotalBatches: 1,
	}
}

func TestRelayClient_Publish(t *testing.T) {
	var gotPath, gotAuth, gotRetries string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotRetries = r.Header.Get(RetriesHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewRelayClient(srv.URL, "https://mail.example.com/v1/webhooks/batches", "brk_token", 3,
		WithSleepFunc(func(time.Duration) {}))

	require.NoError(t, c.Publish(context.Background(), testBatchMessage()))

	// The broker receives the callback URL as the path suffix of the
	// publish endpoint.
	assert.Equal(t, "/https://mail.example.com/v1/webhooks/batches", gotPath)
	assert.Equal(t, "Bearer brk_token", gotAuth)
	assert.Equal(t, "3", gotRetries)

	var msg types.BatchMessage
	require.NoError(t, json.Unmarshal(gotBody, &msg))
	assert.Equal(t, "job_1", msg.JobID)
	assert.Equal(t, []string{"r1", "r2"}, msg.RecipientIDs)
}

func TestRelayClient_PublishRejectedByBroker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewRelayClient(srv.URL, "https://mail.example.com/v1/webhooks/batches", "brk_token", 3,
		WithSleepFunc(func(time.Duration) {}))

	err := c.Publish(context.Background(), testBatchMessage())
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeUpstreamBroker, appErr.Code)
}

func TestRelayClient_PublishBrokerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewRelayClient(srv.URL, "https://mail.example.com/v1/webhooks/batches", "brk_token", 3,
		WithSleepFunc(func(time.Duration) {}))

	err := c.Publish(context.Background(), testBatchMessage())
	require.Error(t, err)
	assert.Equal(t, types.ErrCodeUpstreamBroker, err.(*types.AppError).Code)
}
