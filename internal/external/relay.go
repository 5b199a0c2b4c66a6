package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mailfan/internal/types"
)

const (
	relayTimeout = 15 * time.Second

	// RetriesHeader asks the broker for a per-message redelivery budget.
	RetriesHeader = "X-Relay-Retries"
)

// RelayClient publishes batch messages to the push-delivery broker. The
// broker stores each message durably, then POSTs it to the callback URL
// with an HMAC signature header; failed callbacks are redelivered up to
// the requested retry budget.
type RelayClient struct {
	base        *BaseClient
	publishURL  string
	callbackURL string
	token       types.SecretString
	maxRetries  int
}

// NewRelayClient creates a broker publisher. publishURL is the broker's
// publish endpoint; callbackURL is this service's webhook URL the broker
// delivers to.
func NewRelayClient(publishURL, callbackURL string, token types.SecretString, maxRetries int, opts ...BaseClientOption) *RelayClient {
	return &RelayClient{
		base: NewBaseClient(
			&http.Client{Timeout: relayTimeout},
			"relay",
			DefaultRetryPolicy(),
			"mailfan/1.0",
			opts...,
		),
		publishURL:  strings.TrimSuffix(publishURL, "/"),
		callbackURL: callbackURL,
		token:       token,
		maxRetries:  maxRetries,
	}
}

// Publish hands one batch message to the broker. The broker signs the
// payload itself on delivery, so the body here is the plain JSON message.
func (c *RelayClient) Publish(ctx context.Context, msg types.BatchMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode batch message", err)
	}

	endpoint := c.publishURL + "/" + c.callbackURL
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build publish request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token.Unmask())
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RetriesHeader, strconv.Itoa(c.maxRetries))

	resp, err := c.base.Do(req)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamBroker,
			fmt.Sprintf("failed to publish batch %d of job %s", msg.BatchIndex, msg.JobID), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.NewAppError(types.ErrCodeUpstreamBroker,
			fmt.Sprintf("broker returned %d publishing batch %d of job %s", resp.StatusCode, msg.BatchIndex, msg.JobID), nil)
	}
	return nil
}
