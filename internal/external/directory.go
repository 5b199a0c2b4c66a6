package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"mailfan/internal/types"
)

// directoryTimeout bounds a single directory call; resolution happens on
// the batch-delivery hot path.
const directoryTimeout = 10 * time.Second

// DirectoryClient resolves opaque recipient IDs into deliverable profiles
// against the identity provider's REST API, and lists the account
// directory for the dashboard's recipient picker.
type DirectoryClient struct {
	base    *BaseClient
	baseURL string
	token   types.SecretString
}

// NewDirectoryClient creates a directory client. baseURL has no trailing
// slash.
func NewDirectoryClient(baseURL string, token types.SecretString, opts ...BaseClientOption) *DirectoryClient {
	return &DirectoryClient{
		base: NewBaseClient(
			&http.Client{Timeout: directoryTimeout},
			"directory",
			DefaultRetryPolicy(),
			"mailfan/1.0",
			opts...,
		),
		baseURL: baseURL,
		token:   token,
	}
}

// AccountPage is one page of the recipient directory listing.
type AccountPage struct {
	Accounts      []types.RecipientProfile `json:"accounts"`
	NextPageToken string                   `json:"next_page_token,omitempty"`
}

// Resolve fetches the profile for one recipient ID. An unknown ID maps to
// a not-found error; the processor records it as a per-recipient failure.
func (c *DirectoryClient) Resolve(ctx context.Context, recipientID string) (*types.RecipientProfile, error) {
	endpoint := c.baseURL + "/v1/accounts/" + url.PathEscape(recipientID)
	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, types.NewAppError(types.ErrCodeNotFoundRecipient,
			fmt.Sprintf("recipient %s not found", recipientID), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, types.NewAppError(types.ErrCodeUpstreamIdentity,
			fmt.Sprintf("directory returned %d for recipient %s", resp.StatusCode, recipientID), nil)
	}

	var profile types.RecipientProfile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&profile); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamIdentity,
			"failed to decode directory response", err)
	}
	return &profile, nil
}

// ListAccounts returns one page of the account directory. maxResults is
// clamped by the provider; an empty pageToken starts from the beginning.
func (c *DirectoryClient) ListAccounts(ctx context.Context, maxResults int, pageToken string) (*AccountPage, error) {
	endpoint, err := url.Parse(c.baseURL + "/v1/accounts")
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "invalid directory base URL", err)
	}
	q := endpoint.Query()
	if maxResults > 0 {
		q.Set("max_results", strconv.Itoa(maxResults))
	}
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}
	endpoint.RawQuery = q.Encode()

	resp, err := c.get(ctx, endpoint.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.NewAppError(types.ErrCodeUpstreamIdentity,
			fmt.Sprintf("directory listing returned %d", resp.StatusCode), nil)
	}

	var page AccountPage
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&page); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamIdentity,
			"failed to decode directory listing", err)
	}
	return &page, nil
}

func (c *DirectoryClient) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to build directory request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token.Unmask())
	req.Header.Set("Accept", "application/json")

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamIdentity, "directory request failed", err)
	}
	return resp, nil
}
