package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailfan/internal/external"
	"mailfan/internal/types"
)

// fakeAccountLister returns a canned page and records the requested size.
type fakeAccountLister struct {
	page     *external.AccountPage
	failErr  error
	gotSize  int
	gotToken string
}

func (f *fakeAccountLister) ListAccounts(_ context.Context, maxResults int, pageToken string) (*external.AccountPage, error) {
	f.gotSize = maxResults
	f.gotToken = pageToken
	if f.failErr != nil {
		return nil, f.failErr
	}
	return f.page, nil
}

func TestRecipientsHandler_FiltersUndeliverableAccounts(t *testing.T) {
	lister := &fakeAccountLister{page: &external.AccountPage{
		Accounts: []types.RecipientProfile{
			{ID: "r1", Email: "r1@example.com", DisplayName: "One"},
			{ID: "r2", Email: "", DisplayName: "No Email"},
			{ID: "r3", Email: "r3@example.com", Disabled: true},
			{ID: "r4", Email: "r4@example.com"},
		},
		NextPageToken: "tok_next",
	}}
	h := NewRecipientsHandler(lister, slog.New(slog.DiscardHandler))

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/v1/recipients", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RecipientListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Recipients, 2)
	assert.Equal(t, "r1", resp.Recipients[0].ID)
	assert.Equal(t, "r4", resp.Recipients[1].ID)
	assert.Equal(t, "tok_next", resp.NextPageToken)
}

func TestRecipientsHandler_PagingParams(t *testing.T) {
	lister := &fakeAccountLister{page: &external.AccountPage{}}
	h := NewRecipientsHandler(lister, slog.New(slog.DiscardHandler))

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/v1/recipients?page_size=25&page_token=tok_p", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 25, lister.gotSize)
	assert.Equal(t, "tok_p", lister.gotToken)
}

func TestRecipientsHandler_InvalidPageSize(t *testing.T) {
	h := NewRecipientsHandler(&fakeAccountLister{}, slog.New(slog.DiscardHandler))

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/v1/recipients?page_size=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecipientsHandler_DirectoryDown(t *testing.T) {
	lister := &fakeAccountLister{failErr: types.NewAppError(
		types.ErrCodeUpstreamIdentity, "directory request failed", nil)}
	h := NewRecipientsHandler(lister, slog.New(slog.DiscardHandler))

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/v1/recipients", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
