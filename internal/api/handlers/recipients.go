package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"mailfan/internal/core"
	"mailfan/internal/external"
	"mailfan/internal/types"
)

// defaultDirectoryPageSize is requested from the directory when the client
// does not specify one.
const defaultDirectoryPageSize = 200

// AccountLister pages through the identity provider's account directory.
type AccountLister interface {
	ListAccounts(ctx context.Context, maxResults int, pageToken string) (*external.AccountPage, error)
}

// RecipientListResponse is the body for the directory listing. Only
// deliverable accounts are included; disabled or email-less accounts are
// filtered out so the dashboard never offers recipients a job would
// immediately fail on.
type RecipientListResponse struct {
	Recipients    []types.RecipientProfile `json:"recipients"`
	NextPageToken string                   `json:"next_page_token,omitempty"`
}

// RecipientsHandler serves the recipient directory for the dashboard's
// audience picker.
type RecipientsHandler struct {
	directory AccountLister
	logger    *slog.Logger
}

// NewRecipientsHandler creates a RecipientsHandler.
func NewRecipientsHandler(directory AccountLister, logger *slog.Logger) *RecipientsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecipientsHandler{directory: directory, logger: logger}
}

// RegisterRoutes mounts the recipient directory endpoint.
func (h *RecipientsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/recipients", h.List)
}

// List handles GET /v1/recipients?page_size=&page_token=.
func (h *RecipientsHandler) List(w http.ResponseWriter, r *http.Request) {
	pageSize := defaultDirectoryPageSize
	if raw := r.URL.Query().Get("page_size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"page_size must be a positive integer",
				err,
			))
			return
		}
		if parsed < pageSize {
			pageSize = parsed
		}
	}

	page, err := h.directory.ListAccounts(r.Context(), pageSize, r.URL.Query().Get("page_token"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := RecipientListResponse{
		Recipients:    make([]types.RecipientProfile, 0, len(page.Accounts)),
		NextPageToken: page.NextPageToken,
	}
	for _, account := range page.Accounts {
		if account.Disabled || account.Email == "" {
			continue
		}
		resp.Recipients = append(resp.Recipients, account)
	}

	core.JSON(w, r, http.StatusOK, resp)
}
