package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mailfan/internal/core"
	"mailfan/internal/types"
)

// TemplateStore manages provider-side email templates.
type TemplateStore interface {
	Create(ctx context.Context, tmpl types.EmailTemplate) error
	Get(ctx context.Context, name string) (*types.EmailTemplate, error)
	List(ctx context.Context) ([]types.EmailTemplate, error)
	Update(ctx context.Context, tmpl types.EmailTemplate) error
	Delete(ctx context.Context, name string) error
}

// TemplateRequest is the body for creating or updating a template. On
// update the name comes from the URL, not the body.
type TemplateRequest struct {
	Name     string `json:"name,omitempty"`
	Subject  string `json:"subject" validate:"required"`
	HTMLBody string `json:"html_body,omitempty"`
	TextBody string `json:"text_body,omitempty"`
}

// TemplatesHandler serves email template management.
type TemplatesHandler struct {
	store     TemplateStore
	validator *core.Validator
	logger    *slog.Logger
}

// NewTemplatesHandler creates a TemplatesHandler.
func NewTemplatesHandler(store TemplateStore, v *core.Validator, logger *slog.Logger) *TemplatesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplatesHandler{store: store, validator: v, logger: logger}
}

// RegisterRoutes mounts the template endpoints.
func (h *TemplatesHandler) RegisterRoutes(r chi.Router) {
	r.Route("/templates", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Get("/{name}", h.Get)
		r.Put("/{name}", h.Update)
		r.Delete("/{name}", h.Delete)
	})
}

// List handles GET /v1/templates.
func (h *TemplatesHandler) List(w http.ResponseWriter, r *http.Request) {
	templates, err := h.store.List(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if templates == nil {
		templates = []types.EmailTemplate{}
	}
	core.JSON(w, r, http.StatusOK, map[string]any{"templates": templates})
}

// Create handles POST /v1/templates.
func (h *TemplatesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if req.Name == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField, "name is required", nil))
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	tmpl := types.EmailTemplate{
		Name:     req.Name,
		Subject:  req.Subject,
		HTMLBody: req.HTMLBody,
		TextBody: req.TextBody,
	}
	if err := h.store.Create(r.Context(), tmpl); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "template created", "template", req.Name)
	core.JSON(w, r, http.StatusCreated, tmpl)
}

// Get handles GET /v1/templates/{name}.
func (h *TemplatesHandler) Get(w http.ResponseWriter, r *http.Request) {
	tmpl, err := h.store.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, tmpl)
}

// Update handles PUT /v1/templates/{name}.
func (h *TemplatesHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req TemplateRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	tmpl := types.EmailTemplate{
		Name:     chi.URLParam(r, "name"),
		Subject:  req.Subject,
		HTMLBody: req.HTMLBody,
		TextBody: req.TextBody,
	}
	if err := h.store.Update(r.Context(), tmpl); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "template updated", "template", tmpl.Name)
	core.JSON(w, r, http.StatusOK, tmpl)
}

// Delete handles DELETE /v1/templates/{name}.
func (h *TemplatesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.store.Delete(r.Context(), name); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "template deleted", "template", name)
	w.WriteHeader(http.StatusNoContent)
}
