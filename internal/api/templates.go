package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/petar554/podshot/internal/region"
	"github.com/petar554/podshot/internal/template"
	"github.com/rs/zerolog/hlog"
)

// TemplatesHandler exposes the region template store.
type TemplatesHandler struct {
	store   template.Store
	catalog template.CatalogSource
}

func NewTemplatesHandler(store template.Store, catalog template.CatalogSource) *TemplatesHandler {
	return &TemplatesHandler{store: store, catalog: catalog}
}

// Routes registers template routes on the given router.
func (h *TemplatesHandler) Routes(r chi.Router) {
	r.Get("/templates", h.List)
	r.Post("/templates", h.Create)
	r.Get("/templates/{id}", h.Get)
	r.Get("/templates/catalog", h.Catalog)
}

type templateListResponse struct {
	Templates []template.Summary `json:"templates"`
	Total     int                `json:"total"`
}

// List returns stored templates, oldest first.
func (h *TemplatesHandler) List(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	all, err := h.store.List(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to list templates")
		WriteError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}

	start := min(p.Offset, len(all))
	end := min(start+p.Limit, len(all))
	WriteJSON(w, http.StatusOK, templateListResponse{
		Templates: template.Summarize(all[start:end]),
		Total:     len(all),
	})
}

// Get returns one template with its regions.
func (h *TemplatesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := PathInt64(r, "id")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid template id")
		return
	}
	t, err := h.store.Get(r.Context(), id)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Int64("id", id).Msg("failed to get template")
		WriteError(w, http.StatusInternalServerError, "failed to get template")
		return
	}
	if t == nil {
		WriteError(w, http.StatusNotFound, "template not found")
		return
	}
	WriteJSON(w, http.StatusOK, t)
}

type createTemplateRequest struct {
	Name     string                `json:"name"`
	Hash     string                `json:"hash"`
	Features template.Features     `json:"features"`
	Regions  map[string]region.Box `json:"regions"`
}

// Create inserts a template. Inserting an existing hash returns the stored
// template with 200 instead of 201.
func (h *TemplatesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status := http.StatusCreated
	if req.Hash != "" {
		existing, err := h.store.FindByHash(r.Context(), req.Hash)
		if err == nil && existing != nil {
			status = http.StatusOK
		}
	}

	t, err := h.store.Insert(r.Context(), template.NewTemplate{
		Name:     req.Name,
		Hash:     req.Hash,
		Features: req.Features,
		Regions:  req.Regions,
	})
	if err != nil {
		if errors.Is(err, template.ErrInvalidTemplate) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		hlog.FromRequest(r).Error().Err(err).Str("name", req.Name).Msg("failed to insert template")
		WriteError(w, http.StatusInternalServerError, "failed to insert template")
		return
	}
	WriteJSON(w, status, t)
}

// Catalog returns the built-in layouts in tie-break order.
func (h *TemplatesHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	var ts []template.Template
	if h.catalog != nil {
		ts = h.catalog.Templates()
	}
	if ts == nil {
		ts = []template.Template{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"templates": ts})
}
