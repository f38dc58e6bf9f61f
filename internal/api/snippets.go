package api

import (
	"io"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"github.com/petar554/podshot/internal/storage"
	"github.com/rs/zerolog/hlog"
)

// SnippetsHandler serves stored snippets.
type SnippetsHandler struct {
	store storage.SnippetStore
}

func NewSnippetsHandler(store storage.SnippetStore) *SnippetsHandler {
	return &SnippetsHandler{store: store}
}

// Routes registers GET /snippets/{key...}.
func (h *SnippetsHandler) Routes(r chi.Router) {
	r.Get("/snippets/*", h.Serve)
}

// Serve streams a snippet from local disk when present, otherwise from
// the backing store.
func (h *SnippetsHandler) Serve(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if !storage.ValidKey(key) {
		WriteError(w, http.StatusBadRequest, "invalid snippet key")
		return
	}

	w.Header().Set("Content-Type", storage.ContentTypeFromExt(path.Ext(key)))
	if p := h.store.LocalPath(key); p != "" {
		http.ServeFile(w, r, p)
		return
	}

	if !h.store.Exists(r.Context(), key) {
		WriteError(w, http.StatusNotFound, "snippet not found")
		return
	}
	rc, err := h.store.Open(r.Context(), key)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("key", key).Msg("failed to open snippet")
		WriteError(w, http.StatusInternalServerError, "failed to open snippet")
		return
	}
	defer rc.Close()
	w.WriteHeader(http.StatusOK)
	io.Copy(w, rc)
}
