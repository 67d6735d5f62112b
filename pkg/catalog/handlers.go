package catalog

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cardfolio/backoffice/pkg/httputil"
)

// Handlers exposes catalog lookups over HTTP
type Handlers struct {
	cache *Cache
}

func NewHandlers(cache *Cache) *Handlers {
	return &Handlers{cache: cache}
}

// RegisterRoutes registers catalog endpoints on the router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/catalog/cards/{id}", h.getCard).Methods(http.MethodGet)
}

func (h *Handlers) getCard(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	card, err := h.cache.GetCard(r.Context(), id)
	if err != nil {
		var notFound *ErrNotFound
		if errors.As(err, &notFound) {
			httputil.WriteNotFoundError(w, notFound.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"card": card})
}
