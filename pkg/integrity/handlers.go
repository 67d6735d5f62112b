package integrity

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/cardfolio/backoffice/pkg/httputil"
)

// Handlers exposes integrity validation over HTTP
type Handlers struct {
	runner *Runner
}

func NewHandlers(runner *Runner) *Handlers {
	return &Handlers{runner: runner}
}

// RegisterRoutes registers integrity endpoints on the router
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/integrity/check", h.check).Methods(http.MethodGet)
}

// check runs either a single named check (?check=orphaned|quantities|profit)
// or, with no parameter, the full suite.
func (h *Handlers) check(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("check")
	if name == "" {
		report := h.runner.RunAll(r.Context())
		httputil.WriteSuccess(w, map[string]interface{}{"report": report})
		return
	}

	result, err := h.runner.RunCheck(r.Context(), name)
	if err != nil {
		httputil.WriteErrorMessage(w, http.StatusBadRequest,
			fmt.Sprintf("unknown check %q: valid checks are %s", name, strings.Join(h.runner.Checks(), ", ")))
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"check": result})
}
