package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/mockexchange/internal/domain"
)

// Viewer is the in-process live book.
type Viewer interface {
	View() domain.BookView
}

// AssetSelector is the shared selection state.
type AssetSelector interface {
	Selected() domain.Asset
	Select(a domain.Asset) error
	ToggleFavorite(id string) (bool, error)
	Favorites() []string
}

// BookHandler serves the current order book view.
type BookHandler struct {
	live      Viewer
	cache     domain.BookCache
	selection AssetSelector
	logger    *slog.Logger
}

// NewBookHandler creates a BookHandler. live is nil when the controller
// runs in another process; cache is then the only source.
func NewBookHandler(live Viewer, cache domain.BookCache, selection AssetSelector, logger *slog.Logger) *BookHandler {
	return &BookHandler{live: live, cache: cache, selection: selection, logger: logger}
}

// GetBook returns the view for ?asset=, defaulting to the selected asset.
// GET /api/book
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	asset := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("asset")))
	if asset == "" {
		asset = h.selection.Selected().ID
	}

	if h.live != nil {
		if v := h.live.View(); v.Snapshot.AssetID == asset {
			writeJSON(w, http.StatusOK, v)
			return
		}
	}
	if h.cache == nil {
		writeError(w, http.StatusNotFound, "no book for "+asset)
		return
	}
	v, err := h.cache.GetView(r.Context(), asset)
	if err != nil {
		fail(w, r, h.logger, "failed to load book", err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
