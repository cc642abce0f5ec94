package handler

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/mockexchange/internal/domain"
)

// SelectionHandler reads and changes the selected asset and favorites.
type SelectionHandler struct {
	selection AssetSelector
	logger    *slog.Logger
}

// NewSelectionHandler creates a SelectionHandler.
func NewSelectionHandler(selection AssetSelector, logger *slog.Logger) *SelectionHandler {
	return &SelectionHandler{selection: selection, logger: logger}
}

type selectionResponse struct {
	Asset     domain.Asset `json:"asset"`
	Favorites []string     `json:"favorites"`
}

func (h *SelectionHandler) current() selectionResponse {
	return selectionResponse{Asset: h.selection.Selected(), Favorites: h.selection.Favorites()}
}

// GetSelection returns the selected asset and favorites.
// GET /api/selection
func (h *SelectionHandler) GetSelection(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.current())
}

// PutSelection switches the selected asset. The live book follows.
// PUT /api/selection {"id":"ethereum","symbol":"ETH","name":"Ethereum"}
func (h *SelectionHandler) PutSelection(w http.ResponseWriter, r *http.Request) {
	var a domain.Asset
	if err := decodeBody(r, &a); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.selection.Select(a); err != nil {
		fail(w, r, h.logger, "failed to select asset", err)
		return
	}
	writeJSON(w, http.StatusOK, h.current())
}

// ToggleFavorite flips the favorite flag for an asset.
// POST /api/favorites/{id}
func (h *SelectionHandler) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	fav, err := h.selection.ToggleFavorite(id)
	if err != nil {
		fail(w, r, h.logger, fmt.Sprintf("failed to toggle favorite %s", id), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "favorite": fav})
}
