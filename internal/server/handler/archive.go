package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/mockexchange/internal/domain"
)

// ArchiveHandler lists archived trade files in object storage.
type ArchiveHandler struct {
	blobs  domain.BlobReader
	logger *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logger}
}

// ListArchives lists objects under trades/, optionally narrowed by ?day=
// (YYYY/MM/DD).
// GET /api/archives
func (h *ArchiveHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	prefix := domain.TradeArchivePrefix
	if day := strings.Trim(r.URL.Query().Get("day"), "/"); day != "" {
		if strings.Contains(day, "..") {
			writeError(w, http.StatusBadRequest, "invalid day")
			return
		}
		prefix += day + "/"
	}
	files, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		fail(w, r, h.logger, "failed to list archives", err)
		return
	}
	if files == nil {
		files = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"prefix": prefix, "files": files})
}
