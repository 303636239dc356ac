package http

import (
	"context"
	"net/http"

	"github.com/frostwatch/frostwatch/internal/archive"
	"github.com/frostwatch/frostwatch/internal/manifest"
)

// Archiver lists and restores archived partitions.
type Archiver interface {
	List(ctx context.Context) ([]*manifest.ArchiveRecord, error)
	Restore(ctx context.Context, dst archive.Restorer, partition string) (*archive.RestoreResult, error)
}

// ArchivesResponse lists archived partitions.
type ArchivesResponse struct {
	Success  bool                      `json:"success"`
	Count    int                       `json:"count"`
	Archives []*manifest.ArchiveRecord `json:"archives"`
}

// RestoreResponse reports a restored partition.
type RestoreResponse struct {
	Success   bool   `json:"success"`
	Partition string `json:"partition"`
	Records   int    `json:"records"`
}

// ArchiveListHandler handles GET /api/esp32/archives.
type ArchiveListHandler struct {
	archiver Archiver
}

// NewArchiveListHandler creates a handler listing archives.
func NewArchiveListHandler(a Archiver) *ArchiveListHandler {
	return &ArchiveListHandler{archiver: a}
}

// ServeHTTP handles the archive list request.
func (h *ArchiveListHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	list, err := h.archiver.List(r.Context())
	if err != nil {
		writeFrostError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ArchivesResponse{Success: true, Count: len(list), Archives: list})
}

// RestoreHandler handles POST /api/esp32/archives/restore.
type RestoreHandler struct {
	archiver Archiver
	dst      archive.Restorer
}

// NewRestoreHandler creates a handler restoring archives into dst.
func NewRestoreHandler(a Archiver, dst archive.Restorer) *RestoreHandler {
	return &RestoreHandler{archiver: a, dst: dst}
}

// ServeHTTP handles the restore request.
func (h *RestoreHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params, err := parseRestoreParams(r.URL.Query())
	if err != nil {
		writeFrostError(w, r, err)
		return
	}

	res, err := h.archiver.Restore(r.Context(), h.dst, params.Partition)
	if err != nil {
		writeFrostError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RestoreResponse{
		Success:   true,
		Partition: params.Partition,
		Records:   res.Records,
	})
}
