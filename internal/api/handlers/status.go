// status.go — обработчик GET /api/v1/status: состояние зеркала
// и итог последнего прогона.
package handlers

import (
	"net/http"

	"github.com/bigkaa/edimirror/internal/service"
	"github.com/bigkaa/edimirror/internal/storage/inventory"
)

// StatusProvider — источник сведений о прогонах.
type StatusProvider interface {
	LastReport() *service.Report
	IsInProgress() bool
}

// FileCounter — количество файлов зеркала по версиям формата и видам документов.
type FileCounter interface {
	Count() int
	CountByBucket() map[string]int
	Summarize() inventory.Summary
}

// StatusResponse — тело ответа GET /api/v1/status.
type StatusResponse struct {
	InProgress bool              `json:"in_progress"`
	Files      int               `json:"files"`
	Buckets    map[string]int    `json:"buckets"`
	Summary    inventory.Summary `json:"summary"`
	LastRun    *service.Report   `json:"last_run"`
}

// StatusHandler — обработчик статуса.
type StatusHandler struct {
	runs  StatusProvider
	files FileCounter
}

// NewStatusHandler создаёт обработчик статуса.
func NewStatusHandler(runs StatusProvider, files FileCounter) *StatusHandler {
	return &StatusHandler{runs: runs, files: files}
}

// GetStatus обрабатывает GET /api/v1/status.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		InProgress: h.runs.IsInProgress(),
		Files:      h.files.Count(),
		Buckets:    h.files.CountByBucket(),
		Summary:    h.files.Summarize(),
		LastRun:    h.runs.LastReport(),
	})
}
