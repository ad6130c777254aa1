// handler.go — APIHandler реализует server.API, делегируя вызовы
// в отдельные handler'ы по назначению.
package handlers

import (
	"net/http"

	"github.com/bigkaa/edimirror/internal/server"
)

// APIHandler — единая реализация server.API.
type APIHandler struct {
	health      *HealthHandler
	status      *StatusHandler
	maintenance *MaintenanceHandler
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(health *HealthHandler, status *StatusHandler, maintenance *MaintenanceHandler) *APIHandler {
	return &APIHandler{
		health:      health,
		status:      status,
		maintenance: maintenance,
	}
}

func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

func (h *APIHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.status.GetStatus(w, r)
}

func (h *APIHandler) Sync(w http.ResponseWriter, r *http.Request) {
	h.maintenance.Sync(w, r)
}

// Проверка на этапе компиляции
var _ server.API = (*APIHandler)(nil)
