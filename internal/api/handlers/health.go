// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/edimirror/internal/config"
)

const (
	statusOK       = "ok"
	statusFail     = "fail"
	statusDegraded = "degraded"
)

// ReadinessChecker — проверка готовности индекса файлов.
type ReadinessChecker interface {
	IsReady() bool
}

// DependencyHealth — состояние внешних зависимостей (dephealth).
type DependencyHealth interface {
	Health() map[string]bool
}

// HealthHandler реализует /health/live и /health/ready.
type HealthHandler struct {
	version string
	// rootDir — корень зеркала (проверка записи)
	rootDir string
	inv     ReadinessChecker
	// deps — nil, если мониторинг зависимостей не настроен
	deps DependencyHealth
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(rootDir string, inv ReadinessChecker, deps DependencyHealth) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		rootDir: rootDir,
		inv:     inv,
		deps:    deps,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    statusOK,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "edi-mirror",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Корень недоступен на запись или индекс не построен — 503.
// Недоступный портал даёт degraded: локальное зеркало продолжает обслуживаться.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := statusOK
	httpStatus := http.StatusOK

	fsCheck := h.checkFilesystem()
	if fsCheck["status"] != statusOK {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	inventoryCheck := map[string]any{"status": statusOK}
	if h.inv != nil && !h.inv.IsReady() {
		inventoryCheck = map[string]any{"status": statusFail, "message": "Индекс файлов не построен"}
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	checks := map[string]any{
		"filesystem": fsCheck,
		"inventory":  inventoryCheck,
	}

	if h.deps != nil {
		deps := h.deps.Health()
		checks["dependencies"] = deps
		for _, ok := range deps {
			if !ok && overallStatus == statusOK {
				overallStatus = statusDegraded
			}
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "edi-mirror",
		"checks":    checks,
	})
}

// checkFilesystem проверяет, что корень зеркала доступен на запись.
// Проверочный файл скрытый и не попадает в индекс.
func (h *HealthHandler) checkFilesystem() map[string]any {
	if h.rootDir == "" {
		return map[string]any{
			"status":  statusOK,
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(h.rootDir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Корень зеркала недоступен для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{"status": statusOK}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
