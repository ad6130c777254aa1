// maintenance.go — обработчик POST /api/v1/maintenance/sync.
// Делегирует прогон синхронизации в MirrorService.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/edimirror/internal/api/errors"
	"github.com/bigkaa/edimirror/internal/lock"
	"github.com/bigkaa/edimirror/internal/service"
)

// SyncRunner — запуск прогона синхронизации.
// Позволяет тестировать handler без полного MirrorService.
type SyncRunner interface {
	RunOnce(ctx context.Context, opts service.RunOptions) (*service.Report, error)
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	runner SyncRunner
	logger *slog.Logger
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(runner SyncRunner, logger *slog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		runner: runner,
		logger: logger.With(slog.String("component", "maintenance_handler")),
	}
}

// Sync обрабатывает POST /api/v1/maintenance/sync[?dry_run=true].
// Прогон выполняется синхронно; отключение клиента его не прерывает.
//
//   - 200 — отчёт о завершённом прогоне
//   - 400 — некорректный dry_run
//   - 409 SYNC_IN_PROGRESS / MIRROR_LOCKED — прогон уже идёт
//   - 502 SYNC_FAILED — прогон прерван, тело содержит код и причину
func (h *MaintenanceHandler) Sync(w http.ResponseWriter, r *http.Request) {
	var dryRun bool
	if err := runtime.BindQueryParameter("form", true, false, "dry_run", r.URL.Query(), &dryRun); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр dry_run: "+err.Error())
		return
	}

	ctx := context.WithoutCancel(r.Context())
	report, err := h.runner.RunOnce(ctx, service.RunOptions{DryRun: dryRun})
	switch {
	case errors.Is(err, service.ErrRunInProgress):
		apierrors.SyncInProgress(w, "Синхронизация уже выполняется")
		return
	case errors.Is(err, lock.ErrLocked):
		apierrors.MirrorLocked(w, lockedMessage(err))
		return
	case err != nil:
		h.logger.Error("Ручной прогон синхронизации прерван",
			slog.String("error", err.Error()),
		)
		apierrors.SyncFailed(w, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// lockedMessage — текст 409 MIRROR_LOCKED с владельцем блокировки, если он известен.
func lockedMessage(err error) string {
	msg := "Корень зеркала заблокирован другим процессом"
	var locked *lock.LockedError
	if errors.As(err, &locked) && locked.Holder != nil {
		msg += fmt.Sprintf(": run_id=%s, pid=%d, с %s",
			locked.Holder.RunID, locked.Holder.PID, locked.Holder.StartedAt.Format(time.RFC3339))
	}
	return msg
}
