package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/edimirror/internal/domain/phase"
	"github.com/bigkaa/edimirror/internal/lock"
	"github.com/bigkaa/edimirror/internal/service"
	"github.com/bigkaa/edimirror/internal/storage/inventory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRunner — SyncRunner с заданным результатом.
type fakeRunner struct {
	report *service.Report
	err    error
	opts   service.RunOptions
	calls  int
}

func (f *fakeRunner) RunOnce(_ context.Context, opts service.RunOptions) (*service.Report, error) {
	f.calls++
	f.opts = opts
	return f.report, f.err
}

type fakeReadiness bool

func (f fakeReadiness) IsReady() bool { return bool(f) }

type fakeDeps map[string]bool

func (f fakeDeps) Health() map[string]bool { return f }

type fakeStatus struct {
	last       *service.Report
	inProgress bool
}

func (f *fakeStatus) LastReport() *service.Report { return f.last }
func (f *fakeStatus) IsInProgress() bool          { return f.inProgress }

type fakeCounter map[string]int

func (f fakeCounter) Count() int {
	n := 0
	for _, c := range f {
		n += c
	}
	return n
}

func (f fakeCounter) CountByBucket() map[string]int { return f }

func (f fakeCounter) Summarize() inventory.Summary {
	return inventory.Summary{Kinds: map[string]int{"MIG": f.Count()}, OpenEnded: 1}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("декодирование тела: %v", err)
	}
	return body
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestSync(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		runner     *fakeRunner
		wantStatus int
		wantCode   string
		wantDryRun bool
	}{
		{
			name:       "успешный прогон",
			runner:     &fakeRunner{report: &service.Report{RunID: "r1", Phase: phase.Done, Created: 2}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "пробный прогон",
			query:      "?dry_run=true",
			runner:     &fakeRunner{report: &service.Report{RunID: "r2", DryRun: true, Phase: phase.Done}},
			wantStatus: http.StatusOK,
			wantDryRun: true,
		},
		{
			name:       "некорректный dry_run",
			query:      "?dry_run=maybe",
			runner:     &fakeRunner{},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "прогон уже идёт",
			runner:     &fakeRunner{err: service.ErrRunInProgress},
			wantStatus: http.StatusConflict,
			wantCode:   "SYNC_IN_PROGRESS",
		},
		{
			name:       "корень заблокирован",
			runner:     &fakeRunner{err: lock.ErrLocked},
			wantStatus: http.StatusConflict,
			wantCode:   "MIRROR_LOCKED",
		},
		{
			name:       "ошибка каталога",
			runner:     &fakeRunner{report: &service.Report{Phase: phase.Failed}, err: errors.New("каталог недоступен")},
			wantStatus: http.StatusBadGateway,
			wantCode:   "SYNC_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewMaintenanceHandler(tt.runner, testLogger())
			req := httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/sync"+tt.query, nil)
			rec := httptest.NewRecorder()
			h.Sync(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("статус %d, ожидался %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantCode != "" {
				if code := errorCode(t, rec); code != tt.wantCode {
					t.Errorf("код %q, ожидался %q", code, tt.wantCode)
				}
				return
			}

			body := decodeBody(t, rec)
			if body["run_id"] != tt.runner.report.RunID {
				t.Errorf("run_id = %v", body["run_id"])
			}
			if tt.runner.opts.DryRun != tt.wantDryRun {
				t.Errorf("DryRun = %v, ожидалось %v", tt.runner.opts.DryRun, tt.wantDryRun)
			}
		})
	}
}

func TestSync_LockedReportsHolder(t *testing.T) {
	holder := &lock.Holder{PID: 4242, RunID: "cron-7", StartedAt: time.Date(2024, 4, 3, 2, 0, 0, 0, time.UTC)}
	h := NewMaintenanceHandler(&fakeRunner{err: &lock.LockedError{Holder: holder}}, testLogger())
	rec := httptest.NewRecorder()
	h.Sync(rec, httptest.NewRequest(http.MethodPost, "/api/v1/maintenance/sync", nil))

	if rec.Code != http.StatusConflict {
		t.Fatalf("статус %d", rec.Code)
	}
	body := decodeBody(t, rec)
	e, _ := body["error"].(map[string]any)
	if e["code"] != "MIRROR_LOCKED" {
		t.Errorf("код %v", e["code"])
	}
	msg, _ := e["message"].(string)
	for _, want := range []string{"run_id=cron-7", "pid=4242", "2024-04-03T02:00:00Z"} {
		if !strings.Contains(msg, want) {
			t.Errorf("сообщение %q не содержит %q", msg, want)
		}
	}
}

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler("", nil, nil)
	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" || body["service"] != "edi-mirror" {
		t.Errorf("тело: %v", body)
	}
}

func TestHealthReady(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name       string
		rootDir    string
		ready      bool
		deps       DependencyHealth
		wantStatus int
		wantState  string
	}{
		{"всё в порядке", root, true, fakeDeps{"edi-portal:host:443": true}, http.StatusOK, "ok"},
		{"портал недоступен", root, true, fakeDeps{"edi-portal:host:443": false}, http.StatusOK, "degraded"},
		{"индекс не построен", root, false, nil, http.StatusServiceUnavailable, "fail"},
		{"корень отсутствует", filepath.Join(root, "absent"), true, nil, http.StatusServiceUnavailable, "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.rootDir, fakeReadiness(tt.ready), tt.deps)
			rec := httptest.NewRecorder()
			h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("статус %d, ожидался %d", rec.Code, tt.wantStatus)
			}
			if body := decodeBody(t, rec); body["status"] != tt.wantState {
				t.Errorf("status = %v, ожидался %s", body["status"], tt.wantState)
			}
		})
	}

	// проверочный файл не остаётся в корне
	if _, err := os.Stat(filepath.Join(root, ".health_check")); !os.IsNotExist(err) {
		t.Error(".health_check не удалён")
	}
}

func TestGetStatus(t *testing.T) {
	status := &fakeStatus{
		last:       &service.Report{RunID: "r1", Phase: phase.Done, Evicted: 4},
		inProgress: true,
	}
	h := NewStatusHandler(status, fakeCounter{"FV2310": 2, "FV2404": 3})

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	var resp struct {
		InProgress bool           `json:"in_progress"`
		Files      int            `json:"files"`
		Buckets    map[string]int `json:"buckets"`
		Summary    struct {
			Kinds     map[string]int `json:"kinds"`
			OpenEnded int            `json:"open_ended"`
		} `json:"summary"`
		LastRun struct {
			RunID   string `json:"run_id"`
			Evicted int    `json:"evicted"`
		} `json:"last_run"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("декодирование: %v", err)
	}
	if !resp.InProgress || resp.Files != 5 || resp.Buckets["FV2404"] != 3 {
		t.Errorf("ответ: %+v", resp)
	}
	if resp.Summary.Kinds["MIG"] != 5 || resp.Summary.OpenEnded != 1 {
		t.Errorf("summary: %+v", resp.Summary)
	}
	if resp.LastRun.RunID != "r1" || resp.LastRun.Evicted != 4 {
		t.Errorf("last_run: %+v", resp.LastRun)
	}
}

func TestGetStatus_NoRunsYet(t *testing.T) {
	h := NewStatusHandler(&fakeStatus{}, fakeCounter{})
	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))

	body := decodeBody(t, rec)
	if body["last_run"] != nil {
		t.Errorf("last_run = %v, ожидался null", body["last_run"])
	}
}
