// mirror.go — сервис синхронизации зеркала документов с порталом.
//
// Один прогон проходит фазы:
//
//	init → fetch → plan → download → evict → done
//
//   - init: проверка корня, межпроцессная блокировка, пересборка индекса
//   - fetch: загрузка каталога (ошибка фатальна)
//   - plan: желаемое множество <версия>/<имя> по всем скачиваемым документам
//   - download: параллельная загрузка пар (документ, версия) с решением
//     детектора изменений о замене существующего файла
//   - evict: удаление файлов вне желаемого множества, только после того
//     как все загрузки завершены и прогон не отменён
//
// Запускается по тикеру (MIRROR_SYNC_INTERVAL) или вручную через API.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/edimirror/internal/domain/document"
	"github.com/bigkaa/edimirror/internal/domain/formatversion"
	"github.com/bigkaa/edimirror/internal/domain/phase"
	"github.com/bigkaa/edimirror/internal/lock"
	"github.com/bigkaa/edimirror/internal/storage/changedetect"
	"github.com/bigkaa/edimirror/internal/storage/filename"
	"github.com/bigkaa/edimirror/internal/storage/filestore"
	"github.com/bigkaa/edimirror/internal/storage/inventory"
)

// Prometheus метрики синхронизации
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_runs_total",
		Help: "Количество прогонов синхронизации по результату",
	}, []string{"result"})

	runDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "mirror_run_duration_seconds",
		Help:    "Длительность прогона синхронизации в секундах",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	// filesTotal — итоги загрузки пар (документ, версия).
	filesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_files_total",
		Help: "Результаты загрузки файлов",
	}, []string{"outcome"})

	evictedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mirror_evicted_total",
		Help: "Количество удалённых файлов",
	})

	skippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mirror_skipped_total",
		Help: "Количество пропущенных документов и пар (документ, версия)",
	})

	desiredFiles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mirror_desired_files",
		Help: "Размер желаемого множества файлов по эпохе действия документа",
	}, []string{"epoch"})

	desiredFilesByDivision = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mirror_desired_files_by_division",
		Help: "Размер желаемого множества файлов по сегменту рынка (Gas, Strom, other)",
	}, []string{"division"})

	localFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mirror_local_files",
		Help: "Количество файлов в зеркале после прогона",
	})
)

// ErrRunInProgress — прогон уже выполняется в этом процессе.
var ErrRunInProgress = errors.New("прогон синхронизации уже выполняется")

// Transport — источник каталога и содержимого документов.
type Transport interface {
	FetchCatalog(ctx context.Context) ([]document.CatalogEntry, error)
	// Download открывает поток файла; вызывающий код закрывает его.
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// Outcome — результат загрузки одной пары (документ, версия).
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeReplaced  Outcome = "replaced"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeFailed    Outcome = "failed"
)

// RunOptions — параметры одного прогона.
type RunOptions struct {
	// DryRun — только fetch и plan, без изменений на диске
	DryRun bool
}

// Skipped — документ или пара (документ, версия), не попавшие в зеркало.
type Skipped struct {
	ID     string `json:"id"`
	Bucket string `json:"bucket,omitempty"`
	Reason string `json:"reason"`
}

// Report — итог прогона.
type Report struct {
	RunID          string                   `json:"run_id"`
	DryRun         bool                     `json:"dry_run"`
	Phase          phase.Phase              `json:"phase"`
	StartedAt      time.Time                `json:"started_at"`
	CompletedAt    time.Time                `json:"completed_at"`
	CatalogEntries int                      `json:"catalog_entries"`
	Ignored        int                      `json:"ignored"`
	Desired        int                      `json:"desired"`
	Divisions      map[string]int           `json:"divisions"`
	Created        int                      `json:"created"`
	Replaced       int                      `json:"replaced"`
	Unchanged      int                      `json:"unchanged"`
	Failed         int                      `json:"failed"`
	Evicted        int                      `json:"evicted"`
	WouldEvict     []string                 `json:"would_evict,omitempty"`
	Skipped        []Skipped                `json:"skipped"`
	History        []phase.TransitionRecord `json:"history"`
	Error          string                   `json:"error,omitempty"`
}

// Downloaded возвращает количество записанных на диск файлов.
func (r *Report) Downloaded() int {
	return r.Created + r.Replaced
}

// MirrorOptions — настройки сервиса синхронизации.
type MirrorOptions struct {
	// Interval — период фоновой синхронизации
	Interval time.Duration
	// RetainOnFailure — сохранять существующий файл при ошибке его загрузки
	RetainOnFailure bool
	// Now — источник текущего времени; nil — time.Now
	Now func() time.Time
}

// MirrorService — сервис синхронизации зеркала.
type MirrorService struct {
	transport       Transport
	store           *filestore.FileStore
	inv             *inventory.Inventory
	codec           *filename.Codec
	detector        *changedetect.Detector
	interval        time.Duration
	retainOnFailure bool
	now             func() time.Time
	logger          *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
	last      *Report
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewMirrorService создаёт сервис синхронизации.
func NewMirrorService(
	transport Transport,
	store *filestore.FileStore,
	inv *inventory.Inventory,
	codec *filename.Codec,
	detector *changedetect.Detector,
	opts MirrorOptions,
	logger *slog.Logger,
) *MirrorService {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &MirrorService{
		transport:       transport,
		store:           store,
		inv:             inv,
		codec:           codec,
		detector:        detector,
		interval:        opts.Interval,
		retainOnFailure: opts.RetainOnFailure,
		now:             now,
		logger:          logger.With(slog.String("component", "mirror")),
	}
}

// Start запускает фоновую синхронизацию: первый прогон сразу, далее по тикеру.
func (ms *MirrorService) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	ms.cancel = cancel
	ms.done = make(chan struct{})

	go ms.run(runCtx)

	ms.logger.Info("Фоновая синхронизация запущена",
		slog.String("interval", ms.interval.String()),
	)
}

// Stop останавливает фоновую синхронизацию и дожидается текущего прогона.
func (ms *MirrorService) Stop() {
	if ms.cancel != nil {
		ms.cancel()
		<-ms.done
	}
	ms.logger.Info("Фоновая синхронизация остановлена")
}

// IsInProgress возвращает true, если прогон выполняется.
func (ms *MirrorService) IsInProgress() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.inProcess
}

// LastReport возвращает итог последнего завершённого прогона или nil.
func (ms *MirrorService) LastReport() *Report {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.last == nil {
		return nil
	}
	copied := *ms.last
	return &copied
}

func (ms *MirrorService) run(ctx context.Context) {
	defer close(ms.done)

	ms.runLogged(ctx)

	ticker := time.NewTicker(ms.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ms.runLogged(ctx)
		}
	}
}

func (ms *MirrorService) runLogged(ctx context.Context) {
	if _, err := ms.RunOnce(ctx, RunOptions{}); err != nil && !errors.Is(err, context.Canceled) {
		ms.logger.Error("Прогон синхронизации завершился ошибкой",
			slog.String("error", err.Error()),
		)
	}
}

// task — пара (документ, версия) для загрузки.
type task struct {
	rec     *document.Record
	bucket  formatversion.Version
	relPath string
}

// result — явный итог загрузки одной пары.
type result struct {
	outcome Outcome
	reason  changedetect.Reason
	err     error
}

// RunOnce выполняет один прогон синхронизации.
//
// Возвращает ErrRunInProgress, если прогон уже выполняется в этом процессе,
// и lock.ErrLocked, если корень заблокирован другим процессом. При фатальной
// ошибке возвращается и отчёт (фаза failed), и ошибка.
func (ms *MirrorService) RunOnce(ctx context.Context, opts RunOptions) (*Report, error) {
	ms.mu.Lock()
	if ms.inProcess {
		ms.mu.Unlock()
		ms.logger.Warn("Синхронизация уже выполняется, пропуск")
		return nil, ErrRunInProgress
	}
	ms.inProcess = true
	ms.mu.Unlock()

	defer func() {
		ms.mu.Lock()
		ms.inProcess = false
		ms.mu.Unlock()
	}()

	report := &Report{
		RunID:     uuid.New().String(),
		DryRun:    opts.DryRun,
		StartedAt: ms.now().UTC(),
		Skipped:   []Skipped{},
	}
	sm := phase.NewStateMachine()
	logger := ms.logger.With(slog.String("run_id", report.RunID))
	logger.Info("Синхронизация начата", slog.Bool("dry_run", opts.DryRun))

	err := ms.execute(ctx, sm, report, opts, logger)
	if err != nil {
		sm.Fail()
		report.Error = err.Error()
	}

	if errors.Is(err, lock.ErrLocked) {
		logger.Warn("Корень заблокирован другим процессом")
		return nil, err
	}

	report.Phase = sm.Current()
	report.History = sm.History()
	report.CompletedAt = ms.now().UTC()
	duration := report.CompletedAt.Sub(report.StartedAt)

	runDurationSeconds.Observe(duration.Seconds())
	switch {
	case err != nil:
		runsTotal.WithLabelValues("failed").Inc()
	case opts.DryRun:
		runsTotal.WithLabelValues("dry_run").Inc()
	default:
		runsTotal.WithLabelValues("done").Inc()
	}
	if !opts.DryRun {
		localFiles.Set(float64(ms.inv.Count()))
	}

	ms.mu.Lock()
	ms.last = report
	ms.mu.Unlock()

	if err != nil {
		logger.Error("Синхронизация прервана",
			slog.String("phase", string(report.Phase)),
			slog.String("error", err.Error()),
		)
		return report, err
	}

	logger.Info("Синхронизация завершена",
		slog.Int("desired", report.Desired),
		slog.Int("downloaded", report.Downloaded()),
		slog.Int("unchanged", report.Unchanged),
		slog.Int("failed", report.Failed),
		slog.Int("evicted", report.Evicted),
		slog.Int("skipped", len(report.Skipped)),
		slog.Duration("duration", duration),
	)
	return report, nil
}

func (ms *MirrorService) execute(
	ctx context.Context,
	sm *phase.StateMachine,
	report *Report,
	opts RunOptions,
	logger *slog.Logger,
) error {
	// init
	if err := ms.store.CheckRoot(); err != nil {
		return err
	}
	runLock, err := lock.TryAcquire(ms.store.RootDir(), report.RunID)
	if err != nil {
		return err
	}
	defer runLock.Release()

	if err := ms.inv.BuildFromDir(ms.store.RootDir()); err != nil {
		return err
	}

	// fetch
	if err := sm.TransitionTo(phase.Fetch); err != nil {
		return err
	}
	entries, err := ms.transport.FetchCatalog(ctx)
	if err != nil {
		return fmt.Errorf("загрузка каталога: %w", err)
	}
	report.CatalogEntries = len(entries)

	// plan
	if err := sm.TransitionTo(phase.Plan); err != nil {
		return err
	}
	tasks, desired := ms.plan(entries, report, logger)
	report.Desired = desired.Cardinality()

	if opts.DryRun {
		report.WouldEvict = sortedSlice(ms.inv.Paths().Difference(desired))
		return sm.TransitionTo(phase.Done)
	}

	// download
	if err := sm.TransitionTo(phase.Download); err != nil {
		return err
	}
	results := ms.downloadAll(ctx, tasks)

	for i, res := range results {
		t := tasks[i]
		filesTotal.WithLabelValues(string(res.outcome)).Inc()
		switch res.outcome {
		case OutcomeCreated:
			report.Created++
		case OutcomeReplaced:
			report.Replaced++
		case OutcomeUnchanged:
			report.Unchanged++
		case OutcomeFailed:
			report.Failed++
			report.skip(t.rec.ID(), t.bucket.String(), res.err.Error())
			if !ms.retainOnFailure {
				desired.Remove(t.relPath)
			}
			logger.Warn("Ошибка загрузки файла",
				slog.String("id", t.rec.ID()),
				slog.String("path", t.relPath),
				slog.String("error", res.err.Error()),
			)
		}
	}

	// при отмене желаемое множество неполно: удаление не выполняется
	if err := ctx.Err(); err != nil {
		return err
	}

	// evict
	if err := sm.TransitionTo(phase.Evict); err != nil {
		return err
	}
	if err := ms.inv.BuildFromDir(ms.store.RootDir()); err != nil {
		return err
	}
	for _, rel := range sortedSlice(ms.inv.Paths().Difference(desired)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := ms.store.DeleteFile(rel); err != nil {
			logger.Warn("Ошибка удаления файла",
				slog.String("path", rel),
				slog.String("error", err.Error()),
			)
			continue
		}
		ms.inv.Remove(rel)
		ms.detector.Forget(ms.store.FullPath(rel))
		report.Evicted++
		evictedTotal.Inc()
		logger.Info("Файл удалён", slog.String("path", rel))
	}

	return sm.TransitionTo(phase.Done)
}

// plan строит список пар (документ, версия) и желаемое множество путей.
// Документы с ошибками извлечения попадают в report.Skipped.
func (ms *MirrorService) plan(
	entries []document.CatalogEntry,
	report *Report,
	logger *slog.Logger,
) ([]task, mapset.Set[string]) {
	today := document.Today(ms.now()).Time
	desired := mapset.NewThreadUnsafeSet[string]()
	tasks := make([]task, 0, len(entries))
	perEpoch := map[document.Epoch]int{
		document.EpochPast:    0,
		document.EpochCurrent: 0,
		document.EpochFuture:  0,
	}
	report.Divisions = map[string]int{divisionGas: 0, divisionStrom: 0, divisionOther: 0}

	for _, e := range entries {
		rec, err := document.FromCatalog(e)
		if err != nil {
			report.skip(string(e.ID), "", err.Error())
			logger.Warn("Документ пропущен",
				slog.String("id", string(e.ID)),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !rec.Downloadable() {
			report.Ignored++
			logger.Debug("Документ не скачивается",
				slog.String("id", rec.ID()),
				slog.Bool("is_free", rec.IsFree()),
				slog.String("link", rec.Link()),
			)
			continue
		}
		if _, err := rec.Extension(); err != nil {
			report.skip(rec.ID(), "", err.Error())
			logger.Warn("Документ пропущен",
				slog.String("id", rec.ID()),
				slog.String("error", err.Error()),
			)
			continue
		}

		var validTo *time.Time
		if vt := rec.ValidTo(); vt != nil {
			validTo = &vt.Time
		}
		epoch := rec.Epoch(today)
		division := divisionOf(rec)

		for _, bucket := range formatversion.Resolve(rec.ValidFrom().Time, validTo, today) {
			rel, err := ms.codec.RelPath(rec, bucket)
			if err != nil {
				report.skip(rec.ID(), bucket.String(), err.Error())
				continue
			}
			if !desired.Add(rel) {
				continue
			}
			perEpoch[epoch]++
			report.Divisions[division]++
			tasks = append(tasks, task{rec: rec, bucket: bucket, relPath: rel})
		}
	}

	for epoch, n := range perEpoch {
		desiredFiles.WithLabelValues(string(epoch)).Set(float64(n))
	}
	for division, n := range report.Divisions {
		desiredFilesByDivision.WithLabelValues(division).Set(float64(n))
	}
	return tasks, desired
}

// Сегменты рынка в отчёте и метриках.
const (
	divisionGas   = "Gas"
	divisionStrom = "Strom"
	divisionOther = "other"
)

// divisionOf — сегмент рынка документа; общие документы попадают в other.
func divisionOf(rec *document.Record) string {
	if sparte, ok := rec.Sparte(); ok {
		return sparte
	}
	return divisionOther
}

// downloadAll загружает все пары параллельно. Ограничение числа
// одновременных соединений обеспечивает транспорт.
func (ms *MirrorService) downloadAll(ctx context.Context, tasks []task) []result {
	results := make([]result, len(tasks))
	var g errgroup.Group
	for i, t := range tasks {
		g.Go(func() error {
			results[i] = ms.download(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// download загружает одну пару: temp файл → детектор → rename или discard.
func (ms *MirrorService) download(ctx context.Context, t task) result {
	if err := ctx.Err(); err != nil {
		return result{outcome: OutcomeFailed, err: err}
	}

	body, err := ms.transport.Download(ctx, t.rec.FileID())
	if err != nil {
		return result{outcome: OutcomeFailed, err: err}
	}
	tmp, err := ms.store.WriteTemp(t.relPath, body)
	body.Close()
	if err != nil {
		return result{outcome: OutcomeFailed, err: err}
	}

	target := ms.store.FullPath(t.relPath)
	outcome := OutcomeCreated
	var reason changedetect.Reason
	if ms.store.FileExists(t.relPath) {
		verdict := ms.detector.Differs(tmp.FullPath, target)
		reason = verdict.Reason
		if !verdict.Changed {
			if err := ms.store.Discard(tmp); err != nil {
				ms.logger.Warn("Не удалось удалить временный файл",
					slog.String("path", tmp.FullPath),
					slog.String("error", err.Error()),
				)
			}
			return result{outcome: OutcomeUnchanged, reason: reason}
		}
		outcome = OutcomeReplaced
	}

	if err := ms.store.Commit(tmp); err != nil {
		return result{outcome: OutcomeFailed, err: err}
	}
	ms.detector.Forget(target)
	ms.inv.Add(t.relPath, tmp.Size, ms.now())

	ms.logger.Debug("Файл записан",
		slog.String("path", t.relPath),
		slog.String("outcome", string(outcome)),
		slog.String("reason", string(reason)),
		slog.String("sha256", tmp.Checksum),
	)
	return result{outcome: outcome, reason: reason}
}

func (r *Report) skip(id, bucket, reason string) {
	r.Skipped = append(r.Skipped, Skipped{ID: id, Bucket: bucket, Reason: reason})
	skippedTotal.Inc()
}

func sortedSlice(s mapset.Set[string]) []string {
	out := s.ToSlice()
	slices.Sort(out)
	return out
}
