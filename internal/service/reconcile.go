// reconcile.go — сервис фоновой сверки (Reconciliation) хранилища файлов.
//
// Reconciliation сравнивает committed-хранилище (assets/images, assets/videos)
// с сохранённым документом. Обнаруживает проблемы:
//   - orphaned_asset: файл на диске, на который документ не ссылается
//   - missing_asset: документ ссылается на отсутствующий файл
//
// Сверка выполняется только вне сессии редактирования (Manager.RunWhileIdle).
// Orphaned-файлы удаляются при KC_RECONCILE_DELETE_ORPHANS=true.
//
// Запускается как горутина с периодическим тикером (KC_RECONCILE_INTERVAL).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/welcome-kiosk/internal/domain/model"
	"github.com/bigkaa/welcome-kiosk/internal/storage/filestore"
)

// Prometheus метрики Reconciliation
var (
	// reconcileRunsTotal — количество запусков reconciliation.
	reconcileRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kc_reconcile_runs_total",
		Help: "Общее количество запусков reconciliation",
	}, []string{"result"})

	// reconcileIssuesTotal — количество обнаруженных проблем по типу.
	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kc_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных reconciliation",
	}, []string{"type"})

	// reconcileDurationSeconds — длительность выполнения reconciliation.
	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kc_reconcile_duration_seconds",
		Help:    "Длительность выполнения reconciliation в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})
)

// ErrReconcileInProgress — сверка уже выполняется.
var ErrReconcileInProgress = errors.New("reconciliation уже выполняется")

// IssueType — тип обнаруженной проблемы.
type IssueType string

const (
	IssueOrphanedAsset IssueType = "orphaned_asset"
	IssueMissingAsset  IssueType = "missing_asset"
)

// ReconcileIssue — проблема, обнаруженная сверкой.
type ReconcileIssue struct {
	Type        IssueType      `json:"type"`
	Category    model.Category `json:"category"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	// Deleted — orphaned-файл удалён в этом запуске
	Deleted bool `json:"deleted,omitempty"`
}

// ReconcileSummary — сводка по типам проблем.
type ReconcileSummary struct {
	OrphanedAssets int `json:"orphaned_assets"`
	MissingAssets  int `json:"missing_assets"`
	Deleted        int `json:"deleted"`
	Ok             int `json:"ok"`
}

// ReconcileReport — результат одного запуска сверки.
type ReconcileReport struct {
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  time.Time        `json:"completed_at"`
	FilesChecked int              `json:"files_checked"`
	Issues       []ReconcileIssue `json:"issues"`
	Summary      ReconcileSummary `json:"summary"`
}

// IdleRunner выполняет функцию над сохранённым документом вне сессии.
type IdleRunner interface {
	RunWhileIdle(fn func(saved model.Document) error) error
}

// ReconcileService — сервис фоновой сверки хранилища.
type ReconcileService struct {
	store         *filestore.FileStore
	runner        IdleRunner
	cache         Invalidator
	interval      time.Duration
	deleteOrphans bool
	logger        *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool       // reconciliation в процессе выполнения
	cancel    context.CancelFunc
}

// NewReconcileService создаёт сервис reconciliation. cache может быть nil.
func NewReconcileService(
	store *filestore.FileStore,
	runner IdleRunner,
	cache Invalidator,
	interval time.Duration,
	deleteOrphans bool,
	logger *slog.Logger,
) *ReconcileService {
	if cache == nil {
		cache = noopInvalidator{}
	}
	return &ReconcileService{
		store:         store,
		runner:        runner,
		cache:         cache,
		interval:      interval,
		deleteOrphans: deleteOrphans,
		logger:        logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину reconciliation с периодическим тикером.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	go rs.run(rsCtx)

	rs.logger.Info("Reconciliation запущена",
		slog.String("interval", rs.interval.String()),
		slog.Bool("delete_orphans", rs.deleteOrphans),
	)
}

// Stop останавливает фоновой процесс reconciliation.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
	}
	rs.logger.Info("Reconciliation остановлена")
}

// IsInProgress возвращает true, если reconciliation выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

// run — основной цикл фоновой горутины.
func (rs *ReconcileService) run(ctx context.Context) {
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := rs.RunOnce(); err != nil {
				rs.logger.Warn("Reconciliation пропущена", slog.String("reason", err.Error()))
			}
		}
	}
}

// RunOnce выполняет один цикл reconciliation.
// Возвращает ErrReconcileInProgress при параллельном запуске и
// ErrSessionActive, если открыта сессия редактирования.
func (rs *ReconcileService) RunOnce() (*ReconcileReport, error) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		return nil, ErrReconcileInProgress
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	report := &ReconcileReport{StartedAt: time.Now().UTC(), Issues: []ReconcileIssue{}}
	rs.logger.Info("Reconciliation начата")

	err := rs.runner.RunWhileIdle(func(saved model.Document) error {
		return rs.reconcile(saved, report)
	})
	if err != nil {
		result := "error"
		if errors.Is(err, ErrSessionActive) {
			result = "skipped"
		}
		reconcileRunsTotal.WithLabelValues(result).Inc()
		return nil, err
	}

	report.CompletedAt = time.Now().UTC()
	duration := report.CompletedAt.Sub(report.StartedAt)

	for _, issue := range report.Issues {
		switch issue.Type {
		case IssueOrphanedAsset:
			report.Summary.OrphanedAssets++
		case IssueMissingAsset:
			report.Summary.MissingAssets++
		}
		if issue.Deleted {
			report.Summary.Deleted++
		}
		reconcileIssuesTotal.WithLabelValues(string(issue.Type)).Inc()
	}
	report.Summary.Ok = report.FilesChecked - report.Summary.OrphanedAssets
	if report.Summary.Ok < 0 {
		report.Summary.Ok = 0
	}

	reconcileRunsTotal.WithLabelValues("success").Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())

	rs.logger.Info("Reconciliation завершена",
		slog.Int("files_checked", report.FilesChecked),
		slog.Int("issues", len(report.Issues)),
		slog.Int("deleted", report.Summary.Deleted),
		slog.Duration("duration", duration),
	)
	return report, nil
}

// reconcile сверяет файлы категорий с сохранённым документом.
func (rs *ReconcileService) reconcile(saved model.Document, report *ReconcileReport) error {
	live := saved.LiveCommitted()
	onDisk := make(map[model.AssetKey]bool)

	for _, c := range []model.Category{model.CategoryImage, model.CategoryVideo} {
		files, err := rs.store.List(c)
		if err != nil {
			return fmt.Errorf("ошибка чтения категории %s: %w", c, err)
		}
		for _, f := range files {
			key := model.AssetKey{Category: c, Name: f.Name}
			onDisk[key] = true
			report.FilesChecked++

			if live[key] > 0 {
				continue
			}
			issue := ReconcileIssue{
				Type:        IssueOrphanedAsset,
				Category:    c,
				Name:        f.Name,
				Description: "Файл на диске, на который не ссылается документ",
			}
			if rs.deleteOrphans {
				if _, err := rs.store.DeleteCommitted(c, f.Name); err != nil {
					rs.logger.Warn("Не удалось удалить orphaned-файл",
						slog.String("category", string(c)),
						slog.String("name", f.Name),
						slog.String("error", err.Error()),
					)
				} else {
					rs.cache.InvalidateCommitted(c, f.Name)
					issue.Deleted = true
				}
			}
			report.Issues = append(report.Issues, issue)
		}
	}

	var missing []model.AssetKey
	for key := range live {
		if !onDisk[key] {
			missing = append(missing, key)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].String() < missing[j].String() })
	for _, key := range missing {
		rs.logger.Warn("Документ ссылается на отсутствующий файл",
			slog.String("category", string(key.Category)),
			slog.String("name", key.Name),
		)
		report.Issues = append(report.Issues, ReconcileIssue{
			Type:        IssueMissingAsset,
			Category:    key.Category,
			Name:        key.Name,
			Description: "Документ ссылается на отсутствующий файл",
		})
	}
	return nil
}
