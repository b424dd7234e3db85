// gc.go — сервис фоновой очистки (Garbage Collection) временных файлов.
//
// GC выполняет три задачи:
//  1. Удаляет файлы temp/, которые не принадлежат активной сессии и старше KC_TEMP_MAX_AGE
//  2. Удаляет незавершённые .partial файлы той же давности
//  3. Удаляет завершённые записи журнала сохранений
//
// Запускается как горутина с периодическим тикером (KC_GC_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/welcome-kiosk/internal/storage/filestore"
	"github.com/bigkaa/welcome-kiosk/internal/storage/wal"
)

// Prometheus метрики GC
var (
	// gcRunsTotal — количество запусков GC.
	gcRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kc_gc_runs_total",
		Help: "Общее количество запусков GC",
	})

	// gcFilesDeletedTotal — количество удалённых временных файлов.
	gcFilesDeletedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kc_gc_files_deleted_total",
		Help: "Общее количество файлов, удалённых GC",
	}, []string{"kind"})

	// gcDurationSeconds — длительность выполнения GC.
	gcDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kc_gc_duration_seconds",
		Help:    "Длительность выполнения GC в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// Tracker сообщает, принадлежит ли staged-файл активной сессии.
type Tracker interface {
	IsTracked(name string) bool
}

// GCResult — результат одного запуска GC.
type GCResult struct {
	// TempDeleted — удалённые staged-файлы без владельца
	TempDeleted int
	// PartialDeleted — удалённые незавершённые .partial файлы
	PartialDeleted int
	// JournalCleaned — удалённые завершённые записи журнала
	JournalCleaned int
	// Errors — количество ошибок при обработке файлов
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// GCService — сервис фоновой очистки временных файлов.
type GCService struct {
	store    *filestore.FileStore
	tracker  Tracker
	journal  *wal.WAL
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex // защита от параллельного запуска RunOnce
	running bool       // флаг работы фонового процесса
	cancel  context.CancelFunc
}

// NewGCService создаёт сервис GC. journal может быть nil.
func NewGCService(
	store *filestore.FileStore,
	tracker Tracker,
	journal *wal.WAL,
	interval, maxAge time.Duration,
	logger *slog.Logger,
) *GCService {
	return &GCService{
		store:    store,
		tracker:  tracker,
		journal:  journal,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger.With(slog.String("component", "gc")),
		now:      time.Now,
	}
}

// Start запускает фоновую горутину GC с периодическим тикером.
// Вызывается один раз при старте приложения.
func (gc *GCService) Start(ctx context.Context) {
	gcCtx, cancel := context.WithCancel(ctx)
	gc.cancel = cancel
	gc.running = true

	go gc.run(gcCtx)

	gc.logger.Info("GC запущен",
		slog.String("interval", gc.interval.String()),
		slog.String("max_age", gc.maxAge.String()),
	)
}

// Stop останавливает фоновый процесс GC.
func (gc *GCService) Stop() {
	if gc.cancel != nil {
		gc.cancel()
	}
	gc.running = false
	gc.logger.Info("GC остановлен")
}

// run — основной цикл фоновой горутины.
func (gc *GCService) run(ctx context.Context) {
	// Первый запуск — сразу после старта
	gc.RunOnce()

	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gc.RunOnce()
		}
	}
}

// RunOnce выполняет один цикл GC.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
func (gc *GCService) RunOnce() *GCResult {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	start := time.Now()
	result := &GCResult{}

	gc.logger.Debug("GC запуск начат")

	cutoff := gc.now().Add(-gc.maxAge)

	// Фаза 1: staged-файлы без владельца
	deleted, errs := gc.sweepTemp(cutoff)
	result.TempDeleted = deleted
	result.Errors += errs

	// Фаза 2: незавершённые .partial
	deleted, errs = gc.sweepPartial(cutoff)
	result.PartialDeleted = deleted
	result.Errors += errs

	// Фаза 3: журнал
	if gc.journal != nil {
		cleaned, err := gc.journal.CleanCommitted(gc.maxAge)
		if err != nil {
			gc.logger.Error("GC: ошибка очистки журнала", slog.String("error", err.Error()))
			result.Errors++
		}
		result.JournalCleaned = cleaned
	}

	result.Duration = time.Since(start)

	// Обновляем Prometheus метрики
	gcRunsTotal.Inc()
	gcFilesDeletedTotal.WithLabelValues("temp").Add(float64(result.TempDeleted))
	gcFilesDeletedTotal.WithLabelValues("partial").Add(float64(result.PartialDeleted))
	gcDurationSeconds.Observe(result.Duration.Seconds())

	gc.logger.Info("GC завершён",
		slog.Int("temp_deleted", result.TempDeleted),
		slog.Int("partial_deleted", result.PartialDeleted),
		slog.Int("journal_cleaned", result.JournalCleaned),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}

// sweepTemp удаляет staged-файлы старше cutoff, которые не отслеживает сессия.
func (gc *GCService) sweepTemp(cutoff time.Time) (deleted, errors int) {
	files, err := gc.store.ListTemp()
	if err != nil {
		gc.logger.Error("GC: ошибка чтения temp", slog.String("error", err.Error()))
		return 0, 1
	}

	for _, f := range files {
		if f.ModTime.After(cutoff) {
			continue
		}
		if gc.tracker != nil && gc.tracker.IsTracked(f.Name) {
			continue
		}
		ok, err := gc.store.DeleteTemp(f.Name)
		if err != nil {
			gc.logger.Error("GC: ошибка удаления файла",
				slog.String("name", f.Name),
				slog.String("error", err.Error()),
			)
			errors++
			continue
		}
		if ok {
			gc.logger.Debug("GC: файл удалён", slog.String("name", f.Name))
			deleted++
		}
	}
	return deleted, errors
}

// sweepPartial удаляет .partial файлы старше cutoff.
func (gc *GCService) sweepPartial(cutoff time.Time) (deleted, errors int) {
	files, err := gc.store.ListPartial()
	if err != nil {
		gc.logger.Error("GC: ошибка чтения temp", slog.String("error", err.Error()))
		return 0, 1
	}

	for _, f := range files {
		if f.ModTime.After(cutoff) {
			continue
		}
		ok, err := gc.store.RemovePartial(f.Name)
		if err != nil {
			gc.logger.Error("GC: ошибка удаления .partial",
				slog.String("name", f.Name),
				slog.String("error", err.Error()),
			)
			errors++
			continue
		}
		if ok {
			deleted++
		}
	}
	return deleted, errors
}
