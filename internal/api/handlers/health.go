// health.go — обработчики health endpoints: /health/live, /health/ready.
package handlers

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/welcome-kiosk/internal/config"
	"github.com/bigkaa/welcome-kiosk/internal/domain/model"
	"github.com/bigkaa/welcome-kiosk/internal/storage/docfile"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// storageFreeBytes — свободное место в директории данных (обновляется при /health/ready).
var storageFreeBytes = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "kc_storage_free_bytes",
	Help: "Свободное место на диске директории данных в байтах",
})

// DocumentReader — чтение сохранённого документа для проверки готовности.
type DocumentReader interface {
	Read() (model.Document, error)
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// dataDir — директория assets и документа (проверка на запись)
	dataDir string
	// tempDir — директория staged-файлов (проверка на запись)
	tempDir string
	// walDir — путь к директории журнала сохранений
	walDir string
	// docs — документ content_ui.json (nil — без проверки)
	docs DocumentReader
}

// NewHealthHandler создаёт обработчик health endpoints.
// Пустые пути и nil docs отключают соответствующие проверки.
func NewHealthHandler(dataDir, tempDir, walDir string, docs DocumentReader) *HealthHandler {
	return &HealthHandler{
		version: config.Version,
		dataDir: dataDir,
		tempDir: tempDir,
		walDir:  walDir,
		docs:    docs,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "kiosk-core",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: директории данных и temp (fail), журнал, документ и свободное место (degraded).
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	fail := func(check map[string]any) {
		if check["status"] != "ok" {
			overallStatus = statusFail
			httpStatus = http.StatusServiceUnavailable
		}
	}
	degrade := func(check map[string]any) {
		if check["status"] != "ok" && overallStatus != statusFail {
			overallStatus = "degraded"
		}
	}

	dataCheck := checkWritable(h.dataDir, "Директория данных")
	fail(dataCheck)
	tempCheck := checkWritable(h.tempDir, "Директория temp")
	fail(tempCheck)
	walCheck := checkWritable(h.walDir, "Директория журнала")
	degrade(walCheck)
	docCheck := h.checkDocument()
	degrade(docCheck)
	diskCheck := checkDisk(h.dataDir)
	degrade(diskCheck)

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "kiosk-core",
		"checks": map[string]any{
			"data":     dataCheck,
			"temp":     tempCheck,
			"wal":      walCheck,
			"document": docCheck,
			"disk":     diskCheck,
		},
	})
}

// checkWritable проверяет доступность директории на запись.
func checkWritable(dir, title string) map[string]any {
	if dir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": title + " недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}

// checkDocument проверяет, что content_ui.json читается и валиден.
// Отсутствующий документ допустим: киоск показывает пустой экран.
func (h *HealthHandler) checkDocument() map[string]any {
	if h.docs == nil {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	doc, err := h.docs.Read()
	switch {
	case errors.Is(err, docfile.ErrNotFound):
		return map[string]any{
			"status":  "ok",
			"message": "Документ ещё не создан",
		}
	case err != nil:
		return map[string]any{
			"status":  statusFail,
			"message": "Документ не читается: " + err.Error(),
		}
	}

	return map[string]any{
		"status":  "ok",
		"options": len(doc.Buttons),
	}
}
