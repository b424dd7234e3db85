package config

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

// allKeys — все переменные окружения конфигурации.
var allKeys = []string{
	"KC_PORT", "KC_STREAM_HOST", "KC_STREAM_PORT",
	"KC_DATA_DIR", "KC_BUNDLE_DIR", "KC_TEMP_DIR", "KC_WAL_DIR", "KC_DEV_MODE",
	"KC_MAX_IMAGE_SIZE", "KC_MAX_VIDEO_SIZE", "KC_CROP_SIZE", "KC_PROMOTE_CONCURRENCY",
	"KC_GC_INTERVAL", "KC_TEMP_MAX_AGE", "KC_RECONCILE_INTERVAL", "KC_RECONCILE_DELETE_ORPHANS",
	"KC_DESCRIPTOR_CACHE_SIZE", "KC_DESCRIPTOR_CACHE_TTL",
	"KC_ADMIN_PIN", "KC_PIN_WINDOW", "KC_TOKEN_SECRET", "KC_TOKEN_TTL",
	"KC_LOG_LEVEL", "KC_LOG_FORMAT", "KC_SHUTDOWN_TIMEOUT",
}

// clearEnv очищает все переменные KC_* на время теста.
// Пустое значение трактуется как незаданное.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

// setEnv устанавливает переменные окружения на время теста.
func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port: ожидалось 8080, получено %d", cfg.Port)
	}
	if cfg.StreamAddr() != "127.0.0.1:3001" {
		t.Errorf("StreamAddr: ожидалось 127.0.0.1:3001, получено %s", cfg.StreamAddr())
	}
	if cfg.MaxVideoSize != 500<<20 {
		t.Errorf("MaxVideoSize: ожидалось %d, получено %d", 500<<20, cfg.MaxVideoSize)
	}
	if cfg.CropSize != 400 {
		t.Errorf("CropSize: ожидалось 400, получено %d", cfg.CropSize)
	}
	if cfg.AdminPIN != "4321" {
		t.Errorf("AdminPIN: ожидалось 4321, получено %s", cfg.AdminPIN)
	}
	if len(cfg.TokenSecret) < 32 {
		t.Errorf("TokenSecret: ожидался сгенерированный секрет, длина %d", len(cfg.TokenSecret))
	}
	if cfg.WALDir != filepath.Join("./kiosk-data", "wal") {
		t.Errorf("WALDir: получено %s", cfg.WALDir)
	}
	if cfg.GCInterval != time.Hour || cfg.ReconcileInterval != 6*time.Hour {
		t.Errorf("интервалы: GC=%v, Reconcile=%v", cfg.GCInterval, cfg.ReconcileInterval)
	}
	if cfg.LogLevel != slog.LevelInfo || cfg.LogFormat != "json" {
		t.Errorf("логирование: level=%v format=%s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.DocumentPath() != filepath.Join("./kiosk-data", "data", DocumentFileName) {
		t.Errorf("DocumentPath: получено %s", cfg.DocumentPath())
	}
}

func TestLoad_AllCustomValues(t *testing.T) {
	clearEnv(t)
	setEnv(t, map[string]string{
		"KC_PORT":                     "9090",
		"KC_STREAM_PORT":              "3100",
		"KC_DATA_DIR":                 "/var/kiosk",
		"KC_BUNDLE_DIR":               "/opt/kiosk/bundle",
		"KC_DEV_MODE":                 "true",
		"KC_MAX_IMAGE_SIZE":           "1048576",
		"KC_CROP_SIZE":                "256",
		"KC_RECONCILE_DELETE_ORPHANS": "true",
		"KC_ADMIN_PIN":                "987654",
		"KC_TOKEN_SECRET":             "0123456789abcdef0123456789abcdef",
		"KC_TOKEN_TTL":                "1h",
		"KC_LOG_LEVEL":                "debug",
		"KC_LOG_FORMAT":               "text",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if cfg.Port != 9090 || cfg.StreamPort != 3100 {
		t.Errorf("порты: %d, %d", cfg.Port, cfg.StreamPort)
	}
	if cfg.WALDir != filepath.Join("/var/kiosk", "wal") {
		t.Errorf("WALDir: получено %s", cfg.WALDir)
	}
	if cfg.DocumentPath() != filepath.Join("/opt/kiosk/bundle", "data", DocumentFileName) {
		t.Errorf("DocumentPath в режиме разработки: получено %s", cfg.DocumentPath())
	}
	if cfg.MaxImageSize != 1048576 || cfg.CropSize != 256 {
		t.Errorf("размеры: image=%d crop=%d", cfg.MaxImageSize, cfg.CropSize)
	}
	if !cfg.ReconcileDeleteOrphans {
		t.Error("ReconcileDeleteOrphans: ожидалось true")
	}
	if cfg.AdminPIN != "987654" || string(cfg.TokenSecret) != "0123456789abcdef0123456789abcdef" {
		t.Errorf("учётные данные не загружены")
	}
	if cfg.TokenTTL != time.Hour {
		t.Errorf("TokenTTL: ожидалось 1h, получено %v", cfg.TokenTTL)
	}
	if cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != "text" {
		t.Errorf("логирование: level=%v format=%s", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"порт не число", "KC_PORT", "abc"},
		{"порт вне диапазона", "KC_PORT", "70000"},
		{"порт потока совпадает", "KC_STREAM_PORT", "8080"},
		{"нелокальный адрес потока", "KC_STREAM_HOST", "0.0.0.0"},
		{"неположительный размер видео", "KC_MAX_VIDEO_SIZE", "0"},
		{"маленький размер обрезки", "KC_CROP_SIZE", "8"},
		{"нулевая параллельность", "KC_PROMOTE_CONCURRENCY", "0"},
		{"некорректная длительность", "KC_GC_INTERVAL", "soon"},
		{"отрицательная длительность", "KC_TEMP_MAX_AGE", "-1h"},
		{"некорректный bool", "KC_DEV_MODE", "maybe"},
		{"PIN с буквами", "KC_ADMIN_PIN", "12ab"},
		{"короткий PIN", "KC_ADMIN_PIN", "123"},
		{"короткий секрет", "KC_TOKEN_SECRET", "short"},
		{"уровень логирования", "KC_LOG_LEVEL", "verbose"},
		{"формат логов", "KC_LOG_FORMAT", "xml"},
		{"размер кэша", "KC_DESCRIPTOR_CACHE_SIZE", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Errorf("%s=%q: ожидалась ошибка", tt.key, tt.val)
			}
		})
	}
}

func TestLoad_ValidLogLevels(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("KC_LOG_LEVEL", tt.input)
			cfg, err := Load()
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if cfg.LogLevel != tt.expected {
				t.Errorf("LogLevel: ожидалось %v, получено %v", tt.expected, cfg.LogLevel)
			}
		})
	}
}

func TestSetupLogger(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		t.Run(format, func(t *testing.T) {
			logger := SetupLogger(&Config{LogLevel: slog.LevelInfo, LogFormat: format})
			if logger == nil {
				t.Fatal("SetupLogger вернул nil")
			}
		})
	}
}
