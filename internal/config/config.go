// Пакет config — загрузка и валидация конфигурации киоска
// из переменных окружения (префикс KC_).
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// DocumentFileName — имя файла документа конфигурации.
const DocumentFileName = "content_ui.json"

// Config содержит все параметры конфигурации киоска.
type Config struct {
	// Порт admin API (и in-process протокола)
	Port int
	// Адрес loopback-сервера потоковой отдачи видео
	StreamHost string
	// Порт loopback-сервера
	StreamPort int

	// Корень хранилища (assets/, temp/, data/)
	DataDir string
	// Директория комплектных файлов для начального заполнения
	BundleDir string
	// Директория staged-файлов (пусто — <DataDir>/temp)
	TempDir string
	// Директория журнала сессий
	WALDir string
	// Режим разработки: документ читается и пишется в BundleDir/data
	DevMode bool

	// Максимальный размер загружаемого изображения в байтах
	MaxImageSize int64
	// Максимальный размер видео в байтах
	MaxVideoSize int64
	// Максимальная сторона результата обрезки изображения
	CropSize int
	// Параллельность переноса файлов при сохранении
	PromoteConcurrency int

	// Интервал очистки temp
	GCInterval time.Duration
	// Возраст, после которого неотслеживаемый staged-файл удаляется
	TempMaxAge time.Duration
	// Интервал сверки committed-файлов с документом
	ReconcileInterval time.Duration
	// Удалять ли осиротевшие committed-файлы при сверке
	ReconcileDeleteOrphans bool

	// Ёмкость кэша дескрипторов файлов
	DescriptorCacheSize int
	// Время жизни записи кэша дескрипторов
	DescriptorCacheTTL time.Duration

	// PIN администратора
	AdminPIN string
	// Окно ввода PIN после жеста
	PINWindow time.Duration
	// Секрет подписи токенов администратора (HS256)
	TokenSecret []byte
	// Время жизни токена администратора
	TokenTTL time.Duration
	// Допуск расхождения часов при проверке exp/nbf токена
	JWTLeeway time.Duration

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-серверов
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// значения и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// KC_PORT — порт admin API (по умолчанию 8080)
	if cfg.Port, err = getEnvPort("KC_PORT", 8080); err != nil {
		return nil, err
	}

	// KC_STREAM_HOST — только loopback (по умолчанию 127.0.0.1)
	cfg.StreamHost = getEnvDefault("KC_STREAM_HOST", "127.0.0.1")
	if ip := net.ParseIP(cfg.StreamHost); ip == nil || !ip.IsLoopback() {
		return nil, fmt.Errorf("KC_STREAM_HOST: %q не является loopback-адресом", cfg.StreamHost)
	}

	// KC_STREAM_PORT — порт loopback-сервера (по умолчанию 3001)
	if cfg.StreamPort, err = getEnvPort("KC_STREAM_PORT", 3001); err != nil {
		return nil, err
	}
	if cfg.StreamPort == cfg.Port {
		return nil, fmt.Errorf("KC_STREAM_PORT: совпадает с KC_PORT (%d)", cfg.Port)
	}

	cfg.DataDir = getEnvDefault("KC_DATA_DIR", "./kiosk-data")
	cfg.BundleDir = getEnvDefault("KC_BUNDLE_DIR", "./bundle")
	cfg.TempDir = getEnvDefault("KC_TEMP_DIR", "")
	cfg.WALDir = getEnvDefault("KC_WAL_DIR", filepath.Join(cfg.DataDir, "wal"))

	if cfg.DevMode, err = getEnvBool("KC_DEV_MODE", false); err != nil {
		return nil, fmt.Errorf("KC_DEV_MODE: %w", err)
	}

	// KC_MAX_IMAGE_SIZE — по умолчанию 20 MB
	if cfg.MaxImageSize, err = getEnvPositiveInt64("KC_MAX_IMAGE_SIZE", 20<<20); err != nil {
		return nil, err
	}
	// KC_MAX_VIDEO_SIZE — по умолчанию 500 MB
	if cfg.MaxVideoSize, err = getEnvPositiveInt64("KC_MAX_VIDEO_SIZE", 500<<20); err != nil {
		return nil, err
	}

	if cfg.CropSize, err = getEnvInt("KC_CROP_SIZE", 400); err != nil {
		return nil, fmt.Errorf("KC_CROP_SIZE: %w", err)
	}
	if cfg.CropSize < 16 || cfg.CropSize > 4096 {
		return nil, fmt.Errorf("KC_CROP_SIZE: значение %d вне диапазона 16-4096", cfg.CropSize)
	}

	if cfg.PromoteConcurrency, err = getEnvInt("KC_PROMOTE_CONCURRENCY", 4); err != nil {
		return nil, fmt.Errorf("KC_PROMOTE_CONCURRENCY: %w", err)
	}
	if cfg.PromoteConcurrency < 1 {
		return nil, fmt.Errorf("KC_PROMOTE_CONCURRENCY: значение должно быть положительным")
	}

	// KC_GC_INTERVAL — интервал очистки temp (по умолчанию 1h)
	if cfg.GCInterval, err = getEnvDuration("KC_GC_INTERVAL", time.Hour); err != nil {
		return nil, fmt.Errorf("KC_GC_INTERVAL: %w", err)
	}
	if cfg.TempMaxAge, err = getEnvDuration("KC_TEMP_MAX_AGE", 24*time.Hour); err != nil {
		return nil, fmt.Errorf("KC_TEMP_MAX_AGE: %w", err)
	}
	// KC_RECONCILE_INTERVAL — интервал сверки (по умолчанию 6h)
	if cfg.ReconcileInterval, err = getEnvDuration("KC_RECONCILE_INTERVAL", 6*time.Hour); err != nil {
		return nil, fmt.Errorf("KC_RECONCILE_INTERVAL: %w", err)
	}
	if cfg.ReconcileDeleteOrphans, err = getEnvBool("KC_RECONCILE_DELETE_ORPHANS", false); err != nil {
		return nil, fmt.Errorf("KC_RECONCILE_DELETE_ORPHANS: %w", err)
	}

	if cfg.DescriptorCacheSize, err = getEnvInt("KC_DESCRIPTOR_CACHE_SIZE", 256); err != nil {
		return nil, fmt.Errorf("KC_DESCRIPTOR_CACHE_SIZE: %w", err)
	}
	if cfg.DescriptorCacheSize < 1 {
		return nil, fmt.Errorf("KC_DESCRIPTOR_CACHE_SIZE: значение должно быть положительным")
	}
	if cfg.DescriptorCacheTTL, err = getEnvDuration("KC_DESCRIPTOR_CACHE_TTL", 30*time.Second); err != nil {
		return nil, fmt.Errorf("KC_DESCRIPTOR_CACHE_TTL: %w", err)
	}

	// KC_ADMIN_PIN — только цифры, 4-8 символов (по умолчанию 4321)
	cfg.AdminPIN = getEnvDefault("KC_ADMIN_PIN", "4321")
	if !isDigits(cfg.AdminPIN) || len(cfg.AdminPIN) < 4 || len(cfg.AdminPIN) > 8 {
		return nil, fmt.Errorf("KC_ADMIN_PIN: ожидается от 4 до 8 цифр")
	}
	if cfg.PINWindow, err = getEnvDuration("KC_PIN_WINDOW", 30*time.Second); err != nil {
		return nil, fmt.Errorf("KC_PIN_WINDOW: %w", err)
	}

	// KC_TOKEN_SECRET — при отсутствии генерируется случайный секрет,
	// токены перестают действовать после перезапуска
	if secret := os.Getenv("KC_TOKEN_SECRET"); secret != "" {
		if len(secret) < 32 {
			return nil, fmt.Errorf("KC_TOKEN_SECRET: минимум 32 символа")
		}
		cfg.TokenSecret = []byte(secret)
	} else {
		if cfg.TokenSecret, err = randomSecret(); err != nil {
			return nil, fmt.Errorf("KC_TOKEN_SECRET: %w", err)
		}
	}
	if cfg.TokenTTL, err = getEnvDuration("KC_TOKEN_TTL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("KC_TOKEN_TTL: %w", err)
	}
	if cfg.JWTLeeway, err = getEnvDuration("KC_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("KC_JWT_LEEWAY: %w", err)
	}

	// KC_LOG_LEVEL — уровень логирования (по умолчанию info)
	if cfg.LogLevel, err = parseLogLevel(getEnvDefault("KC_LOG_LEVEL", "info")); err != nil {
		return nil, fmt.Errorf("KC_LOG_LEVEL: %w", err)
	}

	// KC_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("KC_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("KC_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout, err = getEnvDuration("KC_SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("KC_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DocumentPath возвращает путь к content_ui.json.
// В режиме разработки документ хранится в комплекте.
func (c *Config) DocumentPath() string {
	if c.DevMode {
		return filepath.Join(c.BundleDir, "data", DocumentFileName)
	}
	return filepath.Join(c.DataDir, "data", DocumentFileName)
}

// AdminAddr возвращает адрес прослушивания admin API.
func (c *Config) AdminAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// StreamAddr возвращает адрес loopback-сервера.
func (c *Config) StreamAddr() string {
	return net.JoinHostPort(c.StreamHost, strconv.Itoa(c.StreamPort))
}

// StreamBaseURL возвращает базовый URL loopback-сервера.
func (c *Config) StreamBaseURL() string {
	return "http://" + c.StreamAddr()
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvPort возвращает номер порта 1-65535.
func getEnvPort(key string, defaultVal int) (int, error) {
	port, err := getEnvInt(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("%s: значение %d вне допустимого диапазона 1-65535", key, port)
	}
	return port, nil
}

// getEnvPositiveInt64 возвращает положительное int64 значение или значение по умолчанию.
func getEnvPositiveInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: некорректное целое число: %q", key, val)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: значение должно быть положительным, получено %d", key, n)
	}
	return n, nil
}

// getEnvBool возвращает bool значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	if d <= 0 {
		return 0, fmt.Errorf("длительность должна быть положительной: %q", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func randomSecret() ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("ошибка генерации секрета: %w", err)
	}
	return []byte(hex.EncodeToString(buf)), nil
}
