// Пакет config — загрузка и валидация конфигурации зеркала документов EDI@Energy
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации зеркала.
type Config struct {
	// Корневая директория зеркала (должна существовать)
	RootDir string
	// Базовый URL портала
	PortalURL string
	// Максимальное число одновременных запросов к порталу
	ConnectionLimit int
	// Таймаут одного HTTP-запроса к порталу
	HTTPTimeout time.Duration
	// Количество повторов запроса при временных ошибках
	MaxRetries int
	// Начальная задержка экспоненциального backoff
	RetryDelay time.Duration
	// Ограничение частоты запросов (запросов в секунду)
	RateLimit float64
	// Размер burst для ограничителя частоты
	RateBurst int
	// Интервал фоновой синхронизации
	SyncInterval time.Duration
	// Сохранять локальную копию пары, загрузка которой не удалась
	RetainOnFailure bool
	// Размер LRU-кэша отпечатков сохранённых файлов
	ChangeCacheSize int
	// TTL записи в кэше отпечатков
	ChangeCacheTTL time.Duration

	// Порт HTTP-сервера (health, metrics, maintenance)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// URL JWKS endpoint; пустое значение отключает JWT-аутентификацию
	JWKSUrl string
	// Допустимое расхождение часов при проверке JWT
	JWTLeeway time.Duration

	// Имя сервиса в метриках topologymetrics
	ServiceID string
	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки доступности портала
	DephealthCheckInterval time.Duration

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Overrides — значения из командной строки, имеющие приоритет над окружением.
type Overrides struct {
	RootDir string
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load(ov Overrides) (*Config, error) {
	cfg := &Config{}
	var err error

	// MIRROR_ROOT_DIR — обязательный (может быть задан флагом --root)
	cfg.RootDir = ov.RootDir
	if cfg.RootDir == "" {
		cfg.RootDir, err = getEnvRequired("MIRROR_ROOT_DIR")
		if err != nil {
			return nil, err
		}
	}

	// MIRROR_PORTAL_URL — базовый URL портала
	cfg.PortalURL = strings.TrimRight(getEnvDefault("MIRROR_PORTAL_URL", "https://www.bdew-mako.de"), "/")
	u, err := url.Parse(cfg.PortalURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("MIRROR_PORTAL_URL: некорректный URL %q", cfg.PortalURL)
	}

	// MIRROR_CONNECTION_LIMIT — лимит одновременных соединений (по умолчанию 3)
	cfg.ConnectionLimit, err = getEnvInt("MIRROR_CONNECTION_LIMIT", 3)
	if err != nil {
		return nil, fmt.Errorf("MIRROR_CONNECTION_LIMIT: %w", err)
	}
	if cfg.ConnectionLimit < 1 {
		return nil, fmt.Errorf("MIRROR_CONNECTION_LIMIT: значение должно быть положительным, получено %d", cfg.ConnectionLimit)
	}

	cfg.HTTPTimeout, err = getEnvDuration("MIRROR_HTTP_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MIRROR_HTTP_TIMEOUT: %w", err)
	}

	cfg.MaxRetries, err = getEnvInt("MIRROR_MAX_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("MIRROR_MAX_RETRIES: %w", err)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("MIRROR_MAX_RETRIES: значение не может быть отрицательным")
	}

	cfg.RetryDelay, err = getEnvDuration("MIRROR_RETRY_DELAY", time.Second)
	if err != nil {
		return nil, fmt.Errorf("MIRROR_RETRY_DELAY: %w", err)
	}

	cfg.RateLimit, err = getEnvFloat("MIRROR_RATE_LIMIT", 5)
	if err != nil {
		return nil, fmt.Errorf("MIRROR_RATE_LIMIT: %w", err)
	}
	if cfg.RateLimit <= 0 {
		return nil, fmt.Errorf("MIRROR_RATE_LIMIT: значение должно быть положительным")
	}

	cfg.RateBurst, err = getEnvInt("MIRROR_RATE_BURST", 3)
	if err != nil {
		return nil, fmt.Errorf("MIRROR_RATE_BURST: %w", err)
	}
	if cfg.RateBurst < 1 {
		return nil, fmt.Errorf("MIRROR_RATE_BURST: значение должно быть положительным")
	}

	// MIRROR_SYNC_INTERVAL — интервал синхронизации (по умолчанию 24h)
	cfg.SyncInterval, err = getEnvDuration("MIRROR_SYNC_INTERVAL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("MIRROR_SYNC_INTERVAL: %w", err)
	}
	if cfg.SyncInterval <= 0 {
		return nil, fmt.Errorf("MIRROR_SYNC_INTERVAL: значение должно быть положительным")
	}

	cfg.RetainOnFailure, err = getEnvBool("MIRROR_RETAIN_ON_FAILURE", false)
	if err != nil {
		return nil, fmt.Errorf("MIRROR_RETAIN_ON_FAILURE: %w", err)
	}

	cfg.ChangeCacheSize, err = getEnvInt("MIRROR_CHANGE_CACHE_SIZE", 4096)
	if err != nil {
		return nil, fmt.Errorf("MIRROR_CHANGE_CACHE_SIZE: %w", err)
	}
	if cfg.ChangeCacheSize < 1 {
		return nil, fmt.Errorf("MIRROR_CHANGE_CACHE_SIZE: значение должно быть положительным")
	}

	cfg.ChangeCacheTTL, err = getEnvDuration("MIRROR_CHANGE_CACHE_TTL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("MIRROR_CHANGE_CACHE_TTL: %w", err)
	}

	// MIRROR_PORT — порт HTTP-сервера (по умолчанию 8020)
	cfg.Port, err = getEnvInt("MIRROR_PORT", 8020)
	if err != nil {
		return nil, fmt.Errorf("MIRROR_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("MIRROR_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("MIRROR_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("MIRROR_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("MIRROR_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("MIRROR_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// MIRROR_JWKS_URL — опционально; без него maintenance API открыт
	cfg.JWKSUrl = getEnvDefault("MIRROR_JWKS_URL", "")

	cfg.JWTLeeway, err = getEnvDuration("MIRROR_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MIRROR_JWT_LEEWAY: %w", err)
	}

	cfg.ServiceID = getEnvDefault("MIRROR_SERVICE_ID", "edi-mirror")
	cfg.DephealthGroup = getEnvDefault("MIRROR_DEPHEALTH_GROUP", "edi-mirror")

	cfg.DephealthCheckInterval, err = getEnvDuration("MIRROR_DEPHEALTH_CHECK_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MIRROR_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("MIRROR_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MIRROR_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
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

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

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

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное число: %q", val)
	}
	return f, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
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
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 24h)", val)
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
