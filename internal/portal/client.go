// Пакет portal — HTTP-клиент портала EDI@Energy.
// Загружает каталог документов (GET /api/documents) и скачивает файлы
// (GET /api/downloadFile/{id}) с ограничением параллелизма, лимитом
// частоты запросов и повторами с экспоненциальной задержкой.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/bigkaa/edimirror/internal/domain/document"
)

const (
	endpointCatalog  = "catalog"
	endpointDownload = "download"

	// maxCatalogSize — предел размера тела каталога.
	maxCatalogSize = 64 << 20
)

var portalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "mirror_portal_requests_total",
	Help: "Запросы к порталу по эндпоинту и статусу ответа",
}, []string{"endpoint", "status"})

// Config — параметры клиента портала.
type Config struct {
	BaseURL         string
	ConnectionLimit int
	Timeout         time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	RateLimit       float64 // запросов в секунду, 0 — без ограничения
	RateBurst       int
	UserAgent       string
}

// DefaultConfig возвращает параметры по умолчанию.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "https://www.bdew-mako.de",
		ConnectionLimit: 4,
		Timeout:         5 * time.Minute,
		MaxRetries:      3,
		RetryDelay:      time.Second,
		RateLimit:       5,
		RateBurst:       5,
		UserAgent:       "edi-mirror",
	}
}

// StatusError — портал ответил неуспешным HTTP-статусом.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("портал (%s) вернул %s", e.Endpoint, e.Status)
}

// MissingHeaderError — в ответе на скачивание нет обязательного заголовка.
type MissingHeaderError struct {
	FileID string
	Header string
}

func (e *MissingHeaderError) Error() string {
	return fmt.Sprintf("ответ на скачивание %s без заголовка %s", e.FileID, e.Header)
}

// Client — клиент портала. Безопасен для конкурентного использования.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	sem        *semaphore.Weighted
	limiter    *rate.Limiter
	validator  *catalogValidator
	logger     *slog.Logger
}

// New создаёт клиент портала.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("некорректный адрес портала %q: %w", cfg.BaseURL, err)
	}
	if cfg.ConnectionLimit < 1 {
		return nil, fmt.Errorf("лимит соединений должен быть >= 1, получено %d", cfg.ConnectionLimit)
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("число повторов не может быть отрицательным: %d", cfg.MaxRetries)
	}

	validator, err := newCatalogValidator()
	if err != nil {
		return nil, err
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: cfg.ConnectionLimit,
		MaxConnsPerHost:     cfg.ConnectionLimit,
	}

	return &Client{
		cfg:     cfg,
		baseURL: normalizeURL(cfg.BaseURL),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		sem:       semaphore.NewWeighted(int64(cfg.ConnectionLimit)),
		limiter:   rate.NewLimiter(limit, burst),
		validator: validator,
		logger:    logger.With(slog.String("component", "portal_client")),
	}, nil
}

// BaseURL возвращает нормализованный адрес портала.
func (c *Client) BaseURL() string { return c.baseURL }

// FetchCatalog загружает и проверяет каталог документов.
// Любое несоответствие схеме возвращается как *SchemaError.
func (c *Client) FetchCatalog(ctx context.Context) ([]document.CatalogEntry, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	resp, err := c.get(ctx, endpointCatalog, c.baseURL+"/api/documents")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogSize+1))
	if err != nil {
		return nil, fmt.Errorf("чтение каталога: %w", err)
	}
	if len(body) > maxCatalogSize {
		return nil, &SchemaError{Err: fmt.Errorf("каталог больше %d байт", maxCatalogSize)}
	}

	if err := c.validator.Validate(body); err != nil {
		return nil, err
	}

	var catalog document.Catalog
	if err := json.Unmarshal(body, &catalog); err != nil {
		return nil, &SchemaError{Err: err}
	}

	c.logger.Info("Каталог загружен", slog.Int("entries", len(catalog.Data)))
	return catalog.Data, nil
}

// Download открывает поток содержимого файла. Вызывающий код ОБЯЗАН
// закрыть возвращённый поток: до закрытия занят слот соединения.
func (c *Client) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	if fileID == "" {
		return nil, errors.New("пустой идентификатор файла")
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	reqURL := c.baseURL + "/api/downloadFile/" + url.PathEscape(fileID)
	resp, err := c.get(ctx, endpointDownload, reqURL)
	if err != nil {
		c.sem.Release(1)
		return nil, err
	}

	disposition := resp.Header.Get("Content-Disposition")
	if disposition == "" {
		resp.Body.Close()
		c.sem.Release(1)
		return nil, &MissingHeaderError{FileID: fileID, Header: "Content-Disposition"}
	}
	if _, params, perr := mime.ParseMediaType(disposition); perr == nil {
		c.logger.Debug("Начато скачивание",
			slog.String("file_id", fileID),
			slog.String("remote_name", params["filename"]),
		)
	}

	return &releasingBody{
		ReadCloser: resp.Body,
		release:    sync.OnceFunc(func() { c.sem.Release(1) }),
	}, nil
}

// get выполняет GET с повторами. Повторяются сетевые ошибки, 429 и 5xx.
// Возвращает только ответ 200 OK.
func (c *Client) get(ctx context.Context, endpoint, reqURL string) (*http.Response, error) {
	var resp *http.Response

	operation := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("создание запроса %s: %w", endpoint, err))
		}
		if c.cfg.UserAgent != "" {
			req.Header.Set("User-Agent", c.cfg.UserAgent)
		}

		r, err := c.httpClient.Do(req) //nolint:gosec // URL из конфигурации
		if err != nil {
			portalRequests.WithLabelValues(endpoint, "error").Inc()
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("запрос %s к %s: %w", endpoint, c.baseURL, err)
		}
		portalRequests.WithLabelValues(endpoint, strconv.Itoa(r.StatusCode)).Inc()

		if r.StatusCode == http.StatusOK {
			resp = r
			return nil
		}

		_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 4096))
		r.Body.Close()
		statusErr := &StatusError{Endpoint: endpoint, StatusCode: r.StatusCode, Status: r.Status}
		if retryableStatus(r.StatusCode) {
			return statusErr
		}
		return backoff.Permanent(statusErr)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(c.newBackOff(), uint64(c.cfg.MaxRetries)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Повтор запроса к порталу",
			slog.String("endpoint", endpoint),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if c.cfg.RetryDelay > 0 {
		b.InitialInterval = c.cfg.RetryDelay
	}
	b.MaxInterval = 30 * time.Second
	// число попыток ограничивает WithMaxRetries
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// releasingBody освобождает слот соединения при закрытии тела ответа.
type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

// normalizeURL убирает trailing slash из URL.
func normalizeURL(u string) string {
	return strings.TrimRight(u, "/")
}
