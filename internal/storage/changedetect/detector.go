// Пакет changedetect — определение, отличается ли только что загруженный
// файл от уже сохранённого.
//
// PDF сравниваются по словарю /Info трейлера: портал пересобирает файлы,
// и побайтовое сравнение дало бы ложные изменения. Ошибка разбора или
// шифрование любого из файлов считается изменением. Остальные типы
// сравниваются по хешу содержимого (BLAKE3).
package changedetect

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zeebo/blake3"
	"rsc.io/pdf"
)

// Reason — причина решения.
type Reason string

const (
	ReasonIdentical  Reason = "identical"
	ReasonMetadata   Reason = "pdf_metadata"
	ReasonUnreadable Reason = "unreadable"
	ReasonContent    Reason = "content"
	ReasonMissing    Reason = "missing"
)

// Verdict — результат сравнения.
type Verdict struct {
	Changed bool
	Reason  Reason
}

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mirror_change_cache_hits_total",
		Help: "Количество попаданий в кэш отпечатков сохранённых файлов",
	})
	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mirror_change_cache_misses_total",
		Help: "Количество промахов кэша отпечатков сохранённых файлов",
	})
	verdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_change_verdicts_total",
		Help: "Решения детектора изменений по причинам",
	}, []string{"reason"})
)

// fingerprint — отпечаток файла.
type fingerprint struct {
	size   int64
	meta   map[string]string
	digest []byte
	err    error
}

type cacheKey struct {
	path  string
	size  int64
	mtime int64
}

// Detector сравнивает файлы. Отпечатки сохранённых файлов кэшируются
// по пути, размеру и времени изменения. Безопасен для конкурентного использования.
type Detector struct {
	cache  *expirable.LRU[cacheKey, fingerprint]
	logger *slog.Logger
}

// New создаёт Detector с кэшем на size записей и временем жизни ttl.
func New(size int, ttl time.Duration, logger *slog.Logger) *Detector {
	return &Detector{
		cache:  expirable.NewLRU[cacheKey, fingerprint](size, nil, ttl),
		logger: logger.With(slog.String("component", "changedetect")),
	}
}

// Differs сообщает, отличается ли newPath от oldPath.
// Способ сравнения выбирается по расширению oldPath.
func (d *Detector) Differs(newPath, oldPath string) Verdict {
	v := d.differs(newPath, oldPath)
	verdictsTotal.WithLabelValues(string(v.Reason)).Inc()
	d.logger.Debug("Сравнение файлов",
		slog.String("new", newPath),
		slog.String("old", oldPath),
		slog.Bool("changed", v.Changed),
		slog.String("reason", string(v.Reason)),
	)
	return v
}

func (d *Detector) differs(newPath, oldPath string) Verdict {
	info, err := os.Stat(oldPath)
	if err != nil {
		return Verdict{Changed: true, Reason: ReasonMissing}
	}
	isPDF := strings.EqualFold(filepath.Ext(oldPath), ".pdf")

	oldFP := d.stored(oldPath, info, isPDF)
	newFP := compute(newPath, isPDF)

	if oldFP.err != nil || newFP.err != nil {
		return Verdict{Changed: true, Reason: ReasonUnreadable}
	}
	if isPDF {
		if maps.Equal(oldFP.meta, newFP.meta) {
			return Verdict{Changed: false, Reason: ReasonIdentical}
		}
		return Verdict{Changed: true, Reason: ReasonMetadata}
	}
	if oldFP.size != newFP.size || !bytes.Equal(oldFP.digest, newFP.digest) {
		return Verdict{Changed: true, Reason: ReasonContent}
	}
	return Verdict{Changed: false, Reason: ReasonIdentical}
}

// Forget удаляет отпечаток файла из кэша (после замены или удаления).
func (d *Detector) Forget(path string) {
	for _, k := range d.cache.Keys() {
		if k.path == path {
			d.cache.Remove(k)
		}
	}
}

func (d *Detector) stored(path string, info os.FileInfo, isPDF bool) fingerprint {
	key := cacheKey{path: path, size: info.Size(), mtime: info.ModTime().UnixNano()}
	if fp, ok := d.cache.Get(key); ok {
		cacheHits.Inc()
		return fp
	}
	cacheMisses.Inc()
	fp := compute(path, isPDF)
	d.cache.Add(key, fp)
	return fp
}

func compute(path string, isPDF bool) fingerprint {
	if isPDF {
		meta, err := PDFMetadata(path)
		return fingerprint{meta: meta, err: err}
	}
	size, digest, err := Digest(path)
	return fingerprint{size: size, digest: digest, err: err}
}

// Digest возвращает размер и BLAKE3-хеш содержимого файла.
func Digest(path string) (int64, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	h := blake3.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, nil, fmt.Errorf("чтение %s: %w", path, err)
	}
	return n, h.Sum(nil), nil
}

// PDFMetadata читает словарь /Info трейлера. Зашифрованный файл — ошибка.
func PDFMetadata(path string) (meta map[string]string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}

	// разборщик сообщает о повреждённой структуре через panic
	defer func() {
		if r := recover(); r != nil {
			meta, err = nil, fmt.Errorf("разбор PDF %s: %v", path, r)
		}
	}()

	r, err := pdf.NewReader(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("разбор PDF %s: %w", path, err)
	}
	if !r.Trailer().Key("Encrypt").IsNull() {
		return nil, fmt.Errorf("PDF %s зашифрован", path)
	}

	meta = make(map[string]string)
	info := r.Trailer().Key("Info")
	if info.Kind() != pdf.Dict {
		return meta, nil
	}
	for _, k := range info.Keys() {
		meta[k] = info.Key(k).String()
	}
	return meta, nil
}
