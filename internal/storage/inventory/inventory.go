// Пакет inventory — потокобезопасный in-memory индекс файлов зеркала.
//
// Индекс строится сканированием корня (BuildFromDir) и обновляется
// синхронно при фиксации и удалении файлов (Add, Remove).
// Скрытые файлы и директории (имя начинается с ".") в индекс не попадают.
//
// Не персистентный: при рестарте пересобирается с диска.
package inventory

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/bigkaa/edimirror/internal/domain/document"
	"github.com/bigkaa/edimirror/internal/domain/formatversion"
	"github.com/bigkaa/edimirror/internal/storage/filename"
	"github.com/bigkaa/edimirror/internal/storage/filestore"
)

// Entry — файл зеркала.
type Entry struct {
	// RelPath — путь относительно корня, разделитель "/"
	RelPath string
	// Bucket — первая компонента пути (версия формата); пусто для файлов в корне
	Bucket  string
	Name    string
	Size    int64
	ModTime time.Time
	// Temp — незафиксированный временный файл
	Temp bool
	// Meta — метаданные из имени; nil, если имя не декодируется
	Meta *filename.Metadata
}

// Inventory — индекс файлов зеркала.
type Inventory struct {
	mu     sync.RWMutex
	files  map[string]*Entry
	ready  bool
	codec  *filename.Codec
	logger *slog.Logger
}

// New создаёт пустой индекс. Для заполнения вызовите BuildFromDir.
func New(codec *filename.Codec, logger *slog.Logger) *Inventory {
	return &Inventory{
		files:  make(map[string]*Entry),
		codec:  codec,
		logger: logger.With(slog.String("component", "inventory")),
	}
}

// BuildFromDir строит индекс сканированием rootDir.
// Заменяет текущее содержимое индекса.
// Метаданные файлов, уже известных индексу, повторно не декодируются.
func (inv *Inventory) BuildFromDir(rootDir string) error {
	inv.mu.RLock()
	known := inv.files
	inv.mu.RUnlock()

	files := make(map[string]*Entry)

	err := filepath.WalkDir(rootDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == rootDir {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(rootDir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		relPath := filepath.ToSlash(rel)
		var e *Entry
		if prev, ok := known[relPath]; ok {
			copied := *prev
			e = &copied
		} else {
			e = inv.entryFor(relPath)
		}
		e.Size = info.Size()
		e.ModTime = info.ModTime()
		files[e.RelPath] = e
		return nil
	})
	if err != nil {
		return fmt.Errorf("ошибка сканирования директории %s: %w", rootDir, err)
	}

	inv.mu.Lock()
	inv.files = files
	inv.ready = true
	inv.mu.Unlock()

	inv.logger.Info("Индекс файлов построен",
		slog.Int("files", len(files)),
		slog.String("root_dir", rootDir),
	)
	return nil
}

func (inv *Inventory) entryFor(relPath string) *Entry {
	dir, name := path.Split(relPath)
	e := &Entry{
		RelPath: relPath,
		Bucket:  strings.SplitN(dir, "/", 2)[0],
		Name:    name,
		Temp:    filestore.IsTempName(name),
	}
	if !e.Temp {
		if meta, err := inv.codec.Decode(name); err == nil {
			e.Meta = meta
		}
	}
	return e
}

// IsReady возвращает true, если индекс построен.
func (inv *Inventory) IsReady() bool {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.ready
}

// Add добавляет или обновляет файл в индексе.
func (inv *Inventory) Add(relPath string, size int64, modTime time.Time) {
	e := inv.entryFor(relPath)
	e.Size = size
	e.ModTime = modTime

	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.files[relPath] = e
}

// Remove удаляет файл из индекса. Возвращает true, если файл был в индексе.
func (inv *Inventory) Remove(relPath string) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if _, ok := inv.files[relPath]; !ok {
		return false
	}
	delete(inv.files, relPath)
	return true
}

// Get возвращает копию записи или nil.
func (inv *Inventory) Get(relPath string) *Entry {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	e, ok := inv.files[relPath]
	if !ok {
		return nil
	}
	copied := *e
	return &copied
}

// Paths возвращает множество путей всех файлов.
func (inv *Inventory) Paths() mapset.Set[string] {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	s := mapset.NewThreadUnsafeSetWithSize[string](len(inv.files))
	for p := range inv.files {
		s.Add(p)
	}
	return s
}

// Count возвращает количество файлов в индексе.
func (inv *Inventory) Count() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return len(inv.files)
}

// CountByBucket возвращает количество файлов по версиям формата.
func (inv *Inventory) CountByBucket() map[string]int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	out := make(map[string]int)
	for _, e := range inv.files {
		out[e.Bucket]++
	}
	return out
}

// Summary — сводка по содержимому зеркала.
type Summary struct {
	// Kinds — количество файлов по виду документа
	Kinds map[string]int `json:"kinds"`
	// OpenEnded — файлы бессрочных документов
	OpenEnded int `json:"open_ended"`
	// Unrecognized — имена, не соответствующие формату, и временные файлы
	Unrecognized int `json:"unrecognized"`
	// Foreign — файлы вне директорий известных версий формата
	Foreign int `json:"foreign"`
}

// Summarize возвращает сводку по метаданным из имён файлов.
func (inv *Inventory) Summarize() Summary {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	s := Summary{Kinds: make(map[string]int)}
	for _, e := range inv.files {
		if _, err := formatversion.Parse(e.Bucket); err != nil {
			s.Foreign++
		}
		if e.Meta == nil {
			s.Unrecognized++
			continue
		}
		s.Kinds[kindKey(e.Meta.Kind)]++
		if e.Meta.OpenEnded() {
			s.OpenEnded++
		}
	}
	return s
}

func kindKey(k document.Kind) string {
	if k.Tag == document.KindOther {
		return "OTHER"
	}
	return k.String()
}
