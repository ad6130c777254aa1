// Пакет filestore — операции с файлами зеркала на диске.
// Обеспечивает запись во временный файл с подсчётом SHA-256 на лету,
// атомарную фиксацию переименованием и удаление.
//
// Все пути относительно корня зеркала и разделены "/": <версия>/<имя>.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// TempSuffix — суффикс временных файлов.
const TempSuffix = ".tmp"

// InvalidRootDirectoryError — корень зеркала не существует или не является директорией.
type InvalidRootDirectoryError struct {
	Path string
	Err  error
}

func (e *InvalidRootDirectoryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("некорректная корневая директория %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("некорректная корневая директория %s: не является директорией", e.Path)
}

func (e *InvalidRootDirectoryError) Unwrap() error { return e.Err }

// FileStore — управление файлами зеркала.
type FileStore struct {
	rootDir string
}

// TempFile — результат записи во временный файл.
type TempFile struct {
	// RelPath — итоговый путь, под которым файл будет зафиксирован
	RelPath string
	// FullPath — абсолютный путь временного файла
	FullPath string
	// Size — размер записанных данных в байтах
	Size int64
	// Checksum — SHA-256 хэш содержимого
	Checksum string
}

// Open создаёт FileStore для существующей директории.
// Корень не создаётся: его отсутствие — ошибка конфигурации.
func Open(rootDir string) (*FileStore, error) {
	fs := &FileStore{rootDir: rootDir}
	if err := fs.CheckRoot(); err != nil {
		return nil, err
	}
	return fs, nil
}

// CheckRoot проверяет, что корень существует и является директорией.
func (fs *FileStore) CheckRoot() error {
	info, err := os.Stat(fs.rootDir)
	if err != nil {
		return &InvalidRootDirectoryError{Path: fs.rootDir, Err: err}
	}
	if !info.IsDir() {
		return &InvalidRootDirectoryError{Path: fs.rootDir}
	}
	return nil
}

// RootDir возвращает путь к корню зеркала.
func (fs *FileStore) RootDir() string {
	return fs.rootDir
}

// FullPath возвращает абсолютный путь для относительного пути зеркала.
func (fs *FileStore) FullPath(relPath string) string {
	return filepath.Join(fs.rootDir, filepath.FromSlash(relPath))
}

// WriteTemp записывает данные из reader во временный файл рядом с relPath.
// Директория версии создаётся при необходимости.
//
// Паттерн: temp файл → запись + SHA-256 → fsync. Фиксация — Commit,
// отказ — Discard. При ошибке temp файл удаляется.
func (fs *FileStore) WriteTemp(relPath string, reader io.Reader) (*TempFile, error) {
	if err := validateRelPath(relPath); err != nil {
		return nil, err
	}
	fullPath := fs.FullPath(relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", filepath.Dir(fullPath), err)
	}

	tmpPath := fmt.Sprintf("%s.%s%s", fullPath, uuid.New().String()[:8], TempSuffix)
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	hasher := sha256.New()
	size, err := io.Copy(f, io.TeeReader(reader, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	return &TempFile{
		RelPath:  relPath,
		FullPath: tmpPath,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Commit атомарно переименовывает временный файл в итоговый,
// заменяя существующий.
func (fs *FileStore) Commit(tmp *TempFile) error {
	if err := os.Rename(tmp.FullPath, fs.FullPath(tmp.RelPath)); err != nil {
		os.Remove(tmp.FullPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// Discard удаляет временный файл.
func (fs *FileStore) Discard(tmp *TempFile) error {
	err := os.Remove(tmp.FullPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ошибка удаления временного файла %s: %w", tmp.FullPath, err)
	}
	return nil
}

// DeleteFile удаляет файл. Директории не удаляются никогда.
// Возвращает nil если файл уже не существует.
func (fs *FileStore) DeleteFile(relPath string) error {
	if err := validateRelPath(relPath); err != nil {
		return err
	}
	err := os.Remove(fs.FullPath(relPath))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла %s: %w", relPath, err)
	}
	return nil
}

// FileExists проверяет существование обычного файла.
func (fs *FileStore) FileExists(relPath string) bool {
	info, err := os.Stat(fs.FullPath(relPath))
	return err == nil && info.Mode().IsRegular()
}

// IsTempName сообщает, является ли имя временным файлом.
func IsTempName(name string) bool {
	return strings.HasSuffix(name, TempSuffix)
}

// validateRelPath не допускает выход за пределы корня.
func validateRelPath(relPath string) error {
	clean := path.Clean(relPath)
	if relPath == "" || clean != relPath || path.IsAbs(relPath) ||
		clean == "." || strings.HasPrefix(clean, "../") || clean == ".." ||
		strings.Contains(relPath, `\`) {
		return fmt.Errorf("недопустимый путь %q", relPath)
	}
	return nil
}
