// Пакет lock — межпроцессная блокировка прогона синхронизации.
//
// Два экземпляра зеркала, направленные на один корень, не должны
// выполнять прогоны одновременно. Блокировка — flock на файле
// <root>/.mirror.lock; ядро снимает её при завершении процесса.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// FileName — имя lock-файла в корне зеркала.
const FileName = ".mirror.lock"

// ErrLocked — блокировка удерживается другим процессом или прогоном.
var ErrLocked = errors.New("корень зеркала заблокирован другим прогоном")

// Holder — сведения о владельце, записываются в lock-файл для диагностики.
type Holder struct {
	PID       int       `json:"pid"`
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
}

// LockedError — отказ в захвате с данными текущего владельца.
// Holder равен nil, если lock-файл ещё не заполнен или не читается.
type LockedError struct {
	Holder *Holder
}

func (e *LockedError) Error() string {
	if e.Holder == nil {
		return ErrLocked.Error()
	}
	return fmt.Sprintf("%s (run_id=%s, pid=%d, с %s)", ErrLocked.Error(),
		e.Holder.RunID, e.Holder.PID, e.Holder.StartedAt.Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// RunLock — захваченная блокировка.
type RunLock struct {
	file *os.File
	path string
}

// TryAcquire пытается без ожидания захватить блокировку в dir.
// Если она занята, возвращает *LockedError (errors.Is(err, ErrLocked) истинно).
func TryAcquire(dir, runID string) (*RunLock, error) {
	lockPath := filepath.Join(dir, FileName)

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть lock-файл %s: %w", lockPath, err)
	}

	// Неблокирующая попытка захватить эксклюзивную блокировку
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			holder, _ := ReadHolder(dir)
			return nil, &LockedError{Holder: holder}
		}
		return nil, fmt.Errorf("flock %s: %w", lockPath, err)
	}

	l := &RunLock{file: f, path: lockPath}
	if err := l.writeHolder(Holder{PID: os.Getpid(), RunID: runID, StartedAt: time.Now().UTC()}); err != nil {
		l.Release()
		return nil, err
	}
	return l, nil
}

// Release снимает блокировку. Повторный вызов безопасен.
func (l *RunLock) Release() {
	if l == nil || l.file == nil {
		return
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}

// ReadHolder читает сведения о последнем владельце блокировки.
func ReadHolder(dir string) (*Holder, error) {
	data, err := os.ReadFile(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	var h Holder
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("некорректный lock-файл: %w", err)
	}
	return &h, nil
}

func (l *RunLock) writeHolder(h Holder) error {
	data, err := json.Marshal(h)
	if err != nil {
		return err
	}
	if err := l.file.Truncate(0); err != nil {
		return fmt.Errorf("запись lock-файла %s: %w", l.path, err)
	}
	if _, err := l.file.WriteAt(data, 0); err != nil {
		return fmt.Errorf("запись lock-файла %s: %w", l.path, err)
	}
	return nil
}
