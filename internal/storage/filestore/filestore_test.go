package filestore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestOpen_RequiresExistingDirectory проверяет, что корень не создаётся.
func TestOpen_RequiresExistingDirectory(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "absent")

	_, err := Open(missing)
	var re *InvalidRootDirectoryError
	if !errors.As(err, &re) {
		t.Fatalf("ожидалась InvalidRootDirectoryError, получено %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ошибка должна оборачивать ErrNotExist: %v", err)
	}
	if _, err := os.Stat(missing); !os.IsNotExist(err) {
		t.Error("Open не должен создавать корневую директорию")
	}
}

func TestOpen_RejectsRegularFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(f)
	var re *InvalidRootDirectoryError
	if !errors.As(err, &re) {
		t.Fatalf("ожидалась InvalidRootDirectoryError, получено %v", err)
	}
}

// TestWriteTempAndCommit проверяет запись во временный файл и фиксацию.
func TestWriteTempAndCommit(t *testing.T) {
	fs, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	content := []byte("%PDF-1.4 тестовые данные")
	rel := "FV2310/MIG_IFTSTA2.0e_20231001_20240930_20231001_oooo_42.pdf"

	tmp, err := fs.WriteTemp(rel, bytes.NewReader(content))
	if err != nil {
		t.Fatalf("WriteTemp: %v", err)
	}

	if tmp.Size != int64(len(content)) {
		t.Errorf("размер: ожидалось %d, получено %d", len(content), tmp.Size)
	}
	sum := sha256.Sum256(content)
	if tmp.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("checksum: получено %s", tmp.Checksum)
	}
	if !IsTempName(tmp.FullPath) {
		t.Errorf("временный файл должен иметь суффикс %s: %s", TempSuffix, tmp.FullPath)
	}
	if fs.FileExists(rel) {
		t.Fatal("итоговый файл не должен существовать до Commit")
	}

	if err := fs.Commit(tmp); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if !fs.FileExists(rel) {
		t.Fatal("итоговый файл не найден после Commit")
	}
	if _, err := os.Stat(tmp.FullPath); !os.IsNotExist(err) {
		t.Error("временный файл должен исчезнуть после Commit")
	}

	data, err := os.ReadFile(fs.FullPath(rel))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Error("содержимое не совпадает")
	}
}

// TestCommit_ReplacesExisting проверяет атомарную замену.
func TestCommit_ReplacesExisting(t *testing.T) {
	fs, _ := Open(t.TempDir())
	rel := "FV2404/a.xml"

	for _, body := range []string{"<v1/>", "<v2/>"} {
		tmp, err := fs.WriteTemp(rel, strings.NewReader(body))
		if err != nil {
			t.Fatalf("WriteTemp: %v", err)
		}
		if err := fs.Commit(tmp); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}

	data, _ := os.ReadFile(fs.FullPath(rel))
	if string(data) != "<v2/>" {
		t.Errorf("ожидалось новое содержимое, получено %q", data)
	}
}

func TestDiscard(t *testing.T) {
	fs, _ := Open(t.TempDir())
	tmp, err := fs.WriteTemp("FV2404/b.xml", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("WriteTemp: %v", err)
	}
	if err := fs.Discard(tmp); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if _, err := os.Stat(tmp.FullPath); !os.IsNotExist(err) {
		t.Error("временный файл должен быть удалён")
	}
	// повторный Discard не ошибка
	if err := fs.Discard(tmp); err != nil {
		t.Errorf("повторный Discard: %v", err)
	}
}

func TestDeleteFile(t *testing.T) {
	fs, _ := Open(t.TempDir())
	tmp, _ := fs.WriteTemp("FV2404/c.pdf", strings.NewReader("x"))
	if err := fs.Commit(tmp); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := fs.DeleteFile("FV2404/c.pdf"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if fs.FileExists("FV2404/c.pdf") {
		t.Error("файл должен быть удалён")
	}
	if info, err := os.Stat(fs.FullPath("FV2404")); err != nil || !info.IsDir() {
		t.Error("директория версии не должна удаляться")
	}
	if err := fs.DeleteFile("FV2404/c.pdf"); err != nil {
		t.Errorf("удаление несуществующего файла: %v", err)
	}
}

func TestRelPathValidation(t *testing.T) {
	fs, _ := Open(t.TempDir())
	for _, rel := range []string{"", "../escape.pdf", "/abs.pdf", "FV2404/../../x", `FV2404\x.pdf`, "."} {
		if _, err := fs.WriteTemp(rel, strings.NewReader("x")); err == nil {
			t.Errorf("WriteTemp(%q): ожидалась ошибка", rel)
		}
		if err := fs.DeleteFile(rel); err == nil {
			t.Errorf("DeleteFile(%q): ожидалась ошибка", rel)
		}
	}
}
