package inventory

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/edimirror/internal/domain/document"
	"github.com/bigkaa/edimirror/internal/storage/filename"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestInventory() *Inventory {
	return New(filename.NewCodec(testLogger()), testLogger())
}

func touch(t *testing.T, root, rel string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(rel), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestBuildFromDir(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "FV2310/MIG_IFTSTA2.0e_20231001_20240930_20231001_oooo_42.pdf")
	touch(t, root, "FV2404/MIG_IFTSTA2.0e_20231001_20240930_20231001_oooo_42.pdf")
	touch(t, root, "FV2404/notes.txt")
	touch(t, root, "FV2404/EBD_4.0_20240403_99991231_20240403_oooo_7.pdf.1a2b3c4d.tmp")
	touch(t, root, "stray.pdf")
	touch(t, root, ".mirror.lock")
	touch(t, root, ".git/config")

	inv := newTestInventory()
	if inv.IsReady() {
		t.Fatal("индекс не должен быть готов до BuildFromDir")
	}
	if err := inv.BuildFromDir(root); err != nil {
		t.Fatalf("BuildFromDir: %v", err)
	}
	if !inv.IsReady() {
		t.Fatal("индекс должен быть готов")
	}

	if inv.Count() != 5 {
		t.Errorf("Count() = %d, ожидалось 5 (скрытые файлы пропускаются)", inv.Count())
	}
	paths := inv.Paths()
	if paths.Contains(".mirror.lock") || paths.Contains(".git/config") {
		t.Error("скрытые файлы не должны попадать в индекс")
	}
	if !paths.Contains("stray.pdf") {
		t.Error("файл в корне должен попасть в индекс")
	}

	e := inv.Get("FV2310/MIG_IFTSTA2.0e_20231001_20240930_20231001_oooo_42.pdf")
	if e == nil {
		t.Fatal("запись не найдена")
	}
	if e.Bucket != "FV2310" || e.Meta == nil || e.Meta.Kind.Tag != document.KindMIG || e.Meta.ID != "42" {
		t.Errorf("некорректная запись: %+v", e)
	}

	if e := inv.Get("FV2404/notes.txt"); e == nil || e.Meta != nil {
		t.Errorf("файл с недекодируемым именем должен быть в индексе без метаданных: %+v", e)
	}
	if e := inv.Get("FV2404/EBD_4.0_20240403_99991231_20240403_oooo_7.pdf.1a2b3c4d.tmp"); e == nil || !e.Temp {
		t.Errorf("временный файл должен быть помечен: %+v", e)
	}

	byBucket := inv.CountByBucket()
	if byBucket["FV2404"] != 3 || byBucket["FV2310"] != 1 || byBucket[""] != 1 {
		t.Errorf("CountByBucket() = %v", byBucket)
	}
}

func TestAddRemove(t *testing.T) {
	inv := newTestInventory()
	rel := "FV2410/EBD_4.0_20241001_99991231_20241001_oooo_9.pdf"

	inv.Add(rel, 10, time.Now())
	if e := inv.Get(rel); e == nil || e.Size != 10 || e.Meta == nil {
		t.Fatalf("Add: %+v", e)
	}
	if !inv.Remove(rel) {
		t.Error("Remove должен вернуть true")
	}
	if inv.Remove(rel) {
		t.Error("повторный Remove должен вернуть false")
	}
	if inv.Count() != 0 {
		t.Errorf("Count() = %d", inv.Count())
	}
}

func TestBuildFromDir_MissingRoot(t *testing.T) {
	inv := newTestInventory()
	if err := inv.BuildFromDir(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("ожидалась ошибка для несуществующей директории")
	}
	if inv.IsReady() {
		t.Error("индекс не должен быть готов после ошибки")
	}
}

func TestSummarize(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "FV2310/MIG_IFTSTA2.0e_20231001_20240930_20231001_oooo_42.pdf")
	touch(t, root, "FV2404/MIG_IFTSTA2.0e_20231001_20240930_20231001_oooo_42.pdf")
	touch(t, root, "FV2404/EBD_4.0_20240403_99991231_20240403_oooo_7.pdf")
	touch(t, root, "FV2404/allgemeinefestlegungen_6.1b_20240403_99991231_20240403_oooo_8.pdf")
	touch(t, root, "FV2404/notes.txt")
	touch(t, root, "archive/AHB_UTILMD1.1_20230401_20230930_20230401_oooo_3.pdf")

	inv := newTestInventory()
	if err := inv.BuildFromDir(root); err != nil {
		t.Fatalf("BuildFromDir: %v", err)
	}

	s := inv.Summarize()
	if s.Kinds["MIG"] != 2 || s.Kinds["EBD"] != 1 || s.Kinds["AHB"] != 1 || s.Kinds["OTHER"] != 1 {
		t.Errorf("Kinds = %v", s.Kinds)
	}
	if s.OpenEnded != 2 {
		t.Errorf("OpenEnded = %d, ожидалось 2", s.OpenEnded)
	}
	if s.Unrecognized != 1 {
		t.Errorf("Unrecognized = %d, ожидалось 1", s.Unrecognized)
	}
	if s.Foreign != 1 {
		t.Errorf("Foreign = %d, ожидалось 1 (archive/ не версия формата)", s.Foreign)
	}
}

func TestBuildFromDir_DecodesKnownNamesOnce(t *testing.T) {
	root := t.TempDir()
	// AHB без формата EDIFACT: декодер предупреждает
	touch(t, root, "FV2404/AHB_1.0_20240403_99991231_20240403_oooo_11.pdf")

	var buf bytes.Buffer
	inv := New(filename.NewCodec(slog.New(slog.NewTextHandler(&buf, nil))), testLogger())
	for i := 0; i < 3; i++ {
		if err := inv.BuildFromDir(root); err != nil {
			t.Fatalf("BuildFromDir: %v", err)
		}
	}

	if n := strings.Count(buf.String(), "level=WARN"); n != 1 {
		t.Errorf("предупреждений %d, ожидалось 1 за три построения индекса", n)
	}
	if e := inv.Get("FV2404/AHB_1.0_20240403_99991231_20240403_oooo_11.pdf"); e == nil || e.Meta == nil {
		t.Errorf("метаданные должны сохраняться между построениями: %+v", e)
	}
}
