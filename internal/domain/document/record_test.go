package document

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func strp(s string) *string { return &s }

const (
	mimePDF  = "application/pdf"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// newRecord создаёт Record из минимального элемента каталога.
func newRecord(t *testing.T, title, fileType string) *Record {
	t.Helper()
	r, err := FromCatalog(CatalogEntry{
		ID:        "1",
		FileID:    "1",
		Title:     title,
		IsFree:    true,
		ValidFrom: strp("2023-10-01T00:00:00"),
		FileType:  strp(fileType),
	})
	if err != nil {
		t.Fatalf("FromCatalog: %v", err)
	}
	return r
}

func TestParseCatalogDate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"местная полночь", "2025-06-06T00:00:00", "2025-06-06"},
		{"UTC 22:00 летом", "2023-09-30T22:00:00", "2023-10-01"},
		{"UTC 23:00 зимой", "2024-03-31T23:00:00", "2024-04-01"},
		{"23:00 UTC летом остаётся следующим днём", "2024-10-22T23:00:00", "2024-10-23"},
		{"только дата", "2024-04-03", "2024-04-03"},
		{"со смещением", "2023-09-30T22:00:00Z", "2023-10-01"},
		{"с долями секунды", "2024-10-01T00:00:00.000", "2024-10-01"},
		{"дневное время", "2024-10-01T12:34:56", "2024-10-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCatalogDate("validFrom", tt.in)
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseCatalogDate(%q) = %s, ожидалось %s", tt.in, got.String(), tt.want)
			}
		})
	}
}

func TestParseCatalogDate_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "01.10.2023", "2023-13-01T00:00:00"} {
		_, err := ParseCatalogDate("validTo", in)
		var de *InvalidDateError
		if !errors.As(err, &de) {
			t.Errorf("ParseCatalogDate(%q): ожидалась InvalidDateError, получено %v", in, err)
			continue
		}
		if de.Field != "validTo" {
			t.Errorf("InvalidDateError.Field = %q, ожидалось validTo", de.Field)
		}
	}
}

func TestFromCatalog_MissingValidFrom(t *testing.T) {
	_, err := FromCatalog(CatalogEntry{ID: "7", Title: "x"})
	var de *InvalidDateError
	if !errors.As(err, &de) {
		t.Fatalf("ожидалась InvalidDateError, получено %v", err)
	}
}

func TestCatalogEntry_UnmarshalHandles(t *testing.T) {
	raw := `{"data":[
		{"id": 42, "fileId": 4711, "title": "IFTSTA MIG 2.0e", "isFree": true,
		 "validFrom": "2023-10-01T00:00:00", "validTo": null, "fileType": "application/pdf"},
		{"id": "abc", "fileId": null, "title": "Link", "isFree": true,
		 "validFrom": "2023-10-01T00:00:00", "link": "https://example.org", "unknownField": 1}
	]}`

	var c Catalog
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(c.Data) != 2 {
		t.Fatalf("ожидалось 2 записи, получено %d", len(c.Data))
	}
	if c.Data[0].ID != "42" || c.Data[0].FileID != "4711" {
		t.Errorf("числовые идентификаторы: id=%q fileId=%q", c.Data[0].ID, c.Data[0].FileID)
	}
	if c.Data[1].ID != "abc" || c.Data[1].FileID != "" {
		t.Errorf("строковые идентификаторы: id=%q fileId=%q", c.Data[1].ID, c.Data[1].FileID)
	}

	r, err := FromCatalog(c.Data[1])
	if err != nil {
		t.Fatalf("FromCatalog: %v", err)
	}
	if r.Downloadable() {
		t.Error("внешняя ссылка без fileId не должна быть загружаемой")
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		title    string
		fileType string
		want     string
	}{
		{"IFTSTA MIG 2.0e", mimePDF, "MIG"},
		{"UTILMD AHB Strom 2.1", mimePDF, "AHB"},
		{"APERAK CONTRL AHB 2.4a", mimePDF, "AHB"},
		{"Entscheidungsbaum-Diagramme 4.0", mimePDF, "EBD"},
		{"1.0", mimePDF, "dokument"},
		{"Codeliste XML Schema 1.0", "XSD", "XSD"},
		{"Codeliste der OBIS-Kennzahlen 2.5", mimeXLSX, "EXCEL"},
		{"Allgemeine Festlegungen 6.1b", mimePDF, "allgemeinefestlegungen"},
		{"MIG ohne Format", mimePDF, "migohneformat"},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			r := newRecord(t, tt.title, tt.fileType)
			if got := r.Kind().String(); got != tt.want {
				t.Errorf("Kind() = %q, ожидалось %q", got, tt.want)
			}
		})
	}
}

func TestKind_OtherCarriesLabel(t *testing.T) {
	r := newRecord(t, "Allgemeine Festlegungen 6.1b", mimePDF)
	k := r.Kind()
	if k.Tag != KindOther || k.Label != "allgemeinefestlegungen" {
		t.Errorf("Kind() = %+v", k)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		title  string
		want   Format
		wantOK bool
	}{
		{"IFTSTA MIG 2.0e", IFTSTA, true},
		{"APERAK CONTRL AHB 2.4a", APERAK, true},
		{"BDEWXX MIG 1.0 UTILMD", UTILMD, true},
		{"Allgemeine Festlegungen", "", false},
	}
	for _, tt := range tests {
		r := newRecord(t, tt.title, mimePDF)
		got, ok := r.Format()
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("Format(%q) = %q, %v; ожидалось %q, %v", tt.title, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestDocumentVersion(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"IFTSTA MIG 2.0e", "2.0e"},
		{"UTILMD AHB Gas S1.1 Konsolidierte Lesefassung", "1.1"},
		{"MSCONS MIG Stand: 01.10.2023 2.4c", ""},
		{"UTILMD AHB 1.1 Stand: 01.04.2024 Fehlerkorrektur 2.0", "1.1"},
		{"Allgemeine Festlegungen 6.1b Stand: 01.04.2024", "6.1b"},
		{"Informatorische Lesefassung Stand: 01.04.2024", ""},
	}
	for _, tt := range tests {
		r := newRecord(t, tt.title, mimePDF)
		got, ok := r.DocumentVersion()
		if got != tt.want || ok != (tt.want != "") {
			t.Errorf("DocumentVersion(%q) = %q, %v; ожидалось %q", tt.title, got, ok, tt.want)
		}
		if ok && !ValidVersion(got) {
			t.Errorf("DocumentVersion(%q) = %q вне грамматики версии", tt.title, got)
		}
	}
}

func TestValidVersion(t *testing.T) {
	tests := []struct {
		s    string
		want bool
	}{
		{"2.0e", true},
		{"1.1", true},
		{"10.12", true},
		{"S1.1", false},
		{"2.0E", false},
		{"2.0ab", false},
		{"2", false},
		{"NV", false},
	}
	for _, tt := range tests {
		if got := ValidVersion(tt.s); got != tt.want {
			t.Errorf("ValidVersion(%q) = %v, ожидалось %v", tt.s, got, tt.want)
		}
	}
}

func TestFlags(t *testing.T) {
	tests := []struct {
		name  string
		entry CatalogEntry
		want  Flags
	}{
		{
			name:  "только флаги каталога",
			entry: CatalogEntry{Title: "UTILMD MIG 1.0", IsErrorCorrection: true, IsInformationalReadingVersion: true},
			want:  Flags{ErrorCorrection: true, Informational: true},
		},
		{
			name:  "ключевые слова",
			entry: CatalogEntry{Title: "UTILMD MIG 1.0 Konsolidierte Lesefassung mit Fehlerkorrekturen"},
			want:  Flags{ErrorCorrection: true, Consolidated: true},
		},
		{
			name:  "ß в заголовке",
			entry: CatalogEntry{Title: "Außerordentliche Veröffentlichung UTILMD AHB 1.0"},
			want:  Flags{Extraordinary: true},
		},
		{
			name:  "опечатка портала",
			entry: CatalogEntry{Title: "ausserordenliche Veröffentlichung"},
			want:  Flags{Extraordinary: true},
		},
		{
			name:  "информационная версия",
			entry: CatalogEntry{Title: "Informatorische Lesefassung Veröffentlichung"},
			want:  Flags{Informational: true},
		},
		{
			name:  "без признаков",
			entry: CatalogEntry{Title: "IFTSTA MIG 2.0e"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := tt.entry
			e.ID, e.FileID, e.IsFree = "1", "1", true
			e.ValidFrom = strp("2024-04-03")
			r, err := FromCatalog(e)
			if err != nil {
				t.Fatalf("FromCatalog: %v", err)
			}
			if got := r.Flags(); got != tt.want {
				t.Errorf("Flags() = %+v, ожидалось %+v", got, tt.want)
			}
		})
	}
}

func TestExtension(t *testing.T) {
	for ft, want := range map[string]Extension{
		mimePDF:   ExtPDF,
		"XSD":     ExtXSD,
		mimeXLSX:  ExtXLSX,
		"text/xml": ExtXML,
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ExtDOCX,
	} {
		got, err := ExtensionFor(ft)
		if err != nil || got != want {
			t.Errorf("ExtensionFor(%q) = %q, %v; ожидалось %q", ft, got, err, want)
		}
	}

	r := newRecord(t, "Something", "application/zip")
	_, err := r.Extension()
	var ue *UnsupportedFileTypeError
	if !errors.As(err, &ue) || ue.FileType != "application/zip" {
		t.Errorf("ожидалась UnsupportedFileTypeError, получено %v", err)
	}
}

func TestPublicationDate(t *testing.T) {
	// из каталога
	r, err := FromCatalog(CatalogEntry{
		ID: "1", FileID: "1", Title: "X Stand: 01.02.2020", IsFree: true,
		ValidFrom:       strp("2023-10-01T00:00:00"),
		PublicationDate: strp("2023-06-30T22:00:00"),
	})
	if err != nil {
		t.Fatalf("FromCatalog: %v", err)
	}
	if got := r.EffectivePublicationDate().String(); got != "2023-07-01" {
		t.Errorf("дата из каталога: %s, ожидалось 2023-07-01", got)
	}

	// из заголовка
	r = newRecord(t, "UTILMD AHB 1.0 Stand: 3.4.2024", mimePDF)
	if got := r.EffectivePublicationDate().String(); got != "2024-04-03" {
		t.Errorf("дата из Stand: %s, ожидалось 2024-04-03", got)
	}

	// запасной вариант — validFrom
	r = newRecord(t, "UTILMD AHB 1.0", mimePDF)
	if r.PublicationDate() != nil {
		t.Error("PublicationDate() должна быть nil")
	}
	if got := r.EffectivePublicationDate().String(); got != "2023-10-01" {
		t.Errorf("запасная дата: %s, ожидалось 2023-10-01", got)
	}
}

func TestEffectiveValidTo(t *testing.T) {
	r := newRecord(t, "X", mimePDF)
	if got := r.EffectiveValidTo().String(); got != "9999-12-31" {
		t.Errorf("EffectiveValidTo() = %s, ожидалось 9999-12-31", got)
	}
}

func TestDownloadable(t *testing.T) {
	base := CatalogEntry{ID: "1", FileID: "2", IsFree: true, ValidFrom: strp("2024-01-01"), FileType: strp(mimePDF)}

	r, _ := FromCatalog(base)
	if !r.Downloadable() {
		t.Error("бесплатный документ с fileId должен быть загружаемым")
	}

	paid := base
	paid.IsFree = false
	r, _ = FromCatalog(paid)
	if r.Downloadable() {
		t.Error("платный документ не должен быть загружаемым")
	}

	noType := base
	noType.FileType = nil
	r, _ = FromCatalog(noType)
	if !r.Downloadable() {
		t.Error("документ без типа файла загружаем, отказ даёт Extension")
	}
	if _, err := r.Extension(); err == nil || err.Error() != "тип файла не указан" {
		t.Errorf("Extension() без типа файла: %v", err)
	}
}

func TestSparteAndEpoch(t *testing.T) {
	r := newRecord(t, "UTILMD AHB Gas 1.0", mimePDF)
	if s, ok := r.Sparte(); !ok || s != "Gas" {
		t.Errorf("Sparte() = %q, %v", s, ok)
	}

	today := time.Date(2023, time.January, 1, 15, 0, 0, 0, time.UTC)
	if e := r.Epoch(today); e != EpochFuture {
		t.Errorf("Epoch() = %s, ожидалось future", e)
	}
	if e := r.Epoch(time.Date(2023, time.October, 1, 0, 0, 0, 0, time.UTC)); e != EpochCurrent {
		t.Errorf("Epoch() в день начала = %s, ожидалось current", e)
	}
	if e := EpochOf(NewDate(2020, 1, 1).Time, NewDate(2020, 12, 31).Time, today); e != EpochPast {
		t.Errorf("EpochOf() = %s, ожидалось past", e)
	}
}

func TestTitle_NormalizedToNFC(t *testing.T) {
	r := newRecord(t, "  Vero\u0308ffentlichung ", mimePDF)
	if r.Title() != "Veröffentlichung" {
		t.Errorf("Title() = %q, ожидалась NFC-форма без пробелов по краям", r.Title())
	}
}
