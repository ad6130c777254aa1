// Пакет document — запись каталога документов EDI@Energy и производные
// свойства: вид, формат, версия документа, признаки публикации, расширение.
//
// Record неизменяем. Производные свойства вычисляются при каждом обращении
// и не кэшируются.
package document

import (
	"regexp"
	"strings"
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"
)

var (
	versionPattern      = regexp.MustCompile(`\d+\.\d+[a-z]?\b`)
	validVersionPattern = regexp.MustCompile(`^\d+\.\d+[a-z]?$`)
	datePattern         = regexp.MustCompile(`\b\d{1,2}\.\d{1,2}\.\d{2,4}\b`)
	standPattern        = regexp.MustCompile(`Stand:\s*(\d{1,2})\.(\d{1,2})\.(\d{4})`)
)

// Record — нормализованная запись каталога.
type Record struct {
	id              string
	fileID          string
	title           string
	isFree          bool
	fileType        string
	link            string
	validFrom       openapi_types.Date
	validTo         *openapi_types.Date
	publicationDate *openapi_types.Date
	entry           CatalogEntry
}

// FromCatalog строит Record из элемента каталога, нормализуя даты.
// Отсутствие validFrom — ошибка; остальные даты необязательны.
func FromCatalog(e CatalogEntry) (*Record, error) {
	if e.ValidFrom == nil {
		return nil, &InvalidDateError{Field: "validFrom"}
	}
	validFrom, err := ParseCatalogDate("validFrom", *e.ValidFrom)
	if err != nil {
		return nil, err
	}

	r := &Record{
		id:        string(e.ID),
		fileID:    string(e.FileID),
		title:     normalizeTitle(e.Title),
		isFree:    e.IsFree,
		validFrom: validFrom,
		entry:     e,
	}
	if e.FileType != nil {
		r.fileType = strings.TrimSpace(*e.FileType)
	}
	if e.Link != nil {
		r.link = *e.Link
	}
	if r.validTo, err = optionalDate("validTo", e.ValidTo); err != nil {
		return nil, err
	}
	if r.publicationDate, err = optionalDate("publicationDate", e.PublicationDate); err != nil {
		return nil, err
	}
	return r, nil
}

func optionalDate(field string, v *string) (*openapi_types.Date, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil, nil
	}
	d, err := ParseCatalogDate(field, *v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ID — идентификатор документа в каталоге.
func (r *Record) ID() string { return r.id }

// FileID — дескриптор файла для загрузки; пустой у внешних ссылок.
func (r *Record) FileID() string { return r.fileID }

func (r *Record) Title() string    { return r.title }
func (r *Record) IsFree() bool     { return r.isFree }
func (r *Record) FileType() string { return r.fileType }
func (r *Record) Link() string     { return r.link }

func (r *Record) ValidFrom() openapi_types.Date { return r.validFrom }

// ValidTo — последний день действия или nil для бессрочных документов.
func (r *Record) ValidTo() *openapi_types.Date { return copyDate(r.validTo) }

// EffectiveValidTo возвращает validTo или 9999-12-31.
func (r *Record) EffectiveValidTo() openapi_types.Date {
	if r.validTo == nil {
		return OpenEnd
	}
	return *r.validTo
}

// PublicationDate — дата публикации из каталога или из фразы
// "Stand: DD.MM.YYYY" в заголовке.
func (r *Record) PublicationDate() *openapi_types.Date {
	if r.publicationDate != nil {
		return copyDate(r.publicationDate)
	}
	return standDate(r.title)
}

// EffectivePublicationDate — дата публикации, а при её отсутствии validFrom.
func (r *Record) EffectivePublicationDate() openapi_types.Date {
	if d := r.PublicationDate(); d != nil {
		return *d
	}
	return r.validFrom
}

// Extension — расширение файла по типу из каталога.
func (r *Record) Extension() (Extension, error) {
	return ExtensionFor(r.fileType)
}

// Kind — вид документа.
func (r *Record) Kind() Kind {
	ext, _ := r.Extension()
	return classify(r.title, ext)
}

// Format — формат EDIFACT, первый код из каталога, найденный в заголовке.
func (r *Record) Format() (Format, bool) {
	return findFormat(r.title)
}

// DocumentVersion — версия документа из заголовка ("2.0e", "1.1").
// Учитывается только часть заголовка до первой даты вида "01.10.2023".
func (r *Record) DocumentVersion() (string, bool) {
	title := r.title
	if loc := datePattern.FindStringIndex(title); loc != nil {
		title = title[:loc[0]]
	}
	v := versionPattern.FindString(title)
	return v, v != ""
}

// ValidVersion сообщает, соответствует ли строка грамматике версии
// документа: цифры, точка, цифры и необязательная строчная буква.
func ValidVersion(s string) bool {
	return validVersionPattern.MatchString(s)
}

// Flags — признаки публикации: флаг каталога или ключевое слово в заголовке.
func (r *Record) Flags() Flags {
	return flagsFor(&r.entry, r.title)
}

// Downloadable сообщает, можно ли скачать документ: он бесплатен
// и у него есть дескриптор файла. Тип файла проверяет Extension.
func (r *Record) Downloadable() bool {
	return r.isFree && r.fileID != ""
}

// Sparte — сегмент рынка (Gas или Strom), если он указан в заголовке.
func (r *Record) Sparte() (string, bool) {
	folded := fold(r.title)
	switch {
	case strings.Contains(folded, "gas"):
		return "Gas", true
	case strings.Contains(folded, "strom"):
		return "Strom", true
	}
	return "", false
}

// Epoch — положение интервала действия относительно даты today.
func (r *Record) Epoch(today time.Time) Epoch {
	return EpochOf(r.validFrom.Time, r.EffectiveValidTo().Time, today)
}

func standDate(title string) *openapi_types.Date {
	m := standPattern.FindStringSubmatch(title)
	if m == nil {
		return nil
	}
	d, err := time.Parse("2.1.2006", m[1]+"."+m[2]+"."+m[3])
	if err != nil {
		return nil
	}
	out := NewDate(d.Year(), d.Month(), d.Day())
	return &out
}

func copyDate(d *openapi_types.Date) *openapi_types.Date {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
