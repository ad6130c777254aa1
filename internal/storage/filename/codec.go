// Пакет filename — кодирование метаданных документа в имя файла и обратно.
//
// Формат имени:
//
//	{вид}_{формат}{версия|NV}_{действует_с}_{действует_по|99991231}_{публикация}_{признаки}_{id}.{расширение}
//
// Даты записываются как YYYYMMDD, признаки — четыре символа x/o в порядке:
// исправление ошибок, внеочередная публикация, консолидированная версия,
// информационная версия. Лексикографическая сортировка имён одного вида и
// формата приблизительно соответствует хронологии.
package filename

import (
	"fmt"
	"log/slog"
	"path"
	"strings"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/bigkaa/edimirror/internal/domain/document"
	"github.com/bigkaa/edimirror/internal/domain/formatversion"
)

const (
	separator   = "_"
	noVersion   = "NV"
	openEndDate = "99991231"
	flagSet     = 'x'
	flagUnset   = 'o'
)

// InvalidFilenameComponentError — поле содержит разделитель пути.
type InvalidFilenameComponentError struct {
	Field string
	Value string
}

func (e *InvalidFilenameComponentError) Error() string {
	return fmt.Sprintf("поле %s содержит разделитель пути: %q", e.Field, e.Value)
}

// MalformedFilenameError — имя файла не соответствует формату.
type MalformedFilenameError struct {
	Name   string
	Reason string
}

func (e *MalformedFilenameError) Error() string {
	return fmt.Sprintf("некорректное имя файла %q: %s", e.Name, e.Reason)
}

// Metadata — метаданные, восстановленные из имени файла.
type Metadata struct {
	Kind document.Kind
	// Format пуст, если формат не удалось определить
	Format document.Format
	// Version пуста для NV
	Version         string
	ValidFrom       openapi_types.Date
	ValidTo         openapi_types.Date
	PublicationDate openapi_types.Date
	Flags           document.Flags
	ID              string
	Extension       document.Extension
	// AdditionalText — ведущая часть имени, если вид не распознан
	AdditionalText string
}

// OpenEnded сообщает, что документ действует бессрочно.
func (m *Metadata) OpenEnded() bool {
	return document.FormatCompact(m.ValidTo) == openEndDate
}

// Codec кодирует и декодирует имена файлов.
type Codec struct {
	logger *slog.Logger
}

// NewCodec создаёт Codec.
func NewCodec(logger *slog.Logger) *Codec {
	return &Codec{logger: logger.With(slog.String("component", "filename"))}
}

// Encode строит имя файла для записи каталога.
func (c *Codec) Encode(rec *document.Record) (string, error) {
	ext, err := rec.Extension()
	if err != nil {
		return "", err
	}

	kind := rec.Kind().String()
	format := ""
	if f, ok := rec.Format(); ok {
		format = string(f)
	}
	version, ok := rec.DocumentVersion()
	if !ok {
		version = noVersion
	}
	validTo := openEndDate
	if to := rec.ValidTo(); to != nil {
		validTo = document.FormatCompact(*to)
	}

	fields := []struct {
		name  string
		value string
	}{
		{"kind", kind},
		{"version", format + version},
		{"validFrom", document.FormatCompact(rec.ValidFrom())},
		{"validTo", validTo},
		{"publicationDate", document.FormatCompact(rec.EffectivePublicationDate())},
		{"flags", encodeFlags(rec.Flags())},
		{"id", rec.ID()},
	}

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if strings.ContainsAny(f.value, `/\`) {
			return "", &InvalidFilenameComponentError{Field: f.name, Value: f.value}
		}
		if f.value == "" {
			return "", &InvalidFilenameComponentError{Field: f.name, Value: f.value}
		}
		parts = append(parts, strings.ReplaceAll(f.value, separator, "-"))
	}
	return strings.Join(parts, separator) + "." + string(ext), nil
}

// RelPath возвращает путь файла относительно корня зеркала: <версия>/<имя>.
// Разделитель всегда "/".
func (c *Codec) RelPath(rec *document.Record, bucket formatversion.Version) (string, error) {
	name, err := c.Encode(rec)
	if err != nil {
		return "", err
	}
	return path.Join(bucket.String(), name), nil
}

// Decode восстанавливает метаданные из имени файла (без директории).
func (c *Codec) Decode(name string) (*Metadata, error) {
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 || dot == len(name)-1 {
		return nil, &MalformedFilenameError{Name: name, Reason: "нет расширения"}
	}
	stem, ext := name[:dot], document.Extension(name[dot+1:])
	if !ext.Valid() {
		return nil, &MalformedFilenameError{Name: name, Reason: fmt.Sprintf("неподдерживаемое расширение %q", ext)}
	}

	parts := strings.Split(stem, separator)
	if len(parts) < 7 {
		return nil, &MalformedFilenameError{Name: name, Reason: fmt.Sprintf("ожидается не менее 7 частей, получено %d", len(parts))}
	}
	n := len(parts)

	m := &Metadata{ID: parts[n-1], Extension: ext}
	if m.ID == "" {
		return nil, &MalformedFilenameError{Name: name, Reason: "пустой идентификатор"}
	}

	flags, err := decodeFlags(parts[n-2])
	if err != nil {
		return nil, &MalformedFilenameError{Name: name, Reason: err.Error()}
	}
	m.Flags = flags

	dates := []*openapi_types.Date{&m.ValidFrom, &m.ValidTo, &m.PublicationDate}
	for i, dst := range dates {
		d, err := document.ParseCompact(parts[n-5+i])
		if err != nil {
			return nil, &MalformedFilenameError{Name: name, Reason: err.Error()}
		}
		*dst = d
	}

	lead := parts[0]
	versionTok := parts[n-6]

	// Прежняя раскладка: формат отдельной частью (MIG_IFTSTA_2.0e_...)
	if n == 8 {
		if f, ok := document.ParseFormat(parts[1]); ok {
			m.Format = f
		}
	} else if n > 8 {
		return nil, &MalformedFilenameError{Name: name, Reason: fmt.Sprintf("лишние части: %d", n)}
	}
	if f, rest, ok := document.FormatPrefix(versionTok); ok {
		m.Format = f
		versionTok = rest
	}
	if versionTok != noVersion && versionTok != "" {
		if !document.ValidVersion(versionTok) {
			return nil, &MalformedFilenameError{Name: name, Reason: fmt.Sprintf("некорректная версия %q", versionTok)}
		}
		m.Version = versionTok
	}

	switch {
	case lead == "MIG" || lead == "AHB":
		m.Kind, _ = document.KindFromName(lead)
		if m.Format == "" {
			c.logger.Warn("Не удалось определить формат EDIFACT по имени файла",
				slog.String("filename", name),
			)
		}
	case lead == "EBD":
		m.Kind = document.Kind{Tag: document.KindEBD}
	case ext == document.ExtXSD:
		m.Kind = document.Kind{Tag: document.KindXSD}
	case ext == document.ExtXLSX:
		m.Kind = document.Kind{Tag: document.KindExcel}
	default:
		m.Kind = document.Kind{Tag: document.KindOther, Label: lead}
		m.AdditionalText = lead
	}
	return m, nil
}

func encodeFlags(f document.Flags) string {
	var b strings.Builder
	for _, v := range f.Ordered() {
		if v {
			b.WriteByte(flagSet)
		} else {
			b.WriteByte(flagUnset)
		}
	}
	return b.String()
}

func decodeFlags(s string) (document.Flags, error) {
	if len(s) != 4 {
		return document.Flags{}, fmt.Errorf("признаки %q: ожидается 4 символа", s)
	}
	var out [4]bool
	for i := 0; i < 4; i++ {
		switch s[i] {
		case flagSet, 'X':
			out[i] = true
		case flagUnset, 'O':
		default:
			return document.Flags{}, fmt.Errorf("признаки %q: недопустимый символ %q", s, s[i])
		}
	}
	return document.FlagsFromOrdered(out), nil
}
