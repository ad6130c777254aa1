package document

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	openapi_types "github.com/oapi-codegen/runtime/types"
)

// Berlin — часовой пояс, в котором портал публикует даты.
var Berlin = mustLoadLocation("Europe/Berlin")

// OpenEnd — дата-заглушка для документов без даты окончания действия.
var OpenEnd = NewDate(9999, time.December, 31)

// Форматы дат каталога: с часовым сдвигом, без него и просто дата.
var catalogDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// InvalidDateError — значение даты в каталоге не удалось разобрать.
type InvalidDateError struct {
	Field string
	Value string
}

func (e *InvalidDateError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("поле %s: дата не задана", e.Field)
	}
	return fmt.Sprintf("поле %s: некорректная дата %q", e.Field, e.Value)
}

// NewDate создаёт календарную дату.
func NewDate(y int, m time.Month, d int) openapi_types.Date {
	return openapi_types.Date{Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseCatalogDate приводит дату каталога к календарной дате по Берлину.
//
// Портал отдаёт время без смещения, и часть значений фактически записана в UTC:
// полночь по Берлину выглядит как 22:00 или 23:00 предыдущего дня.
// Такие значения трактуются как UTC и переводятся в Europe/Berlin,
// остальные считаются берлинским местным временем. Явное смещение игнорируется.
func ParseCatalogDate(field, value string) (openapi_types.Date, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return openapi_types.Date{}, &InvalidDateError{Field: field}
	}

	var (
		t   time.Time
		err error
	)
	for _, layout := range catalogDateLayouts {
		t, err = time.Parse(layout, s)
		if err == nil {
			break
		}
	}
	if err != nil {
		return openapi_types.Date{}, &InvalidDateError{Field: field, Value: value}
	}

	wall := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
	if wall.Hour() == 22 || wall.Hour() == 23 {
		wall = wall.In(Berlin)
	}
	return NewDate(wall.Year(), wall.Month(), wall.Day()), nil
}

// FormatCompact форматирует дату как YYYYMMDD.
func FormatCompact(d openapi_types.Date) string {
	return d.Time.Format("20060102")
}

// ParseCompact разбирает дату в формате YYYYMMDD.
func ParseCompact(s string) (openapi_types.Date, error) {
	if len(s) != 8 {
		return openapi_types.Date{}, fmt.Errorf("некорректная дата %q: ожидается YYYYMMDD", s)
	}
	t, err := time.Parse("20060102", s)
	if err != nil {
		return openapi_types.Date{}, fmt.Errorf("некорректная дата %q: %w", s, err)
	}
	return openapi_types.Date{Time: t}, nil
}

// Today возвращает текущую календарную дату по Берлину.
func Today(now time.Time) openapi_types.Date {
	b := now.In(Berlin)
	return NewDate(b.Year(), b.Month(), b.Day())
}

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("загрузка часового пояса %s: %v", name, err))
	}
	return loc
}
