// Пакет formatversion — календарь версий формата (Formatversion) EDI@Energy
// и вычисление диапазона версий, к которым относится документ.
//
// Версия формата — полуоткрытый интервал календарных дат [start, следующий start).
// Первая версия не ограничена снизу, последняя — сверху.
package formatversion

import (
	"fmt"
	"time"
)

// Version — версия формата. Значения упорядочены хронологически,
// сравнение версий сводится к сравнению целых чисел.
type Version int

// Известные версии формата.
const (
	FV2104 Version = iota
	FV2110
	FV2204
	FV2210
	FV2304
	FV2310
	FV2404
	FV2410
	FV2504
	FV2510
	FV2604
	FV2610
	FV2704
	FV2710
)

type bucket struct {
	name  string
	start time.Time
}

// calendar — таблица границ. Для FV2104 start не используется:
// всё, что раньше FV2110, относится к FV2104.
var calendar = []bucket{
	{"FV2104", time.Time{}},
	{"FV2110", day(2021, time.October, 1)},
	{"FV2204", day(2022, time.April, 1)},
	{"FV2210", day(2022, time.October, 1)},
	{"FV2304", day(2023, time.April, 1)},
	{"FV2310", day(2023, time.October, 1)},
	// FV2404 вступила в силу со сдвигом на 3 апреля
	{"FV2404", day(2024, time.April, 3)},
	{"FV2410", day(2024, time.October, 1)},
	// FV2504 перенесена на 6 июня
	{"FV2504", day(2025, time.June, 6)},
	{"FV2510", day(2025, time.October, 1)},
	{"FV2604", day(2026, time.April, 1)},
	{"FV2610", day(2026, time.October, 1)},
	{"FV2704", day(2027, time.April, 1)},
	{"FV2710", day(2027, time.October, 1)},
}

// NoSuccessorError — у последней версии календаря нет преемника.
type NoSuccessorError struct {
	Version Version
}

func (e *NoSuccessorError) Error() string {
	return fmt.Sprintf("у версии формата %s нет преемника", e.Version)
}

// String возвращает имя версии (FVyymm), совпадающее с именем директории.
func (v Version) String() string {
	if !v.valid() {
		return fmt.Sprintf("Version(%d)", int(v))
	}
	return calendar[v].name
}

// Start возвращает первую дату действия версии.
// Для первой версии возвращается нулевое время (неограниченно снизу).
func (v Version) Start() time.Time {
	if !v.valid() {
		return time.Time{}
	}
	return calendar[v].start
}

func (v Version) valid() bool {
	return v >= 0 && int(v) < len(calendar)
}

// Max возвращает последнюю версию календаря.
func Max() Version {
	return Version(len(calendar) - 1)
}

// All возвращает все версии в хронологическом порядке.
func All() []Version {
	out := make([]Version, len(calendar))
	for i := range calendar {
		out[i] = Version(i)
	}
	return out
}

// Parse разбирает имя версии вида "FV2310".
func Parse(s string) (Version, error) {
	for i, b := range calendar {
		if b.name == s {
			return Version(i), nil
		}
	}
	return 0, fmt.Errorf("неизвестная версия формата %q", s)
}

// For возвращает версию, действующую в указанную календарную дату.
// Учитываются только год, месяц и день в локации переданного времени.
func For(date time.Time) Version {
	d := Truncate(date)
	for i := len(calendar) - 1; i > 0; i-- {
		if !d.Before(calendar[i].start) {
			return Version(i)
		}
	}
	return FV2104
}

// Successor возвращает следующую версию.
func Successor(v Version) (Version, error) {
	if v >= Max() {
		return v, &NoSuccessorError{Version: v}
	}
	return v + 1, nil
}

// Truncate приводит время к календарной дате (полночь UTC) без сдвига дня.
func Truncate(t time.Time) time.Time {
	return day(t.Year(), t.Month(), t.Day())
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
