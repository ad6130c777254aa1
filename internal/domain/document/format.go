package document

import (
	"regexp"
	"slices"
)

// Format — код формата сообщения EDIFACT (шесть заглавных латинских букв).
type Format string

// Закрытый каталог форматов, для которых публикуются MIG и AHB.
const (
	APERAK Format = "APERAK"
	COMDIS Format = "COMDIS"
	CONTRL Format = "CONTRL"
	IFTSTA Format = "IFTSTA"
	INSRPT Format = "INSRPT"
	INVOIC Format = "INVOIC"
	MSCONS Format = "MSCONS"
	ORDCHG Format = "ORDCHG"
	ORDERS Format = "ORDERS"
	ORDRSP Format = "ORDRSP"
	PARTIN Format = "PARTIN"
	PRICAT Format = "PRICAT"
	QUOTES Format = "QUOTES"
	REMADV Format = "REMADV"
	REQOTE Format = "REQOTE"
	UTILMD Format = "UTILMD"
	UTILTS Format = "UTILTS"
)

var formats = []Format{
	APERAK, COMDIS, CONTRL, IFTSTA, INSRPT, INVOIC, MSCONS, ORDCHG, ORDERS,
	ORDRSP, PARTIN, PRICAT, QUOTES, REMADV, REQOTE, UTILMD, UTILTS,
}

var formatTokenPattern = regexp.MustCompile(`\b[A-Z]{6}\b`)

// ParseFormat проверяет принадлежность строки закрытому каталогу.
func ParseFormat(s string) (Format, bool) {
	f := Format(s)
	if slices.Contains(formats, f) {
		return f, true
	}
	return "", false
}

// FormatPrefix возвращает формат, с которого начинается строка
// (например, "IFTSTA2.0e" → IFTSTA), и остаток строки.
func FormatPrefix(s string) (Format, string, bool) {
	if len(s) < 6 {
		return "", s, false
	}
	f, ok := ParseFormat(s[:6])
	if !ok {
		return "", s, false
	}
	return f, s[6:], true
}

// findFormat ищет в заголовке первое шестибуквенное слово из каталога.
func findFormat(title string) (Format, bool) {
	for _, tok := range formatTokenPattern.FindAllString(title, -1) {
		if f, ok := ParseFormat(tok); ok {
			return f, true
		}
	}
	return "", false
}
