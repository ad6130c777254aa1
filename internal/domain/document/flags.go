package document

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Flags — признаки публикации. Каталог заполняет их ненадёжно,
// поэтому каждый признак дополнительно выводится из заголовка.
type Flags struct {
	ErrorCorrection bool
	Extraordinary   bool
	Consolidated    bool
	Informational   bool
}

// Ordered возвращает признаки в порядке кодирования в имени файла.
func (f Flags) Ordered() [4]bool {
	return [4]bool{f.ErrorCorrection, f.Extraordinary, f.Consolidated, f.Informational}
}

// FlagsFromOrdered — обратное преобразование к Ordered.
func FlagsFromOrdered(b [4]bool) Flags {
	return Flags{ErrorCorrection: b[0], Extraordinary: b[1], Consolidated: b[2], Informational: b[3]}
}

// Ключевые слова в регистронезависимой форме (ß свёрнуто в ss).
var (
	errorCorrectionKeywords = []string{"fehler"}
	extraordinaryKeywords   = []string{"ausserordentlich", "ausserordenlich"}
	consolidatedKeywords    = []string{"konsolidierte"}
	informationalKeywords   = []string{"informatorische"}
)

func flagsFor(e *CatalogEntry, title string) Flags {
	folded := fold(title)
	return Flags{
		ErrorCorrection: e.IsErrorCorrection || containsAny(folded, errorCorrectionKeywords),
		Extraordinary:   e.IsExtraordinaryPublication || containsAny(folded, extraordinaryKeywords),
		Consolidated:    e.IsConsolidatedReadingVersion || containsAny(folded, consolidatedKeywords),
		Informational:   e.IsInformationalReadingVersion || containsAny(folded, informationalKeywords),
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// normalizeTitle приводит заголовок к NFC, чтобы составные умляуты
// совпадали с предкомпонованными.
func normalizeTitle(title string) string {
	return strings.TrimSpace(norm.NFC.String(title))
}

// fold — регистронезависимая форма строки. Caser хранит состояние,
// поэтому создаётся на каждый вызов.
func fold(s string) string {
	return cases.Fold().String(s)
}
