package document

import (
	"regexp"
	"strings"
)

// KindTag — вид документа.
type KindTag int

const (
	// KindOther — вид не распознан, в Kind.Label хранится метка из заголовка.
	KindOther KindTag = iota
	KindMIG
	KindAHB
	KindEBD
	KindXSD
	KindExcel
)

var kindNames = map[KindTag]string{
	KindMIG:   "MIG",
	KindAHB:   "AHB",
	KindEBD:   "EBD",
	KindXSD:   "XSD",
	KindExcel: "EXCEL",
}

// Kind — вид документа: один из известных тегов или произвольная метка.
type Kind struct {
	Tag   KindTag
	Label string
}

// String возвращает префикс имени файла.
func (k Kind) String() string {
	if name, ok := kindNames[k.Tag]; ok {
		return name
	}
	return k.Label
}

// KindFromName восстанавливает известный вид по имени (MIG, AHB, ...).
func KindFromName(name string) (Kind, bool) {
	for tag, n := range kindNames {
		if n == name {
			return Kind{Tag: tag}, true
		}
	}
	return Kind{}, false
}

var (
	migPattern = regexp.MustCompile(`\b[A-Z]{6}\sMIG\b`)
	ahbPattern = regexp.MustCompile(`\bAHB\b`)

	leadingTextPattern = regexp.MustCompile(`^\D+`)
	nonLetterPattern   = regexp.MustCompile(`[^A-Za-z]`)
)

// kindRule — правило классификации. Правила проверяются по порядку,
// срабатывает первое подходящее.
type kindRule struct {
	tag   KindTag
	match func(title, folded string, ext Extension) bool
}

var kindRules = []kindRule{
	{KindMIG, func(title, _ string, _ Extension) bool { return migPattern.MatchString(title) }},
	{KindAHB, func(title, _ string, _ Extension) bool { return ahbPattern.MatchString(title) }},
	{KindEBD, func(_, folded string, _ Extension) bool { return strings.Contains(folded, "entscheidungsbaum") }},
	{KindXSD, func(_, _ string, ext Extension) bool { return ext == ExtXSD }},
	{KindExcel, func(_, _ string, ext Extension) bool { return ext == ExtXLSX }},
}

// classify определяет вид документа по заголовку и расширению.
// ext может быть пустым, если тип файла не поддерживается.
func classify(title string, ext Extension) Kind {
	folded := fold(title)
	for _, r := range kindRules {
		if r.match(title, folded, ext) {
			return Kind{Tag: r.tag}
		}
	}
	return Kind{Tag: KindOther, Label: alternativeLabel(title)}
}

// alternativeLabel — нецифровое начало заголовка в нижнем регистре, только латинские буквы.
func alternativeLabel(title string) string {
	text := leadingTextPattern.FindString(title)
	if text == "" {
		text = title
	}
	label := nonLetterPattern.ReplaceAllString(strings.ToLower(text), "")
	if label == "" {
		return "dokument"
	}
	return label
}
