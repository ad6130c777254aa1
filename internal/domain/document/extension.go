package document

import "fmt"

// Extension — расширение имени файла без точки.
type Extension string

const (
	ExtPDF  Extension = "pdf"
	ExtDOCX Extension = "docx"
	ExtXSD  Extension = "xsd"
	ExtXLSX Extension = "xlsx"
	ExtXML  Extension = "xml"
)

var extensionsByFileType = map[string]Extension{
	"application/pdf": ExtPDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ExtDOCX,
	"XSD": ExtXSD,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": ExtXLSX,
	"text/xml": ExtXML,
}

// UnsupportedFileTypeError — тип файла из каталога не входит в список поддерживаемых.
type UnsupportedFileTypeError struct {
	FileType string
}

func (e *UnsupportedFileTypeError) Error() string {
	if e.FileType == "" {
		return "тип файла не указан"
	}
	return fmt.Sprintf("неподдерживаемый тип файла %q", e.FileType)
}

// ExtensionFor возвращает расширение для типа файла каталога.
func ExtensionFor(fileType string) (Extension, error) {
	if ext, ok := extensionsByFileType[fileType]; ok {
		return ext, nil
	}
	return "", &UnsupportedFileTypeError{FileType: fileType}
}

// Valid сообщает, является ли расширение одним из поддерживаемых.
func (e Extension) Valid() bool {
	for _, ext := range extensionsByFileType {
		if ext == e {
			return true
		}
	}
	return false
}
