package document

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Handle — идентификатор, который портал отдаёт то числом, то строкой.
type Handle string

// UnmarshalJSON принимает число, строку или null.
func (h *Handle) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*h = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*h = Handle(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("идентификатор должен быть числом или строкой: %w", err)
	}
	*h = Handle(n.String())
	return nil
}

// CatalogEntry — элемент каталога документов в том виде, в котором его
// возвращает портал. Поля дат остаются строками до нормализации.
type CatalogEntry struct {
	ID                            Handle  `json:"id"`
	FileID                        Handle  `json:"fileId"`
	Title                         string  `json:"title"`
	IsFree                        bool    `json:"isFree"`
	PublicationDate               *string `json:"publicationDate"`
	ValidFrom                     *string `json:"validFrom"`
	ValidTo                       *string `json:"validTo"`
	IsConsolidatedReadingVersion  bool    `json:"isConsolidatedReadingVersion"`
	IsExtraordinaryPublication    bool    `json:"isExtraordinaryPublication"`
	IsErrorCorrection             bool    `json:"isErrorCorrection"`
	CorrectionDate                *string `json:"correctionDate"`
	IsInformationalReadingVersion bool    `json:"isInformationalReadingVersion"`
	FileType                      *string `json:"fileType"`
	Link                          *string `json:"link"`
	TopicGroupSortNr              *int    `json:"topicGroupSortNr"`
	TopicSortNr                   *int    `json:"topicSortNr"`
}

// Catalog — тело ответа GET /api/documents.
type Catalog struct {
	Data []CatalogEntry `json:"data"`
}
