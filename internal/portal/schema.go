package portal

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed catalog_openapi.yaml
var catalogSpec []byte

// SchemaError — ответ портала не соответствует ожидаемой схеме каталога.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("каталог не соответствует схеме: %v", e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// catalogValidator проверяет тело GET /api/documents по встроенной схеме.
type catalogValidator struct {
	schema *openapi3.Schema
}

func newCatalogValidator() (*catalogValidator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(catalogSpec)
	if err != nil {
		return nil, fmt.Errorf("загрузка схемы каталога: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("валидация схемы каталога: %w", err)
	}
	ref, ok := doc.Components.Schemas["DocumentsResponse"]
	if !ok || ref.Value == nil {
		return nil, fmt.Errorf("схема DocumentsResponse не найдена")
	}
	return &catalogValidator{schema: ref.Value}, nil
}

// Validate проверяет сырое JSON-тело.
func (v *catalogValidator) Validate(body []byte) error {
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return &SchemaError{Err: fmt.Errorf("некорректный JSON: %w", err)}
	}
	if err := v.schema.VisitJSON(value); err != nil {
		return &SchemaError{Err: err}
	}
	return nil
}
