// Package schemas validates exported records against the embedded JSON Schemas.
package schemas

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed records.schema.json
var files embed.FS

// Schema names. Each names a definition in records.schema.json.
const (
	Article        = "article"
	Accounts       = "accounts"
	SearchResult   = "search_result"
	SearchResults  = "search_results"
	recordsFile    = "records.schema.json"
	draft07Keyword = "http://json-schema.org/draft-07/schema#"
)

// ValidationError represents a schema validation error with field paths
type ValidationError struct {
	Schema string
	Errors []FieldError
}

// FieldError represents a single validation error at a specific field
type FieldError struct {
	Field   string
	Message string
}

// SchemaLoadError represents errors loading or parsing the schema itself
type SchemaLoadError struct {
	Path    string
	Message string
	Cause   error
}

func (e *SchemaLoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load schema %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load schema %s: %s", e.Path, e.Message)
}

func (e *SchemaLoadError) Unwrap() error {
	return e.Cause
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s validation failed:\n", ve.Schema)
	for i, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

var (
	loadOnce    sync.Once
	definitions map[string]any
	loadErr     error

	compiled sync.Map // name -> *gojsonschema.Schema
)

func loadDefinitions() (map[string]any, error) {
	loadOnce.Do(func() {
		data, err := files.ReadFile(recordsFile)
		if err != nil {
			loadErr = &SchemaLoadError{Path: recordsFile, Message: "embedded schema missing", Cause: err}
			return
		}
		var doc struct {
			Definitions map[string]any `json:"definitions"`
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			loadErr = &SchemaLoadError{Path: recordsFile, Message: "invalid JSON", Cause: err}
			return
		}
		definitions = doc.Definitions
	})
	return definitions, loadErr
}

// schemaFor compiles the named definition as a standalone schema.
func schemaFor(name string) (*gojsonschema.Schema, error) {
	if s, ok := compiled.Load(name); ok {
		return s.(*gojsonschema.Schema), nil
	}

	defs, err := loadDefinitions()
	if err != nil {
		return nil, err
	}
	if _, ok := defs[name]; !ok {
		return nil, &SchemaLoadError{Path: recordsFile, Message: fmt.Sprintf("unknown schema %q", name)}
	}

	root := map[string]any{
		"$schema":     draft07Keyword,
		"definitions": defs,
		"allOf":       []any{map[string]any{"$ref": "#/definitions/" + name}},
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(root))
	if err != nil {
		return nil, &SchemaLoadError{Path: recordsFile + "#" + name, Message: "schema does not compile", Cause: err}
	}
	compiled.Store(name, s)
	return s, nil
}

// Validate checks a JSON document against the named schema.
func Validate(name string, doc []byte) error {
	return validate(name, gojsonschema.NewBytesLoader(doc))
}

// ValidateValue marshals v and checks it against the named schema.
func ValidateValue(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode value for validation: %w", err)
	}
	return Validate(name, data)
}

// ValidateFile checks a JSON file against the named schema.
func ValidateFile(name, jsonPath string) error {
	absPath, err := filepath.Abs(jsonPath)
	if err != nil {
		return fmt.Errorf("failed to resolve JSON path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("JSON file not found: %s", absPath)
		}
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	return Validate(name, data)
}

func validate(name string, document gojsonschema.JSONLoader) error {
	schema, err := schemaFor(name)
	if err != nil {
		return err
	}

	result, err := schema.Validate(document)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}
	if result.Valid() {
		return nil
	}

	validationErr := &ValidationError{
		Schema: name,
		Errors: make([]FieldError, 0, len(result.Errors())),
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}
	return validationErr
}
