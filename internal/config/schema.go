package config

import (
	_ "embed"
	"fmt"
	"sync"

	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed playbook_schema_v1.json
var schemaV1Bytes []byte

var (
	schemaV1   *gojsonschema.Schema
	schemaOnce sync.Once
	schemaErr  error
)

// loadSchema compiles the embedded schema once.
func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		if len(schemaV1Bytes) == 0 {
			schemaErr = convergeerrors.NewConfigError("embedded playbook schema is empty", nil)
			return
		}
		schemaV1, schemaErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaV1Bytes))
		if schemaErr != nil {
			schemaErr = convergeerrors.NewConfigError("failed to compile embedded playbook schema", schemaErr)
		}
	})
	return schemaV1, schemaErr
}

// ValidateWithSchema checks a normalized playbook document (plain maps and
// slices) against the embedded v1 schema.
func ValidateWithSchema(document interface{}) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(document))
	if err != nil {
		return convergeerrors.NewConfigError("schema validation process failed", err)
	}
	if result.Valid() {
		return nil
	}

	errMsg := "playbook failed JSON schema validation:"
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "(root)" || field == "" {
			field = desc.Context().String()
		}
		errMsg += fmt.Sprintf("\n  - Field '%s': %s", field, desc.Description())
	}
	return convergeerrors.NewValidationError(errMsg, nil)
}
