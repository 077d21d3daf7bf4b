package declaration

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrSchema marks documents rejected by schema validation.
var ErrSchema = errors.New("declaration does not match schema")

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	manifestSchema = "manifest.schema.json"
	bundleSchema   = "bundle.schema.json"
)

var loadSchemas = sync.OnceValues(func() (map[string]*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	names := []string{manifestSchema, bundleSchema}
	for _, name := range names {
		raw, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("loadSchemas: %w", err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("loadSchemas: %s: %w", name, err)
		}
		if err := c.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("loadSchemas: %s: %w", name, err)
		}
	}

	out := make(map[string]*jsonschema.Schema, len(names))
	for _, name := range names {
		sch, err := c.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("loadSchemas: %s: %w", name, err)
		}
		out[name] = sch
	}
	return out, nil
})

// validateJSON checks a JSON document against one of the embedded schemas.
func validateJSON(schema string, data []byte) error {
	schemas, err := loadSchemas()
	if err != nil {
		return err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if err := schemas[schema].Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return nil
}
