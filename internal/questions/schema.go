package questions

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const schemaURL = "question_set.schema.json"

//go:embed question_set.schema.json
var schemaSource []byte

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, bytes.NewReader(schemaSource)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	return compiler.Compile(schemaURL)
})

// Schema returns the JSON schema question sets are checked against.
func Schema() []byte {
	return bytes.Clone(schemaSource)
}

// checkSchema validates the raw document shape before semantic checks run.
func checkSchema(data []byte, format Format) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	doc, err := schemaDocument(data, format)
	if err != nil {
		return err
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}

// schemaDocument decodes data into the generic JSON value model the
// validator expects. YAML is re-encoded through JSON to get there.
func schemaDocument(data []byte, format Format) (any, error) {
	if format == FormatYAML {
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
		var err error
		if data, err = json.Marshal(v); err != nil {
			return nil, fmt.Errorf("convert yaml: %w", err)
		}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return doc, nil
}
