package questions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects the question set encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFromPath picks YAML for .yaml/.yml files and JSON otherwise.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Load reads, parses and validates a question set file.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question set: %w", err)
	}
	return Parse(data, FormatFromPath(path))
}

// Parse decodes and validates a question set.
func Parse(data []byte, format Format) (*Set, error) {
	var (
		set *Set
		err error
	)
	switch format {
	case FormatYAML:
		set, err = parseYAML(data)
	default:
		set, err = parseJSON(data)
	}
	if err == nil {
		err = checkSchema(data, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSet, err)
	}
	set.normalize()
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return set, nil
}

func parseJSON(data []byte) (*Set, error) {
	var set Set
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&set); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("parse json: multiple documents are not supported")
		}
		return nil, fmt.Errorf("parse json: %w", err)
	}
	return &set, nil
}

func parseYAML(data []byte) (*Set, error) {
	var set Set
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&set); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return &set, nil
}
