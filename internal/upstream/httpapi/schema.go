package httpapi

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

type schemas struct {
	upload   *gojsonschema.Schema
	expenses *gojsonschema.Schema
	details  *gojsonschema.Schema
}

func loadSchemas() (*schemas, error) {
	load := func(name string) (*gojsonschema.Schema, error) {
		b, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(b))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		return s, nil
	}

	var (
		out schemas
		err error
	)
	if out.upload, err = load("upload.json"); err != nil {
		return nil, err
	}
	if out.expenses, err = load("expenses.json"); err != nil {
		return nil, err
	}
	if out.details, err = load("details.json"); err != nil {
		return nil, err
	}
	return &out, nil
}

// validate checks body against s and joins every violation into one error.
func validate(s *gojsonschema.Schema, body []byte) error {
	result, err := s.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var sb strings.Builder
	for i, e := range result.Errors() {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(e.String())
	}
	return fmt.Errorf("unexpected response shape: %s", sb.String())
}
