// Package schema validates rule documents against the embedded JSON
// schemas before they are decoded.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	schemafs "github.com/ethpandaops/reportoor/schema"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

const (
	categoriesSchemaName  = "categories.schema.json"
	qualityGateSchemaName = "qualitygate.schema.json"
)

var (
	categoriesSchema  *jsonschema.Schema
	qualityGateSchema *jsonschema.Schema
	compileOnce       sync.Once
	compileErr        error
)

func compileSchemas() error {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()

		for _, name := range []string{categoriesSchemaName, qualityGateSchemaName} {
			data, err := schemafs.FS.ReadFile(name)
			if err != nil {
				compileErr = fmt.Errorf("reading schema %s: %w", name, err)

				return
			}

			doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
			if err != nil {
				compileErr = fmt.Errorf("unmarshalling schema %s: %w", name, err)

				return
			}

			if err := compiler.AddResource(name, doc); err != nil {
				compileErr = fmt.Errorf("adding schema resource %s: %w", name, err)

				return
			}
		}

		var err error

		categoriesSchema, err = compiler.Compile(categoriesSchemaName)
		if err != nil {
			compileErr = fmt.Errorf("compiling categories schema: %w", err)

			return
		}

		qualityGateSchema, err = compiler.Compile(qualityGateSchemaName)
		if err != nil {
			compileErr = fmt.Errorf("compiling quality gate schema: %w", err)

			return
		}
	})

	return compileErr
}

// ValidateCategories validates a YAML or JSON category rules document.
func ValidateCategories(data []byte) error {
	if err := compileSchemas(); err != nil {
		return err
	}

	return validate(categoriesSchema, "categories", data)
}

// ValidateQualityGate validates a YAML or JSON quality gate document.
func ValidateQualityGate(data []byte) error {
	if err := compileSchemas(); err != nil {
		return err
	}

	return validate(qualityGateSchema, "quality gate", data)
}

// validate converts YAML to its JSON instance first so numbers reach the
// validator as json.Number.
func validate(sch *jsonschema.Schema, kind string, data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid %s document: %w", kind, err)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("invalid %s document: %w", kind, err)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("invalid %s document: %w", kind, err)
	}

	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%s validation failed: %w", kind, err)
	}

	return nil
}
