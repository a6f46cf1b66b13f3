package script

import (
	"bytes"
	"encoding/json"
	"fmt"

	reflectschema "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaBaseURL = "https://tilecraft.ai/schemas/"

type validator struct{ s *jsonschema.Schema }

type schemaSet struct {
	items    validator
	recipes  validator
	function validator
}

// SchemaDocs returns the JSON Schemas for every definition file kind,
// keyed by file name.
func SchemaDocs() (map[string][]byte, error) {
	docs := map[string]any{
		"items.schema.json":    &ItemsFile{},
		"recipes.schema.json":  &RecipesFile{},
		"function.schema.json": &FunctionDef{},
	}
	out := make(map[string][]byte, len(docs))
	for name, v := range docs {
		b, err := reflectSchema(name, v)
		if err != nil {
			return nil, err
		}
		out[name] = b
	}
	return out, nil
}

func reflectSchema(name string, v any) ([]byte, error) {
	r := reflectschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		DoNotReference:             true,
	}
	s := r.Reflect(v)
	s.Title = name
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema %s: %w", name, err)
	}
	return b, nil
}

func compileSchemas() (schemaSet, error) {
	docs, err := SchemaDocs()
	if err != nil {
		return schemaSet{}, err
	}
	c := jsonschema.NewCompiler()
	for name, b := range docs {
		if err := c.AddResource(schemaBaseURL+name, bytes.NewReader(b)); err != nil {
			return schemaSet{}, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	compile := func(name string) (validator, error) {
		s, err := c.Compile(schemaBaseURL + name)
		if err != nil {
			return validator{}, fmt.Errorf("compile schema %s: %w", name, err)
		}
		return validator{s: s}, nil
	}
	var set schemaSet
	if set.items, err = compile("items.schema.json"); err != nil {
		return schemaSet{}, err
	}
	if set.recipes, err = compile("recipes.schema.json"); err != nil {
		return schemaSet{}, err
	}
	if set.function, err = compile("function.schema.json"); err != nil {
		return schemaSet{}, err
	}
	return set, nil
}

// validate checks a decoded YAML document. The document is round-tripped
// through encoding/json so the validator only sees JSON value types.
func (v validator) validate(doc any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var norm any
	if err := json.Unmarshal(b, &norm); err != nil {
		return err
	}
	return v.s.Validate(norm)
}
