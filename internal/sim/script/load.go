package script

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"tilecraft.ai/internal/sim/items"
)

// Definition file shapes. The json tags drive schema reflection, the yaml
// tags drive decoding.

type ItemDef struct {
	ID   string `yaml:"id" json:"id" jsonschema:"required"`
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

type ItemsFile struct {
	Items []ItemDef `yaml:"items" json:"items" jsonschema:"required"`
}

type StackDef struct {
	Item   string `yaml:"item" json:"item" jsonschema:"required"`
	Amount uint32 `yaml:"amount" json:"amount" jsonschema:"required"`
}

type RecipeDef struct {
	ID     string     `yaml:"id" json:"id" jsonschema:"required"`
	Inputs []StackDef `yaml:"inputs" json:"inputs" jsonschema:"required"`
	Output StackDef   `yaml:"output" json:"output" jsonschema:"required"`
}

type RecipesFile struct {
	Recipes []RecipeDef `yaml:"recipes" json:"recipes" jsonschema:"required"`
}

type FunctionDef struct {
	ID     string            `yaml:"id" json:"id" jsonschema:"required"`
	Kind   string            `yaml:"kind" json:"kind" jsonschema:"required"`
	IDDeps map[string]string `yaml:"id_deps,omitempty" json:"id_deps,omitempty"`
}

// Load reads a definitions directory:
//
//	items.yaml        optional item catalog
//	recipes.yaml      optional recipes
//	functions/*.yaml  one function-set per file
//
// Every file is validated against its schema before decoding. kinds binds
// each function-set's kind to a handler bundle. Any problem fails the
// whole load; nothing is partially registered.
func Load(dir string, kinds map[string]Handlers) (*Registry, error) {
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	var concat bytes.Buffer

	var known []items.ID
	itemsPath := filepath.Join(dir, "items.yaml")
	if raw, err := os.ReadFile(itemsPath); err == nil {
		concat.Write(raw)
		concat.WriteByte('\n')
		var f ItemsFile
		if err := decodeValidated(schemas.items, "items.yaml", raw, &f); err != nil {
			return nil, err
		}
		known = make([]items.ID, 0, len(f.Items))
		for _, d := range f.Items {
			if strings.TrimSpace(d.ID) == "" {
				return nil, fmt.Errorf("items.yaml: empty id: %w", ErrMalformed)
			}
			known = append(known, items.ID(d.ID))
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	var recipes []Recipe
	recipesPath := filepath.Join(dir, "recipes.yaml")
	if raw, err := os.ReadFile(recipesPath); err == nil {
		concat.Write(raw)
		concat.WriteByte('\n')
		var f RecipesFile
		if err := decodeValidated(schemas.recipes, "recipes.yaml", raw, &f); err != nil {
			return nil, err
		}
		for _, d := range f.Recipes {
			recipes = append(recipes, d.toRecipe())
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	fnDir := filepath.Join(dir, "functions")
	entries, err := os.ReadDir(fnDir)
	if err != nil {
		return nil, fmt.Errorf("functions: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".yaml") || strings.HasSuffix(e.Name(), ".yml") {
			files = append(files, filepath.Join(fnDir, e.Name()))
		}
	}
	sort.Strings(files)

	fsets := make([]*FunctionSet, 0, len(files))
	for _, p := range files {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		concat.Write(raw)
		concat.WriteByte('\n')

		name := filepath.Base(p)
		var d FunctionDef
		if err := decodeValidated(schemas.function, name, raw, &d); err != nil {
			return nil, err
		}
		if strings.TrimSpace(d.ID) == "" {
			return nil, fmt.Errorf("function %s: missing id: %w", name, ErrMalformed)
		}
		h, ok := kinds[d.Kind]
		if !ok {
			return nil, fmt.Errorf("function %s: unknown kind %q: %w", name, d.Kind, ErrMalformed)
		}
		deps := make(map[string]string, len(d.IDDeps))
		for k, v := range d.IDDeps {
			deps[k] = v
		}
		fsets = append(fsets, &FunctionSet{ID: d.ID, Kind: d.Kind, IDDeps: deps, Handlers: h})
	}

	reg, err := NewRegistry(fsets, recipes, known)
	if err != nil {
		return nil, err
	}
	reg.Digest = sha256Hex(concat.Bytes())
	return reg, nil
}

func (d RecipeDef) toRecipe() Recipe {
	r := Recipe{
		ID:     d.ID,
		Output: items.Stack{Item: items.ID(d.Output.Item), Amount: d.Output.Amount},
	}
	for _, in := range d.Inputs {
		r.Inputs = append(r.Inputs, items.Stack{Item: items.ID(in.Item), Amount: in.Amount})
	}
	return r
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func decodeValidated(s validator, name string, raw []byte, out any) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%s: %w: %v", name, ErrMalformed, err)
	}
	if err := s.validate(doc); err != nil {
		return fmt.Errorf("%s: %w: %v", name, ErrMalformed, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: %w: %v", name, ErrMalformed, err)
	}
	return nil
}
