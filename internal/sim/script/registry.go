package script

import (
	"errors"
	"fmt"
	"sort"

	"tilecraft.ai/internal/sim/items"
)

var (
	ErrDuplicateFunction = errors.New("duplicate function id")
	ErrDuplicateRecipe   = errors.New("duplicate recipe id")
	ErrUnknownFunction   = errors.New("unknown function id")
	ErrMalformed         = errors.New("malformed definition")
)

// Registry is built once at startup and never mutated afterwards, so it
// can be shared by every tile actor without locking.
type Registry struct {
	functions map[string]*FunctionSet
	recipes   map[string]Recipe
	items     map[items.ID]struct{}

	// Digest identifies the definition files the registry was built from.
	Digest string
}

// NewRegistry validates and indexes the given definitions. knownItems may
// be nil, in which case recipe items are not checked against a catalog.
func NewRegistry(fsets []*FunctionSet, recipes []Recipe, knownItems []items.ID) (*Registry, error) {
	r := &Registry{
		functions: make(map[string]*FunctionSet, len(fsets)),
		recipes:   make(map[string]Recipe, len(recipes)),
	}
	if knownItems != nil {
		r.items = make(map[items.ID]struct{}, len(knownItems))
		for _, id := range knownItems {
			if id.IsZero() {
				return nil, fmt.Errorf("items: empty id: %w", ErrMalformed)
			}
			r.items[id] = struct{}{}
		}
	}
	for _, fs := range fsets {
		if fs == nil || fs.ID == "" {
			return nil, fmt.Errorf("function: empty id: %w", ErrMalformed)
		}
		if _, dup := r.functions[fs.ID]; dup {
			return nil, fmt.Errorf("function %s: %w", fs.ID, ErrDuplicateFunction)
		}
		for name, key := range fs.IDDeps {
			if name == "" || key == "" {
				return nil, fmt.Errorf("function %s: empty id_deps entry: %w", fs.ID, ErrMalformed)
			}
		}
		r.functions[fs.ID] = fs
	}
	for _, rc := range recipes {
		if err := r.checkRecipe(rc); err != nil {
			return nil, err
		}
		if _, dup := r.recipes[rc.ID]; dup {
			return nil, fmt.Errorf("recipe %s: %w", rc.ID, ErrDuplicateRecipe)
		}
		r.recipes[rc.ID] = rc
	}
	return r, nil
}

func (r *Registry) checkRecipe(rc Recipe) error {
	if rc.ID == "" {
		return fmt.Errorf("recipe: empty id: %w", ErrMalformed)
	}
	if len(rc.Inputs) == 0 {
		return fmt.Errorf("recipe %s: no inputs: %w", rc.ID, ErrMalformed)
	}
	stacks := append([]items.Stack{rc.Output}, rc.Inputs...)
	for _, s := range stacks {
		if !s.Valid() {
			return fmt.Errorf("recipe %s: invalid stack %v: %w", rc.ID, s, ErrMalformed)
		}
		if r.items != nil {
			if _, ok := r.items[s.Item]; !ok {
				return fmt.Errorf("recipe %s: unknown item %s: %w", rc.ID, s.Item, ErrMalformed)
			}
		}
	}
	return nil
}

func (r *Registry) Lookup(id string) (*FunctionSet, bool) {
	fs, ok := r.functions[id]
	return fs, ok
}

func (r *Registry) Recipe(id string) (Recipe, bool) {
	rc, ok := r.recipes[id]
	return rc, ok
}

// KnownItem reports whether id is in the item catalog. Without a catalog
// every non-empty id is known.
func (r *Registry) KnownItem(id items.ID) bool {
	if id.IsZero() {
		return false
	}
	if r.items == nil {
		return true
	}
	_, ok := r.items[id]
	return ok
}

func (r *Registry) FunctionIDs() []string {
	out := make([]string, 0, len(r.functions))
	for id := range r.functions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) RecipeIDs() []string {
	out := make([]string, 0, len(r.recipes))
	for id := range r.recipes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
