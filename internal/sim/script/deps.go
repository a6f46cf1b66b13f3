package script

import (
	"tilecraft.ai/internal/sim/hex"
	"tilecraft.ai/internal/sim/items"
	"tilecraft.ai/internal/sim/tile"
)

// Deps holds the id_deps of a function-set resolved against one tile.
// A dependency whose field is missing is simply absent: handlers treat
// that as "not configured yet", never as an error.
type Deps struct {
	keys   map[string]string
	values map[string]tile.Value
}

// ResolveDeps reads every declared dependency from v.
func ResolveDeps(fs *FunctionSet, v *tile.View) Deps {
	d := Deps{keys: fs.IDDeps, values: make(map[string]tile.Value, len(fs.IDDeps))}
	for name, key := range fs.IDDeps {
		if val, ok := v.Get(key); ok {
			d.values[name] = val
		}
	}
	return d
}

// Key returns the field key bound to name, or name itself when the
// function-set does not rename it.
func (d Deps) Key(name string) string {
	if k, ok := d.keys[name]; ok && k != "" {
		return k
	}
	return name
}

func (d Deps) Value(name string) (tile.Value, bool) {
	v, ok := d.values[name]
	return v, ok
}

func (d Deps) Item(name string) (items.ID, bool) {
	v, ok := d.values[name]
	if !ok || v.Kind != tile.KindItem || v.Item.IsZero() {
		return "", false
	}
	return v.Item, true
}

func (d Deps) Int(name string) (int64, bool) {
	v, ok := d.values[name]
	if !ok || v.Kind != tile.KindInt {
		return 0, false
	}
	return v.Int, true
}

func (d Deps) Coord(name string) (hex.Coord, bool) {
	v, ok := d.values[name]
	if !ok || v.Kind != tile.KindCoord {
		return hex.Coord{}, false
	}
	return v.Coord, true
}

func (d Deps) ID(name string) (string, bool) {
	v, ok := d.values[name]
	if !ok || v.Kind != tile.KindID || v.ID == "" {
		return "", false
	}
	return v.ID, true
}
