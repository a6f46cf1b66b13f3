package tile

import (
	"tilecraft.ai/internal/sim/hex"
	"tilecraft.ai/internal/sim/items"
)

// View is the copy-on-write window a handler gets onto its own tile state.
// Reads fall through to the owning state, writes are collected into a
// Patch that the engine applies once the handler has returned. Inventory
// values are always copied, so a handler never holds engine-owned maps.
type View struct {
	base   *State
	writes Patch
}

func NewView(base *State) *View {
	return &View{base: base, writes: Patch{}}
}

func (v *View) FunctionID() string { return v.base.FunctionID }

func (v *View) Get(key string) (Value, bool) {
	if w, ok := v.writes[key]; ok {
		if w.Kind == KindNone {
			return Value{}, false
		}
		return w.Clone(), true
	}
	got, ok := v.base.Get(key)
	if !ok {
		return Value{}, false
	}
	return got.Clone(), true
}

func (v *View) Set(key string, val Value) { v.writes[key] = val.Clone() }

func (v *View) Delete(key string) { v.writes[key] = Value{} }

func (v *View) Int(key string) (int64, bool) {
	got, ok := v.Get(key)
	if !ok || got.Kind != KindInt {
		return 0, false
	}
	return got.Int, true
}

func (v *View) Item(key string) (items.ID, bool) {
	got, ok := v.Get(key)
	if !ok || got.Kind != KindItem || got.Item.IsZero() {
		return "", false
	}
	return got.Item, true
}

func (v *View) Coord(key string) (hex.Coord, bool) {
	got, ok := v.Get(key)
	if !ok || got.Kind != KindCoord {
		return hex.Coord{}, false
	}
	return got.Coord, true
}

func (v *View) ID(key string) (string, bool) {
	got, ok := v.Get(key)
	if !ok || got.Kind != KindID || got.ID == "" {
		return "", false
	}
	return got.ID, true
}

// Inventory returns a mutable inventory staged in the patch. A missing,
// deleted or differently typed field yields a fresh empty inventory.
func (v *View) Inventory(key string) items.Inventory {
	inv := items.Inventory{}
	if w, ok := v.writes[key]; ok {
		if w.Kind == KindInventory {
			return w.Inv
		}
	} else if got, ok := v.base.Get(key); ok && got.Kind == KindInventory {
		inv = got.Inv.Clone()
	}
	v.writes[key] = Value{Kind: KindInventory, Inv: inv}
	return inv
}

// Peek reads an inventory without staging a write.
func (v *View) Peek(key string) items.Inventory {
	got, ok := v.Get(key)
	if !ok || got.Kind != KindInventory {
		return items.Inventory{}
	}
	return got.Inv
}

// Patch returns the staged writes. Inventories that were fetched for
// writing but left unchanged are dropped.
func (v *View) Patch() Patch {
	out := make(Patch, len(v.writes))
	for k, w := range v.writes {
		if w.Kind == KindInventory {
			if old, ok := v.base.Get(k); ok && old.Equal(w) {
				continue
			}
			if _, ok := v.base.Get(k); !ok && len(w.Inv) == 0 {
				continue
			}
		}
		out[k] = w
	}
	return out
}
