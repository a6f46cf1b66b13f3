package tile

import (
	"testing"

	"tilecraft.ai/internal/sim/hex"
	"tilecraft.ai/internal/sim/items"
)

func TestViewWritesDoNotTouchBaseUntilApplied(t *testing.T) {
	st := NewState("tilecraft:storage")
	st.Set(FieldBuffer, Inventory(items.Inventory{"iron": 4}))
	st.Set(FieldAmount, Int(10))

	v := NewView(st)
	buf := v.Inventory(FieldBuffer)
	buf.Add("iron", 6)
	v.Set(FieldTarget, Coord(hex.Coord{Q: 1}))

	if got, _ := st.Get(FieldBuffer); got.Inv.Get("iron") != 4 {
		t.Fatalf("base buffer mutated before Apply: %v", got.Inv)
	}
	if _, ok := st.Get(FieldTarget); ok {
		t.Fatalf("base target set before Apply")
	}

	st.Apply(v.Patch())
	if got, _ := st.Get(FieldBuffer); got.Inv.Get("iron") != 10 {
		t.Fatalf("buffer after Apply=%v, want iron=10", got.Inv)
	}
	if c, ok := NewView(st).Coord(FieldTarget); !ok || c != (hex.Coord{Q: 1}) {
		t.Fatalf("target after Apply=%v ok=%v", c, ok)
	}
}

func TestViewReadsReturnCopies(t *testing.T) {
	st := NewState("f")
	st.Set(FieldBuffer, Inventory(items.Inventory{"a": 1}))
	v := NewView(st)
	peek := v.Peek(FieldBuffer)
	peek.Add("a", 100)
	if got, _ := st.Get(FieldBuffer); got.Inv.Get("a") != 1 {
		t.Fatalf("Peek exposed engine-owned inventory")
	}
	if len(v.Patch()) != 0 {
		t.Fatalf("Peek staged a write: %v", v.Patch())
	}
}

func TestViewUnchangedInventoryIsNotPatched(t *testing.T) {
	st := NewState("f")
	v := NewView(st)
	_ = v.Inventory(FieldBuffer)
	if p := v.Patch(); len(p) != 0 {
		t.Fatalf("Patch=%v, want empty", p)
	}
}

func TestViewTypedGettersTreatMismatchAsAbsent(t *testing.T) {
	st := NewState("f")
	st.Set(FieldItem, Int(3))
	st.Set(FieldScript, ID(""))
	v := NewView(st)
	if _, ok := v.Item(FieldItem); ok {
		t.Fatalf("Item accepted an int field")
	}
	if _, ok := v.ID(FieldScript); ok {
		t.Fatalf("ID accepted an empty id")
	}
	v.Delete(FieldItem)
	if _, ok := v.Get(FieldItem); ok {
		t.Fatalf("deleted field still visible")
	}
	st.Apply(v.Patch())
	if _, ok := st.Get(FieldItem); ok {
		t.Fatalf("delete not applied")
	}
}

func TestStateCloneIsDeep(t *testing.T) {
	st := NewState("f")
	st.Set(FieldBuffer, Inventory(items.Inventory{"a": 2}))
	c := st.Clone()
	c.Fields[FieldBuffer].Inv.Add("a", 1)
	if got, _ := st.Get(FieldBuffer); got.Inv.Get("a") != 2 {
		t.Fatalf("Clone shares inventory")
	}
	if keys := c.Keys(); len(keys) != 1 || keys[0] != FieldBuffer {
		t.Fatalf("Keys=%v", keys)
	}
}
