package tile

import (
	"sort"

	"tilecraft.ai/internal/sim/hex"
	"tilecraft.ai/internal/sim/items"
)

// Well-known field keys. Function-sets may declare others through id_deps.
const (
	FieldBuffer = "buffer"
	FieldTarget = "target"
	FieldItem   = "item"
	FieldAmount = "amount"
	FieldScript = "script"
	FieldLink   = "link"
)

type Kind uint8

const (
	KindNone Kind = iota
	KindInt
	KindItem
	KindCoord
	KindID
	KindInventory
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindItem:
		return "item"
	case KindCoord:
		return "coord"
	case KindID:
		return "id"
	case KindInventory:
		return "inventory"
	default:
		return "none"
	}
}

// ParseKind is the inverse of Kind.String. Unknown names map to KindNone.
func ParseKind(s string) Kind {
	for k := KindInt; k <= KindInventory; k++ {
		if k.String() == s {
			return k
		}
	}
	return KindNone
}

// Value is one tile field. Only the member selected by Kind is meaningful.
type Value struct {
	Kind  Kind
	Int   int64
	Item  items.ID
	Coord hex.Coord
	ID    string
	Inv   items.Inventory
}

func Int(n int64) Value { return Value{Kind: KindInt, Int: n} }

func Item(id items.ID) Value { return Value{Kind: KindItem, Item: id} }

func Coord(c hex.Coord) Value { return Value{Kind: KindCoord, Coord: c} }

func ID(id string) Value { return Value{Kind: KindID, ID: id} }

func Inventory(inv items.Inventory) Value {
	return Value{Kind: KindInventory, Inv: inv.Clone()}
}

// Clone deep-copies inventory payloads.
func (v Value) Clone() Value {
	if v.Kind == KindInventory {
		v.Inv = v.Inv.Clone()
	}
	return v
}

func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindInt:
		return v.Int == o.Int
	case KindItem:
		return v.Item == o.Item
	case KindCoord:
		return v.Coord == o.Coord
	case KindID:
		return v.ID == o.ID
	case KindInventory:
		return v.Inv.Equal(o.Inv)
	}
	return true
}

// State is the per-coordinate data owned by exactly one tile actor.
type State struct {
	FunctionID string
	Fields     map[string]Value
}

func NewState(functionID string) *State {
	return &State{FunctionID: functionID, Fields: map[string]Value{}}
}

func (s *State) Get(key string) (Value, bool) {
	if s == nil || s.Fields == nil {
		return Value{}, false
	}
	v, ok := s.Fields[key]
	return v, ok
}

func (s *State) Set(key string, v Value) {
	if s.Fields == nil {
		s.Fields = map[string]Value{}
	}
	if v.Kind == KindNone {
		delete(s.Fields, key)
		return
	}
	s.Fields[key] = v
}

func (s *State) Delete(key string) { delete(s.Fields, key) }

func (s *State) Clone() *State {
	out := &State{FunctionID: s.FunctionID, Fields: make(map[string]Value, len(s.Fields))}
	for k, v := range s.Fields {
		out.Fields[k] = v.Clone()
	}
	return out
}

// Keys returns field keys in sorted order.
func (s *State) Keys() []string {
	keys := make([]string, 0, len(s.Fields))
	for k := range s.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Patch is the set of field writes a handler produced. A KindNone value
// deletes the key.
type Patch map[string]Value

func (s *State) Apply(p Patch) {
	for k, v := range p {
		s.Set(k, v)
	}
}
