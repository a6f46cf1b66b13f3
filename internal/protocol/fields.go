package protocol

import (
	"fmt"
	"sort"

	"tilecraft.ai/internal/sim/hex"
	"tilecraft.ai/internal/sim/items"
	"tilecraft.ai/internal/sim/tile"
)

// FieldValue is the wire form of one tile field. Kind selects which of the
// value members is meaningful.
type FieldValue struct {
	Key   string            `json:"key"`
	Kind  string            `json:"kind" jsonschema:"enum=int,enum=item,enum=coord,enum=id,enum=inventory"`
	Int   int64             `json:"int,omitempty"`
	Item  string            `json:"item,omitempty"`
	Coord *[2]int           `json:"coord,omitempty"`
	ID    string            `json:"id,omitempty"`
	Inv   map[string]uint32 `json:"inv,omitempty"`
}

func FromValue(key string, v tile.Value) FieldValue {
	f := FieldValue{Key: key, Kind: v.Kind.String()}
	switch v.Kind {
	case tile.KindInt:
		f.Int = v.Int
	case tile.KindItem:
		f.Item = string(v.Item)
	case tile.KindCoord:
		f.Coord = &[2]int{v.Coord.Q, v.Coord.R}
	case tile.KindID:
		f.ID = v.ID
	case tile.KindInventory:
		f.Inv = v.Inv.ToMap()
	}
	return f
}

// Value converts the wire form back into a tile value.
func (f FieldValue) Value() (tile.Value, error) {
	if f.Key == "" {
		return tile.Value{}, fmt.Errorf("field: empty key")
	}
	switch tile.ParseKind(f.Kind) {
	case tile.KindInt:
		return tile.Int(f.Int), nil
	case tile.KindItem:
		if f.Item == "" {
			return tile.Value{}, fmt.Errorf("field %q: empty item", f.Key)
		}
		return tile.Item(items.ID(f.Item)), nil
	case tile.KindCoord:
		if f.Coord == nil {
			return tile.Value{}, fmt.Errorf("field %q: missing coord", f.Key)
		}
		return tile.Coord(CoordFrom(*f.Coord)), nil
	case tile.KindID:
		return tile.ID(f.ID), nil
	case tile.KindInventory:
		return tile.Inventory(items.FromMap(f.Inv)), nil
	default:
		return tile.Value{}, fmt.Errorf("field %q: unknown kind %q", f.Key, f.Kind)
	}
}

// FieldMap decodes a list of wire fields. Duplicate keys are rejected.
func FieldMap(fields []FieldValue) (map[string]tile.Value, error) {
	out := make(map[string]tile.Value, len(fields))
	for _, f := range fields {
		if _, dup := out[f.Key]; dup {
			return nil, fmt.Errorf("field %q: duplicate key", f.Key)
		}
		v, err := f.Value()
		if err != nil {
			return nil, err
		}
		out[f.Key] = v
	}
	return out, nil
}

// FieldList encodes fields sorted by key.
func FieldList(fields map[string]tile.Value) []FieldValue {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]FieldValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, FromValue(k, fields[k]))
	}
	return out
}

func CoordFrom(c [2]int) hex.Coord { return hex.Coord{Q: c[0], R: c[1]} }

func CoordTo(c hex.Coord) [2]int { return [2]int{c.Q, c.R} }

// TileFor builds the wire form of one tile. fault may be nil.
func TileFor(coord hex.Coord, functionID string, fields map[string]tile.Value, fault error) TileMsg {
	t := TileMsg{Coord: CoordTo(coord), FunctionID: functionID, Fields: FieldList(fields)}
	if fault != nil {
		t.Fault = fault.Error()
	}
	return t
}
