package items

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ID identifies an item kind, e.g. "tilecraft:iron". The zero value means
// "no item configured".
type ID string

func (id ID) IsZero() bool { return id == "" }

func (id ID) String() string { return string(id) }

var (
	ErrEmptyItem  = errors.New("stack has no item")
	ErrZeroAmount = errors.New("stack amount must be positive")
)

// Stack is the unit of transfer. Amount is always > 0.
type Stack struct {
	Item   ID     `json:"item"`
	Amount uint32 `json:"amount"`
}

func NewStack(item ID, amount uint32) (Stack, error) {
	if item.IsZero() {
		return Stack{}, ErrEmptyItem
	}
	if amount == 0 {
		return Stack{}, fmt.Errorf("%s: %w", item, ErrZeroAmount)
	}
	return Stack{Item: item, Amount: amount}, nil
}

func (s Stack) Valid() bool { return !s.Item.IsZero() && s.Amount > 0 }

func (s Stack) String() string { return fmt.Sprintf("%dx%s", s.Amount, s.Item) }

// Inventory maps item kinds to counts. Absent keys count as zero and zero
// entries are pruned on Take.
type Inventory map[ID]uint32

func (inv Inventory) Get(item ID) uint32 {
	if inv == nil {
		return 0
	}
	return inv[item]
}

// Add saturates at math.MaxUint32 instead of wrapping.
func (inv Inventory) Add(item ID, n uint32) {
	if n == 0 || item.IsZero() {
		return
	}
	cur := inv[item]
	if cur > math.MaxUint32-n {
		inv[item] = math.MaxUint32
		return
	}
	inv[item] = cur + n
}

// Take removes up to n units. Taking more than is present clamps to zero;
// late or duplicate take-backs from an already-applied result rely on this.
func (inv Inventory) Take(item ID, n uint32) {
	if n == 0 || inv == nil {
		return
	}
	cur := inv[item]
	if n >= cur {
		delete(inv, item)
		return
	}
	inv[item] = cur - n
}

func (inv Inventory) Clone() Inventory {
	out := make(Inventory, len(inv))
	for k, v := range inv {
		if v == 0 {
			continue
		}
		out[k] = v
	}
	return out
}

func (inv Inventory) Total() uint64 {
	var n uint64
	for _, v := range inv {
		n += uint64(v)
	}
	return n
}

// Sorted lists the non-empty entries ordered by item id.
func (inv Inventory) Sorted() []Stack {
	out := make([]Stack, 0, len(inv))
	for item, n := range inv {
		if n == 0 {
			continue
		}
		out = append(out, Stack{Item: item, Amount: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item < out[j].Item })
	return out
}

// Equal treats absent and zero-count entries as the same.
func (inv Inventory) Equal(other Inventory) bool {
	for k, v := range inv {
		if other.Get(k) != v {
			return false
		}
	}
	for k, v := range other {
		if inv.Get(k) != v {
			return false
		}
	}
	return true
}

// ToMap converts to the string-keyed form used by snapshots and observers.
func (inv Inventory) ToMap() map[string]uint32 {
	if len(inv) == 0 {
		return nil
	}
	out := make(map[string]uint32, len(inv))
	for k, v := range inv {
		if v == 0 {
			continue
		}
		out[string(k)] = v
	}
	return out
}

func FromMap(m map[string]uint32) Inventory {
	inv := make(Inventory, len(m))
	for k, v := range m {
		if k == "" || v == 0 {
			continue
		}
		inv[ID(k)] = v
	}
	return inv
}
