// Package script holds the function-sets that govern tile behaviour and
// the immutable registry they are looked up in.
//
// A function-set is a bundle of up to four optional handlers plus the
// field dependencies (id_deps) a tile instance needs. Handlers see their
// own tile through a tile.View and answer with a txn.Outcome; they never
// reach other tiles.
package script

import (
	"errors"

	"tilecraft.ai/internal/sim/hex"
	"tilecraft.ai/internal/sim/items"
	"tilecraft.ai/internal/sim/tile"
	"tilecraft.ai/internal/sim/txn"
)

// ErrBookkeepingDesync is returned by a result handler when the reported
// transfer exceeds what the tile had reserved for it. The engine faults
// the tile instead of letting it continue with corrupted counts.
var ErrBookkeepingDesync = errors.New("bookkeeping desync")

// Handler decides what a tile does with one message.
type Handler func(in *Input) (txn.Outcome, error)

// Handlers are all optional; a nil handler is a no-op for its message kind.
type Handlers struct {
	Transaction       Handler
	Tick              Handler
	TransactionResult Handler
	ExtractRequest    Handler
}

func (h Handlers) For(kind txn.MessageKind) Handler {
	switch kind {
	case txn.KindTransaction:
		return h.Transaction
	case txn.KindTick:
		return h.Tick
	case txn.KindTransactionResult:
		return h.TransactionResult
	case txn.KindExtractRequest:
		return h.ExtractRequest
	}
	return nil
}

type FunctionSet struct {
	ID   string
	Kind string
	// IDDeps maps the short names handlers use to tile field keys.
	IDDeps   map[string]string
	Handlers Handlers
}

// Input is everything a handler invocation may look at.
type Input struct {
	Coord   hex.Coord
	Tick    uint64
	State   *tile.View
	Deps    Deps
	Recipes RecipeBook

	// Exactly one of these is meaningful, selected by the message kind.
	Transaction txn.Transaction
	Result      txn.TransactionResult
	Extract     txn.ExtractRequest
}

type RecipeBook interface {
	Recipe(id string) (Recipe, bool)
}

// Recipe turns Inputs into Output when a machine is ticked.
type Recipe struct {
	ID     string
	Inputs []items.Stack
	Output items.Stack
}

// Requires reports how many units of item one batch needs.
func (r Recipe) Requires(item items.ID) uint32 {
	var n uint32
	for _, in := range r.Inputs {
		if in.Item == item {
			n += in.Amount
		}
	}
	return n
}

// SatisfiedBy reports whether inv holds a full batch of inputs.
func (r Recipe) SatisfiedBy(inv items.Inventory) bool {
	for _, in := range r.Inputs {
		if inv.Get(in.Item) < r.Requires(in.Item) {
			return false
		}
	}
	return true
}
