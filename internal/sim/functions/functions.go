// Package functions implements the built-in handler bundles that
// function-set definitions bind to by kind.
package functions

import (
	"math"

	"tilecraft.ai/internal/sim/script"
	"tilecraft.ai/internal/sim/txn"
)

const (
	KindStorage   = "storage"
	KindMachine   = "machine"
	KindSorter    = "sorter"
	KindTransfer  = "transfer"
	KindVoid      = "void"
	KindRequester = "requester"
)

// Dependency short names used by the built-in handlers.
const (
	DepItem     = "item"
	DepAmount   = "amount"
	DepBuffer   = "buffer"
	DepTarget   = "target"
	DepScript   = "script"
	DepLink     = "link"
	DepReserved = "reserved"
	DepOutput   = "output"

	DepReservedTick = "reserved_tick"
)

// Kinds returns the handler bundles keyed by kind.
func Kinds() map[string]script.Handlers {
	return map[string]script.Handlers{
		KindStorage: {
			Transaction:       storageTransaction,
			Tick:              storageTick,
			TransactionResult: storageResult,
			ExtractRequest:    storageExtract,
		},
		KindMachine: {
			Transaction:       machineTransaction,
			Tick:              machineTick,
			TransactionResult: machineResult,
		},
		KindSorter: {
			Transaction: sorterTransaction,
		},
		KindTransfer: {
			Transaction: transferTransaction,
		},
		KindVoid: {
			Transaction: voidTransaction,
		},
		KindRequester: {
			Transaction: requesterTransaction,
			Tick:        requesterTick,
		},
	}
}

// capacity converts a configured amount into a per-item cap. Non-positive
// values count as unconfigured.
func capacity(in *script.Input) (uint32, bool) {
	n, ok := in.Deps.Int(DepAmount)
	if !ok || n <= 0 {
		return 0, false
	}
	if n > math.MaxUint32 {
		return math.MaxUint32, true
	}
	return uint32(n), true
}

func transferTransaction(in *script.Input) (txn.Outcome, error) {
	target, ok := in.Deps.Coord(DepTarget)
	if !ok {
		return txn.None(), nil
	}
	return txn.PassOn(in.Coord.Add(target)), nil
}

// sorterTransaction forwards the configured item along the target offset
// and everything else one turn to the right of it.
func sorterTransaction(in *script.Input) (txn.Outcome, error) {
	target, ok := in.Deps.Coord(DepTarget)
	if !ok {
		return txn.None(), nil
	}
	item, ok := in.Deps.Item(DepItem)
	if !ok {
		return txn.None(), nil
	}
	if in.Transaction.Stack.Item == item {
		return txn.PassOn(in.Coord.Add(target)), nil
	}
	return txn.PassOn(in.Coord.Add(target.RotateRight())), nil
}

func voidTransaction(*script.Input) (txn.Outcome, error) {
	return txn.ConsumeAll(), nil
}
