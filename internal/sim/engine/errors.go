package engine

import (
	"errors"
	"fmt"

	"tilecraft.ai/internal/sim/hex"
	"tilecraft.ai/internal/sim/txn"
)

var (
	ErrNoTile          = errors.New("no tile at coordinate")
	ErrUnknownFunction = errors.New("unknown function id")
	ErrInvalidStack    = errors.New("invalid item stack")
	ErrUnknownItem     = errors.New("unknown item id")
	ErrHandlerPanic    = errors.New("handler panicked")
	ErrClosed          = errors.New("engine closed")
)

// TileFault marks a tile that stopped processing because a handler failed.
// The tile stays faulted until Reset.
type TileFault struct {
	Coord   hex.Coord
	Tick    uint64
	Message txn.MessageKind
	Err     error
}

func (f *TileFault) Error() string {
	return fmt.Sprintf("tile %s faulted at tick %d on %s: %v", f.Coord, f.Tick, f.Message, f.Err)
}

func (f *TileFault) Unwrap() error { return f.Err }

// RoutingFault records a transaction dropped after too many pass-ons.
type RoutingFault struct {
	Source hex.Coord `json:"source"`
	At     hex.Coord `json:"at"`
	Item   string    `json:"item"`
	Amount uint32    `json:"amount"`
	Hops   int       `json:"hops"`
}
