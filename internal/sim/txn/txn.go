// Package txn defines the messages exchanged between tile actors and the
// declarative outcomes handlers return in response to them.
package txn

import (
	"fmt"

	"tilecraft.ai/internal/sim/hex"
	"tilecraft.ai/internal/sim/items"
)

type MessageKind uint8

const (
	KindTransaction MessageKind = iota + 1
	KindTransactionResult
	KindTick
	KindExtractRequest
)

func (k MessageKind) String() string {
	switch k {
	case KindTransaction:
		return "TRANSACTION"
	case KindTransactionResult:
		return "TRANSACTION_RESULT"
	case KindTick:
		return "TICK"
	case KindExtractRequest:
		return "EXTRACT_REQUEST"
	default:
		return fmt.Sprintf("KIND_%d", uint8(k))
	}
}

func ParseMessageKind(s string) (MessageKind, bool) {
	for k := KindTransaction; k <= KindExtractRequest; k++ {
		if k.String() == s {
			return k, true
		}
	}
	return 0, false
}

// Message is implemented by the four protocol messages.
type Message interface {
	Kind() MessageKind
	Dest() hex.Coord
}

// Transaction offers Stack from Source to Target. Hops counts pass-on
// forwards since the original send. Requester is set when the offer
// answers an ExtractRequest.
type Transaction struct {
	Target    hex.Coord
	Source    hex.Coord
	Stack     items.Stack
	Requester string
	Hops      int
}

func (Transaction) Kind() MessageKind { return KindTransaction }
func (m Transaction) Dest() hex.Coord { return m.Target }

// TransactionResult reports to the original source how much of an offered
// stack the receiver took.
type TransactionResult struct {
	Target      hex.Coord
	From        hex.Coord
	Transferred items.Stack
}

func (TransactionResult) Kind() MessageKind { return KindTransactionResult }
func (m TransactionResult) Dest() hex.Coord { return m.Target }

type Tick struct {
	Target hex.Coord
	Count  uint64
}

func (Tick) Kind() MessageKind { return KindTick }
func (m Tick) Dest() hex.Coord { return m.Target }

// ExtractRequest asks Target to send what it holds toward ReturnTo.
type ExtractRequest struct {
	Target    hex.Coord
	Requester string
	ReturnTo  hex.Coord
}

func (ExtractRequest) Kind() MessageKind { return KindExtractRequest }
func (m ExtractRequest) Dest() hex.Coord { return m.Target }
