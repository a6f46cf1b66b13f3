package txn

import (
	"tilecraft.ai/internal/sim/hex"
	"tilecraft.ai/internal/sim/items"
)

type OutcomeKind uint8

const (
	OutcomeNone OutcomeKind = iota
	OutcomeConsume
	OutcomePassOn
	OutcomeMakeTransaction
	OutcomeMakeExtractRequest
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeNone:
		return "none"
	case OutcomeConsume:
		return "consume"
	case OutcomePassOn:
		return "pass_on"
	case OutcomeMakeTransaction:
		return "make_transaction"
	case OutcomeMakeExtractRequest:
		return "make_extract_request"
	default:
		return "unknown"
	}
}

// Outcome describes what a handler wants done. The engine performs the
// state transition; handlers never touch other tiles directly.
//
// Amount is only read for consume, where zero means the full offered
// amount. Target is the absolute destination for pass_on,
// make_transaction and make_extract_request. Stack is only read for
// make_transaction; pass_on always forwards the offered stack unchanged.
type Outcome struct {
	Kind   OutcomeKind
	Amount uint32
	Target hex.Coord
	Stack  items.Stack
}

func None() Outcome { return Outcome{} }

func Consume(amount uint32) Outcome { return Outcome{Kind: OutcomeConsume, Amount: amount} }

func ConsumeAll() Outcome { return Outcome{Kind: OutcomeConsume} }

func PassOn(target hex.Coord) Outcome { return Outcome{Kind: OutcomePassOn, Target: target} }

func MakeTransaction(target hex.Coord, stack items.Stack) Outcome {
	return Outcome{Kind: OutcomeMakeTransaction, Target: target, Stack: stack}
}

func MakeExtractRequest(target hex.Coord) Outcome {
	return Outcome{Kind: OutcomeMakeExtractRequest, Target: target}
}

// ValidFor reports whether a handler for msg may return this outcome.
func (o Outcome) ValidFor(msg MessageKind) bool {
	if o.Kind == OutcomeNone {
		return true
	}
	switch msg {
	case KindTransaction:
		return o.Kind == OutcomeConsume || o.Kind == OutcomePassOn
	case KindTick:
		return o.Kind == OutcomeMakeTransaction || o.Kind == OutcomeMakeExtractRequest
	case KindExtractRequest:
		return o.Kind == OutcomeMakeTransaction
	}
	return false
}

// Accepted resolves a consume outcome against the offered amount. The
// result never exceeds what was offered.
func (o Outcome) Accepted(offered uint32) uint32 {
	if o.Kind != OutcomeConsume {
		return 0
	}
	if o.Amount == 0 || o.Amount > offered {
		return offered
	}
	return o.Amount
}
