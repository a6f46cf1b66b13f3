package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Engine routing/state.
	ErrBusy   = "E_BUSY"
	ErrClosed = "E_CLOSED"

	// Command layer.
	ErrBadRequest      = "E_BAD_REQUEST"
	ErrNoTile          = "E_NO_TILE"
	ErrUnknownFunction = "E_UNKNOWN_FUNCTION"
	ErrInvalidStack    = "E_INVALID_STACK"
	ErrUnknownItem     = "E_UNKNOWN_ITEM"
	ErrInternal        = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBusy:            {},
	ErrClosed:          {},
	ErrBadRequest:      {},
	ErrNoTile:          {},
	ErrUnknownFunction: {},
	ErrInvalidStack:    {},
	ErrUnknownItem:     {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
