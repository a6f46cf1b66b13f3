package observerproto

import "tilecraft.ai/internal/protocol"

// Version is the observer protocol version (separate from the control WS protocol).
const Version = "1.0"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeTick      = "TICK"
)

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Center and Radius select a hex area. Radius 0 means the whole grid.
	Center   [2]int `json:"center"`
	Radius   int    `json:"radius"`
	MaxTiles int    `json:"max_tiles"`
}

// HTTP response for GET /observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string               `json:"protocol_version"`
	WorldID         string               `json:"world_id"`
	Tick            uint64               `json:"tick"`
	Tiles           int                  `json:"tiles"`
	Params          protocol.WorldParams `json:"params"`
	Definitions     protocol.Definitions `json:"definitions"`
}

// Server -> Client. Sent every observer.every_ticks ticks. Transfers and
// faults cover every tick since the previous frame the client received.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	Digest          string `json:"digest"`

	Tiles     []protocol.TileMsg `json:"tiles"`
	Truncated bool               `json:"truncated,omitempty"`

	Transfers     []Transfer     `json:"transfers,omitempty"`
	TileFaults    []TileFault    `json:"tile_faults,omitempty"`
	RoutingFaults []RoutingFault `json:"routing_faults,omitempty"`
	Dropped       int            `json:"dropped,omitempty"`
}

type Transfer struct {
	From      [2]int `json:"from"`
	To        [2]int `json:"to"`
	Item      string `json:"item"`
	Amount    uint32 `json:"amount"`
	Requester string `json:"requester,omitempty"`
}

type TileFault struct {
	Coord   [2]int `json:"coord"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

type RoutingFault struct {
	Source [2]int `json:"source"`
	At     [2]int `json:"at"`
	Item   string `json:"item"`
	Amount uint32 `json:"amount"`
	Hops   int    `json:"hops"`
}
