package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string            `json:"type" jsonschema:"enum=HELLO"`
	ProtocolVersion string            `json:"protocol_version"`
	ClientName      string            `json:"client_name,omitempty"`
	Capabilities    HelloCapabilities `json:"capabilities,omitempty"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty" jsonschema:"minimum=0,maximum=64"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type" jsonschema:"enum=WELCOME"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	WorldID         string      `json:"world_id"`
	Tick            uint64      `json:"tick"`
	Params          WorldParams `json:"params"`
	Definitions     Definitions `json:"definitions"`
}

type WorldParams struct {
	TickRateHz int `json:"tick_rate_hz"`
	MaxHops    int `json:"max_hops"`
}

type Definitions struct {
	Digest    string   `json:"digest"`
	Functions []string `json:"functions"`
	Recipes   []string `json:"recipes"`
}

// CMD (client -> server). Which fields matter depends on Op.
type CmdMsg struct {
	Type            string `json:"type" jsonschema:"enum=CMD"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Op              string `json:"op" jsonschema:"enum=PLACE,enum=REMOVE,enum=SET_FIELD,enum=RESET,enum=INSPECT,enum=SEND"`
	Coord           [2]int `json:"coord"`

	// PLACE
	FunctionID string       `json:"function_id,omitempty"`
	Fields     []FieldValue `json:"fields,omitempty"`

	// SET_FIELD
	Field *FieldValue `json:"field,omitempty"`

	// SEND: a transaction offered to Coord from Source.
	Source *[2]int   `json:"source,omitempty"`
	Stack  *StackMsg `json:"stack,omitempty"`
}

type StackMsg struct {
	Item   string `json:"item"`
	Amount uint32 `json:"amount"`
}

// ACK (server -> client)
type AckMsg struct {
	Type            string   `json:"type" jsonschema:"enum=ACK"`
	ProtocolVersion string   `json:"protocol_version"`
	AckFor          string   `json:"ack_for"`
	Accepted        bool     `json:"accepted"`
	Code            string   `json:"code,omitempty"`
	Message         string   `json:"message,omitempty"`
	ServerTick      uint64   `json:"server_tick"`
	Tile            *TileMsg `json:"tile,omitempty"`
}

// TileMsg is one tile as seen by clients: its function and all stored
// fields, sorted by key.
type TileMsg struct {
	Coord      [2]int       `json:"coord"`
	FunctionID string       `json:"function_id"`
	Fields     []FieldValue `json:"fields"`
	Fault      string       `json:"fault,omitempty"`
}
