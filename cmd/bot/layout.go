package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/hex"
)

// Layout is a set of tiles to place and item sources to feed into them.
type Layout struct {
	Tiles []LayoutTile `yaml:"tiles"`
	Feeds []Feed       `yaml:"feeds"`
}

type LayoutTile struct {
	At       string                `yaml:"at"`
	Function string                `yaml:"function"`
	Fields   []protocol.FieldValue `yaml:"fields"`
}

type Feed struct {
	To      string `yaml:"to"`
	From    string `yaml:"from"`
	Item    string `yaml:"item"`
	Amount  uint32 `yaml:"amount"`
	EveryMS int    `yaml:"every_ms"`
}

func (f Feed) Every() time.Duration {
	if f.EveryMS <= 0 {
		return time.Second
	}
	return time.Duration(f.EveryMS) * time.Millisecond
}

func loadLayout(path string) (Layout, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Layout{}, err
	}
	var l Layout
	if err := yaml.Unmarshal(raw, &l); err != nil {
		return Layout{}, fmt.Errorf("%s: %w", path, err)
	}
	for i, t := range l.Tiles {
		if _, err := hex.ParseCoord(t.At); err != nil {
			return Layout{}, fmt.Errorf("tiles[%d]: %w", i, err)
		}
		if t.Function == "" {
			return Layout{}, fmt.Errorf("tiles[%d]: missing function", i)
		}
		if _, err := protocol.FieldMap(t.Fields); err != nil {
			return Layout{}, fmt.Errorf("tiles[%d]: %w", i, err)
		}
	}
	for i, f := range l.Feeds {
		if _, err := hex.ParseCoord(f.To); err != nil {
			return Layout{}, fmt.Errorf("feeds[%d].to: %w", i, err)
		}
		if _, err := hex.ParseCoord(f.From); err != nil {
			return Layout{}, fmt.Errorf("feeds[%d].from: %w", i, err)
		}
		if f.Item == "" || f.Amount == 0 {
			return Layout{}, fmt.Errorf("feeds[%d]: item and amount are required", i)
		}
	}
	return l, nil
}

func coordOf(s string) [2]int {
	c, _ := hex.ParseCoord(s)
	return protocol.CoordTo(c)
}

func (l Layout) placeCmds() []protocol.CmdMsg {
	out := make([]protocol.CmdMsg, 0, len(l.Tiles))
	for i, t := range l.Tiles {
		out = append(out, protocol.CmdMsg{
			Type:            protocol.TypeCmd,
			ProtocolVersion: protocol.Version,
			ID:              fmt.Sprintf("place_%d", i),
			Op:              protocol.OpPlace,
			Coord:           coordOf(t.At),
			FunctionID:      t.Function,
			Fields:          t.Fields,
		})
	}
	return out
}

func (f Feed) sendCmd(seq uint64) protocol.CmdMsg {
	from := coordOf(f.From)
	return protocol.CmdMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		ID:              fmt.Sprintf("send_%d", seq),
		Op:              protocol.OpSend,
		Coord:           coordOf(f.To),
		Source:          &from,
		Stack:           &protocol.StackMsg{Item: f.Item, Amount: f.Amount},
	}
}
