package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/peterh/liner"

	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/hex"
)

const (
	consoleHistory = ".tilecraft_console_history"
	consolePrompt  = "tc> "
)

const consoleHelp = `commands:
  place q,r FUNCTION [key=kind:value ...]
  remove q,r
  set q,r key=kind:value
  reset q,r
  inspect q,r
  send q,r FROM_q,r ITEM AMOUNT
  :quit
field kinds: int:5  item:iron  coord:1,-1  id:gear  inv:iron=3,copper=2`

// consoleCmd is an interactive session on the operator control channel.
func consoleCmd(args []string) {
	fs := flag.NewFlagSet("console", flag.ExitOnError)
	wsURL := fs.String("url", "ws://127.0.0.1:8080/admin/v1/control", "control ws url")
	_ = fs.Parse(args)

	conn, _, err := websocket.DefaultDialer.Dial(*wsURL, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "dial:", err)
		os.Exit(1)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "admin-console"}
	if err := conn.WriteJSON(hello); err != nil {
		fmt.Fprintln(os.Stderr, "hello:", err)
		os.Exit(1)
	}
	var welcome protocol.WelcomeMsg
	if err := conn.ReadJSON(&welcome); err != nil {
		fmt.Fprintln(os.Stderr, "welcome:", err)
		os.Exit(1)
	}
	fmt.Printf("connected to %s at tick %d (functions: %s)\n", welcome.WorldID, welcome.Tick, strings.Join(welcome.Definitions.Functions, " "))
	fmt.Println(consoleHelp)

	home, _ := os.UserHomeDir()
	histPath := filepath.Join(home, consoleHistory)
	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	var seq uint64
	for {
		line, err := ln.Prompt(consolePrompt)
		if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
			return
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ln.AppendHistory(line)
		if line == ":quit" {
			return
		}
		if line == ":help" {
			fmt.Println(consoleHelp)
			continue
		}

		seq++
		cmd, err := parseConsoleLine(line, seq)
		if err != nil {
			fmt.Println("error:", err)
			continue
		}
		ack, err := roundTrip(conn, cmd)
		if err != nil {
			fmt.Fprintln(os.Stderr, "control:", err)
			return
		}
		printAck(ack)
	}
}

// roundTrip sends cmd and waits for its ACK.
func roundTrip(conn *websocket.Conn, cmd protocol.CmdMsg) (protocol.AckMsg, error) {
	if err := conn.WriteJSON(cmd); err != nil {
		return protocol.AckMsg{}, err
	}
	for {
		var ack protocol.AckMsg
		if err := conn.ReadJSON(&ack); err != nil {
			return protocol.AckMsg{}, err
		}
		if ack.Type == protocol.TypeAck && ack.AckFor == cmd.ID {
			return ack, nil
		}
	}
}

func printAck(ack protocol.AckMsg) {
	if !ack.Accepted {
		fmt.Printf("rejected %s: %s\n", ack.Code, ack.Message)
		return
	}
	if ack.Tile == nil {
		fmt.Printf("ok (tick %d)\n", ack.ServerTick)
		return
	}
	b, _ := json.MarshalIndent(ack.Tile, "", "  ")
	fmt.Println(string(b))
}

func parseConsoleLine(line string, seq uint64) (protocol.CmdMsg, error) {
	words := strings.Fields(line)
	cmd := protocol.CmdMsg{
		Type:            protocol.TypeCmd,
		ProtocolVersion: protocol.Version,
		ID:              fmt.Sprintf("console_%d", seq),
	}
	if len(words) < 2 {
		return cmd, fmt.Errorf("expected: COMMAND q,r ...")
	}
	at, err := hex.ParseCoord(words[1])
	if err != nil {
		return cmd, err
	}
	cmd.Coord = protocol.CoordTo(at)
	rest := words[2:]

	switch words[0] {
	case "place":
		if len(rest) < 1 {
			return cmd, fmt.Errorf("place: missing function id")
		}
		cmd.Op = protocol.OpPlace
		cmd.FunctionID = rest[0]
		for _, w := range rest[1:] {
			f, err := parseField(w)
			if err != nil {
				return cmd, err
			}
			cmd.Fields = append(cmd.Fields, f)
		}
	case "remove", "reset", "inspect":
		if len(rest) != 0 {
			return cmd, fmt.Errorf("%s takes only a coordinate", words[0])
		}
		cmd.Op = map[string]string{"remove": protocol.OpRemove, "reset": protocol.OpReset, "inspect": protocol.OpInspect}[words[0]]
	case "set":
		if len(rest) != 1 {
			return cmd, fmt.Errorf("set: expected one key=kind:value")
		}
		f, err := parseField(rest[0])
		if err != nil {
			return cmd, err
		}
		cmd.Op = protocol.OpSetField
		cmd.Field = &f
	case "send":
		if len(rest) != 3 {
			return cmd, fmt.Errorf("send: expected FROM ITEM AMOUNT")
		}
		from, err := hex.ParseCoord(rest[0])
		if err != nil {
			return cmd, err
		}
		n, err := strconv.ParseUint(rest[2], 10, 32)
		if err != nil || n == 0 {
			return cmd, fmt.Errorf("send: bad amount %q", rest[2])
		}
		src := protocol.CoordTo(from)
		cmd.Op = protocol.OpSend
		cmd.Source = &src
		cmd.Stack = &protocol.StackMsg{Item: rest[1], Amount: uint32(n)}
	default:
		return cmd, fmt.Errorf("unknown command %q", words[0])
	}
	return cmd, nil
}

// parseField reads key=kind:value.
func parseField(w string) (protocol.FieldValue, error) {
	key, rhs, ok := strings.Cut(w, "=")
	if !ok || key == "" {
		return protocol.FieldValue{}, fmt.Errorf("field %q: expected key=kind:value", w)
	}
	kind, val, ok := strings.Cut(rhs, ":")
	if !ok {
		return protocol.FieldValue{}, fmt.Errorf("field %q: expected key=kind:value", w)
	}
	f := protocol.FieldValue{Key: key, Kind: kind}
	switch kind {
	case "int":
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return f, fmt.Errorf("field %q: %w", key, err)
		}
		f.Int = n
	case "item":
		f.Item = val
	case "id":
		f.ID = val
	case "coord":
		c, err := hex.ParseCoord(val)
		if err != nil {
			return f, fmt.Errorf("field %q: %w", key, err)
		}
		cc := protocol.CoordTo(c)
		f.Coord = &cc
	case "inventory", "inv":
		f.Kind = "inventory"
		f.Inv = map[string]uint32{}
		for _, part := range strings.Split(val, ",") {
			if part == "" {
				continue
			}
			item, count, ok := strings.Cut(part, "=")
			n, err := strconv.ParseUint(count, 10, 32)
			if !ok || item == "" || err != nil {
				return f, fmt.Errorf("field %q: bad inventory entry %q", key, part)
			}
			f.Inv[item] = uint32(n)
		}
	default:
		return f, fmt.Errorf("field %q: unknown kind %q", key, kind)
	}
	if _, err := f.Value(); err != nil {
		return f, err
	}
	return f, nil
}
