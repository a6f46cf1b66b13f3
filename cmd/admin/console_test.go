package main

import (
	"testing"

	"tilecraft.ai/internal/protocol"
)

func TestParseConsoleLine(t *testing.T) {
	cmd, err := parseConsoleLine("place 2,-1 chest item=item:iron amount=int:50 buffer=inv:iron=3,copper=2", 1)
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if cmd.Op != protocol.OpPlace || cmd.ID != "console_1" || cmd.Coord != [2]int{2, -1} || cmd.FunctionID != "chest" {
		t.Fatalf("cmd=%+v", cmd)
	}
	if len(cmd.Fields) != 3 || cmd.Fields[1].Int != 50 || cmd.Fields[2].Inv["copper"] != 2 {
		t.Fatalf("fields=%+v", cmd.Fields)
	}
	if _, err := protocol.FieldMap(cmd.Fields); err != nil {
		t.Fatalf("fields do not decode: %v", err)
	}

	cmd, err = parseConsoleLine("set 0,0 target=coord:1,0", 2)
	if err != nil || cmd.Op != protocol.OpSetField || cmd.Field == nil || *cmd.Field.Coord != [2]int{1, 0} {
		t.Fatalf("set cmd=%+v err=%v", cmd, err)
	}

	cmd, err = parseConsoleLine("send 0,0 -1,0 iron 5", 3)
	if err != nil || cmd.Op != protocol.OpSend || *cmd.Source != [2]int{-1, 0} || cmd.Stack.Amount != 5 {
		t.Fatalf("send cmd=%+v err=%v", cmd, err)
	}

	cmd, err = parseConsoleLine("inspect 3,3", 4)
	if err != nil || cmd.Op != protocol.OpInspect {
		t.Fatalf("inspect cmd=%+v err=%v", cmd, err)
	}
}

func TestParseConsoleLine_Rejects(t *testing.T) {
	for _, line := range []string{
		"place",
		"place 0,0",
		"teleport 0,0",
		"remove 0,0 extra",
		"set 0,0 target",
		"set 0,0 amount=int:x",
		"set 0,0 a=float:1",
		"send 0,0 1,0 iron 0",
		"send 0,0 1,0 iron",
		"place 0,0 chest buffer=inv:iron",
	} {
		if _, err := parseConsoleLine(line, 1); err == nil {
			t.Fatalf("%q: expected error", line)
		}
	}
}
