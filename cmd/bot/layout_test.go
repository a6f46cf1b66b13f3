package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"tilecraft.ai/internal/protocol"
)

func writeLayout(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "layout.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadLayout(t *testing.T) {
	p := writeLayout(t, `
tiles:
  - at: "0,0"
    function: chest
    fields:
      - {key: item, kind: item, item: iron}
      - {key: amount, kind: int, int: 50}
  - at: "-1,0"
    function: belt
    fields:
      - {key: target, kind: coord, coord: [1, 0]}
feeds:
  - {to: "-1,0", from: "-2,0", item: iron, amount: 2, every_ms: 250}
`)
	l, err := loadLayout(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cmds := l.placeCmds()
	if len(cmds) != 2 || cmds[1].Coord != [2]int{-1, 0} || cmds[1].FunctionID != "belt" {
		t.Fatalf("cmds=%+v", cmds)
	}
	if f := cmds[1].Fields[0]; f.Coord == nil || *f.Coord != [2]int{1, 0} {
		t.Fatalf("coord field=%+v", f)
	}
	if cmds[0].Fields[1].Int != 50 {
		t.Fatalf("amount field=%+v", cmds[0].Fields[1])
	}

	send := l.Feeds[0].sendCmd(7)
	if send.Op != protocol.OpSend || send.ID != "send_7" || *send.Source != [2]int{-2, 0} || send.Stack.Amount != 2 {
		t.Fatalf("send=%+v", send)
	}
	if l.Feeds[0].Every() != 250*time.Millisecond {
		t.Fatalf("every=%v", l.Feeds[0].Every())
	}
}

func TestLoadLayout_Rejects(t *testing.T) {
	cases := map[string]string{
		"bad coord":   "tiles:\n  - {at: \"x\", function: chest}\n",
		"no function": "tiles:\n  - {at: \"0,0\"}\n",
		"bad field":   "tiles:\n  - {at: \"0,0\", function: chest, fields: [{key: a, kind: float}]}\n",
		"empty feed":  "feeds:\n  - {to: \"0,0\", from: \"1,0\", item: iron}\n",
	}
	for name, body := range cases {
		if _, err := loadLayout(writeLayout(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestDemoLayoutLoads(t *testing.T) {
	l, err := loadLayout("../../configs/layouts/demo.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(l.Tiles) == 0 || len(l.Feeds) == 0 {
		t.Fatalf("layout=%+v", l)
	}
}
