package observer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tilecraft.ai/internal/observerproto"
	"tilecraft.ai/internal/sim/engine"
	"tilecraft.ai/internal/sim/functions"
	"tilecraft.ai/internal/sim/hex"
	"tilecraft.ai/internal/sim/items"
	"tilecraft.ai/internal/sim/script"
	"tilecraft.ai/internal/sim/tile"
	"tilecraft.ai/internal/sim/tuning"
	"tilecraft.ai/internal/sim/txn"
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	kinds := functions.Kinds()
	reg, err := script.NewRegistry([]*script.FunctionSet{
		{ID: "chest", Kind: functions.KindStorage, Handlers: kinds[functions.KindStorage], IDDeps: map[string]string{
			"item": "item", "amount": "amount", "buffer": "buffer", "reserved": "reserved", "reserved_tick": "reserved_tick",
		}},
		{ID: "belt", Kind: functions.KindTransfer, Handlers: kinds[functions.KindTransfer], IDDeps: map[string]string{"target": "target"}},
	}, nil, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	reg.Digest = "defs"
	eng := engine.New(engine.Config{WorldID: "w_test"}, reg, nil)
	t.Cleanup(eng.Close)
	if err := eng.Place(hex.Coord{}, "chest", map[string]tile.Value{"item": tile.Item("iron"), "amount": tile.Int(1_000_000)}); err != nil {
		t.Fatalf("place chest: %v", err)
	}
	if err := eng.Place(hex.Coord{Q: 5}, "belt", map[string]tile.Value{"target": tile.Coord(hex.Coord{Q: 1})}); err != nil {
		t.Fatalf("place belt: %v", err)
	}
	return eng
}

func newHTTP(t *testing.T, srv *Server) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/observer/bootstrap", srv.BootstrapHandler())
	mux.HandleFunc("/observer/stats", srv.StatsHandler())
	mux.HandleFunc("/observer/ws", srv.WSHandler())
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestBootstrap(t *testing.T) {
	eng := newEngine(t)
	ts := newHTTP(t, NewServer(eng, tuning.Defaults().Observer, nil))

	resp, err := http.Get(ts.URL + "/observer/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var boot observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&boot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if boot.WorldID != "w_test" || boot.Tiles != 2 || boot.Definitions.Digest != "defs" {
		t.Fatalf("bootstrap=%+v", boot)
	}
	if len(boot.Definitions.Functions) != 2 || boot.Params.MaxHops != engine.DefaultMaxHops {
		t.Fatalf("bootstrap=%+v", boot)
	}

	post, err := http.Post(ts.URL+"/observer/bootstrap", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", post.StatusCode)
	}
}

func TestWS_StreamsFramesInRadius(t *testing.T) {
	eng := newEngine(t)
	ts := newHTTP(t, NewServer(eng, tuning.Observer{MaxTiles: 100, EveryTicks: 1}, nil))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		Radius:          2,
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Keep ticking until the test has what it needs; the subscription is
	// registered asynchronously.
	go func() {
		for ctx.Err() == nil {
			_ = eng.Send(txn.Transaction{Target: hex.Coord{}, Source: hex.Coord{R: 1}, Stack: items.Stack{Item: "iron", Amount: 1}})
			if _, err := eng.Step(ctx); err != nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	sawTransfer := false
	for i := 0; i < 50 && !sawTransfer; i++ {
		var msg observerproto.TickMsg
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type != observerproto.TypeTick || msg.Digest == "" {
			t.Fatalf("frame=%+v", msg)
		}
		if len(msg.Tiles) != 1 || msg.Tiles[0].FunctionID != "chest" || msg.Tiles[0].Coord != [2]int{0, 0} {
			t.Fatalf("tiles=%+v", msg.Tiles)
		}
		for _, tr := range msg.Transfers {
			if tr.Item == "iron" && tr.To == [2]int{0, 0} && tr.From == [2]int{0, 1} {
				sawTransfer = true
			}
		}
	}
	if !sawTransfer {
		t.Fatalf("no transfer seen in frames")
	}
}

func TestWS_RejectsBadSubscribe(t *testing.T) {
	eng := newEngine(t)
	ts := newHTTP(t, NewServer(eng, tuning.Defaults().Observer, nil))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(map[string]any{"type": "HELLO", "protocol_version": observerproto.Version}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("err=%v want policy violation close", err)
	}
}

func TestBuildFrame_NearestFirstAndTruncated(t *testing.T) {
	snaps := []engine.TileSnapshot{
		{Coord: hex.Coord{Q: -3}, FunctionID: "far"},
		{Coord: hex.Coord{Q: 0, R: 0}, FunctionID: "center"},
		{Coord: hex.Coord{Q: 1, R: -1}, FunctionID: "near", Fault: &engine.TileFault{Err: errors.New("boom")}},
		{Coord: hex.Coord{Q: 9}, FunctionID: "outside"},
	}
	rep := engine.TickReport{
		Tick:          7,
		Digest:        "d",
		RoutingFaults: []engine.RoutingFault{{At: hex.Coord{Q: 2}, Item: "iron", Amount: 1, Hops: 65}},
	}
	msg := buildFrame(rep, snaps, observerproto.SubscribeMsg{Radius: 4, MaxTiles: 2})
	if !msg.Truncated || len(msg.Tiles) != 2 {
		t.Fatalf("frame=%+v", msg)
	}
	if msg.Tiles[0].FunctionID != "center" || msg.Tiles[1].FunctionID != "near" || msg.Tiles[1].Fault == "" {
		t.Fatalf("tiles=%+v", msg.Tiles)
	}
	if len(msg.RoutingFaults) != 1 || msg.RoutingFaults[0].At != [2]int{2, 0} || msg.Tick != 7 {
		t.Fatalf("frame=%+v", msg)
	}

	all := buildFrame(rep, snaps, observerproto.SubscribeMsg{})
	if all.Truncated || len(all.Tiles) != 4 {
		t.Fatalf("unbounded frame=%+v", all)
	}
}

func TestMergeReport(t *testing.T) {
	var dst engine.TickReport
	mergeReport(&dst, engine.TickReport{Tick: 1, Dropped: 2, Transfers: []engine.TransferRecord{{Item: "a"}}})
	mergeReport(&dst, engine.TickReport{Tick: 2, Digest: "x", Dropped: 1, Transfers: []engine.TransferRecord{{Item: "b"}}})
	if dst.Tick != 2 || dst.Digest != "x" || dst.Dropped != 3 || len(dst.Transfers) != 2 {
		t.Fatalf("merged=%+v", dst)
	}
}

func TestNormalizeSubscribe(t *testing.T) {
	sub := observerproto.SubscribeMsg{Radius: -1, MaxTiles: 1 << 20}
	normalizeSubscribe(&sub, 100)
	if sub.Radius != 0 || sub.MaxTiles != 100 {
		t.Fatalf("sub=%+v", sub)
	}
	sub = observerproto.SubscribeMsg{Radius: 1000, MaxTiles: 5}
	normalizeSubscribe(&sub, 100)
	if sub.Radius != maxRadius || sub.MaxTiles != 5 {
		t.Fatalf("sub=%+v", sub)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:1234": true,
		"[::1]:80":       true,
		"10.0.0.2:80":    false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("%s: got %v want %v", in, got, want)
		}
	}
}
