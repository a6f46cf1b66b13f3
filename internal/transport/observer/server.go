package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tilecraft.ai/internal/observerproto"
	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/engine"
	"tilecraft.ai/internal/sim/hex"
	"tilecraft.ai/internal/sim/tuning"
)

const maxRadius = 256

type Server struct {
	eng *engine.Engine
	cfg tuning.Observer
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
	dropped  atomic.Uint64
}

func NewServer(eng *engine.Engine, cfg tuning.Observer, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.EveryTicks <= 0 {
		cfg.EveryTicks = 1
	}
	if cfg.MaxTiles <= 0 {
		cfg.MaxTiles = tuning.Defaults().Observer.MaxTiles
	}
	return &Server{
		eng: eng,
		cfg: cfg,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// DroppedFrames counts frames skipped because a client was backed up.
func (s *Server) DroppedFrames() uint64 { return s.dropped.Load() }

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		cfg := s.eng.Config()
		reg := s.eng.Registry()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			WorldID:         cfg.WorldID,
			Tick:            s.eng.CurrentTick(),
			Tiles:           len(s.eng.Coords()),
			Params: protocol.WorldParams{
				TickRateHz: cfg.TickRateHz,
				MaxHops:    cfg.MaxHops,
			},
			Definitions: protocol.Definitions{
				Digest:    reg.Digest,
				Functions: reg.FunctionIDs(),
				Recipes:   reg.RecipeIDs(),
			},
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

// StatsHandler serves the engine's running counters.
func (s *Server) StatsHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(s.eng.Stats())
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var sub observerproto.SubscribeMsg
		if err := json.Unmarshal(msg, &sub); err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad subscribe"), time.Now().Add(time.Second))
			return
		}
		if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}
		normalizeSubscribe(&sub, s.cfg.MaxTiles)

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		s.log.Printf("observer %s connected from %s", sid, r.RemoteAddr)
		defer s.log.Printf("observer %s disconnected", sid)

		var cur atomic.Pointer[observerproto.SubscribeMsg]
		cur.Store(&sub)

		reports, unsubscribe := s.eng.Subscribe(8)
		defer unsubscribe()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		out := make(chan []byte, 8)
		go s.frames(ctx, reports, &cur, out)

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var next observerproto.SubscribeMsg
			if err := json.Unmarshal(msg, &next); err != nil {
				continue
			}
			if next.Type != observerproto.TypeSubscribe || next.ProtocolVersion != observerproto.Version {
				continue
			}
			normalizeSubscribe(&next, s.cfg.MaxTiles)
			cur.Store(&next)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// frames turns tick reports into TICK frames, one every cfg.EveryTicks
// reports. Tiles are read when the frame is built, so under load they may
// be a tick ahead of the report.
func (s *Server) frames(ctx context.Context, reports <-chan engine.TickReport, sub *atomic.Pointer[observerproto.SubscribeMsg], out chan<- []byte) {
	var pending engine.TickReport
	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case rep, ok := <-reports:
			if !ok {
				return
			}
			mergeReport(&pending, rep)
			n++
			if n < s.cfg.EveryTicks {
				continue
			}
			n = 0

			snaps, err := s.eng.Snapshot(ctx)
			if err != nil {
				return
			}
			b, err := json.Marshal(buildFrame(pending, snaps, *sub.Load()))
			pending = engine.TickReport{}
			if err != nil {
				s.log.Printf("observer frame: %v", err)
				continue
			}
			select {
			case out <- b:
			default:
				// Drop frame if the client is backed up.
				s.dropped.Add(1)
			}
		}
	}
}

func mergeReport(dst *engine.TickReport, rep engine.TickReport) {
	dst.Tick = rep.Tick
	dst.Tiles = rep.Tiles
	dst.Digest = rep.Digest
	dst.Transfers = append(dst.Transfers, rep.Transfers...)
	dst.TileFaults = append(dst.TileFaults, rep.TileFaults...)
	dst.RoutingFaults = append(dst.RoutingFaults, rep.RoutingFaults...)
	dst.Dropped += rep.Dropped
}

func buildFrame(rep engine.TickReport, snaps []engine.TileSnapshot, sub observerproto.SubscribeMsg) observerproto.TickMsg {
	msg := observerproto.TickMsg{
		Type:            observerproto.TypeTick,
		ProtocolVersion: observerproto.Version,
		Tick:            rep.Tick,
		Digest:          rep.Digest,
		Tiles:           []protocol.TileMsg{},
		Dropped:         rep.Dropped,
	}

	center := protocol.CoordFrom(sub.Center)
	visible := make([]engine.TileSnapshot, 0, len(snaps))
	for _, sn := range snaps {
		if sub.Radius > 0 && hex.Distance(center, sn.Coord) > sub.Radius {
			continue
		}
		visible = append(visible, sn)
	}
	// Nearest first so a capped frame keeps the middle of the view.
	sort.SliceStable(visible, func(i, j int) bool {
		di, dj := hex.Distance(center, visible[i].Coord), hex.Distance(center, visible[j].Coord)
		if di != dj {
			return di < dj
		}
		return hex.Less(visible[i].Coord, visible[j].Coord)
	})
	if sub.MaxTiles > 0 && len(visible) > sub.MaxTiles {
		visible = visible[:sub.MaxTiles]
		msg.Truncated = true
	}
	for _, sn := range visible {
		var fault error
		if sn.Fault != nil {
			fault = sn.Fault
		}
		msg.Tiles = append(msg.Tiles, protocol.TileFor(sn.Coord, sn.FunctionID, sn.Fields, fault))
	}

	for _, t := range rep.Transfers {
		msg.Transfers = append(msg.Transfers, observerproto.Transfer{
			From:      protocol.CoordTo(t.From),
			To:        protocol.CoordTo(t.To),
			Item:      t.Item,
			Amount:    t.Amount,
			Requester: t.Requester,
		})
	}
	for _, f := range rep.TileFaults {
		msg.TileFaults = append(msg.TileFaults, observerproto.TileFault{
			Coord:   protocol.CoordTo(f.Coord),
			Message: f.Message,
			Error:   f.Error,
		})
	}
	for _, f := range rep.RoutingFaults {
		msg.RoutingFaults = append(msg.RoutingFaults, observerproto.RoutingFault{
			Source: protocol.CoordTo(f.Source),
			At:     protocol.CoordTo(f.At),
			Item:   f.Item,
			Amount: f.Amount,
			Hops:   f.Hops,
		})
	}
	return msg
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg, maxTiles int) {
	if sub.Radius < 0 {
		sub.Radius = 0
	}
	if sub.Radius > maxRadius {
		sub.Radius = maxRadius
	}
	if sub.MaxTiles <= 0 || sub.MaxTiles > maxTiles {
		sub.MaxTiles = maxTiles
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
