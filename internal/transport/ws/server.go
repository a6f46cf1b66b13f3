// Package ws serves the operator control channel: a HELLO/WELCOME
// handshake followed by CMD messages that place, edit, inspect and feed
// tiles, each answered by an ACK.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/engine"
	"tilecraft.ai/internal/sim/items"
	"tilecraft.ai/internal/sim/txn"
)

const (
	cmdTimeout = 5 * time.Second
	// Operator consoles sit idle between commands.
	idleTimeout = 10 * time.Minute
)

type Server struct {
	eng *engine.Engine
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(eng *engine.Engine, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Server{
		eng: eng,
		log: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
	return s
}

func (s *Server) Handler() http.HandlerFunc {
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

		sid, out := s.handshake(conn)
		if sid == "" {
			return
		}
		s.log.Printf("control %s connected from %s", sid, r.RemoteAddr)
		defer s.log.Printf("control %s disconnected", sid)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			if base.Type != protocol.TypeCmd {
				continue
			}
			var cmd protocol.CmdMsg
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &cmd); err != nil {
				ack = s.reject(cmd, protocol.ErrProtoBadRequest, err.Error())
			} else if cmd.ProtocolVersion != protocol.Version {
				ack = s.reject(cmd, protocol.ErrProtoBadRequest, "bad protocol_version")
			} else {
				ack = s.Exec(ctx, cmd)
				if cmd.Op != protocol.OpInspect {
					s.log.Printf("control %s: %s %v accepted=%v %s", sid, cmd.Op, cmd.Coord, ack.Accepted, ack.Code)
				}
			}
			b, err := json.Marshal(ack)
			if err != nil {
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sid string, out chan []byte) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", nil
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 8
	}
	if maxQ > 64 {
		maxQ = 64
	}
	out = make(chan []byte, maxQ)

	sid = fmt.Sprintf("C%d", s.nextID.Add(1))
	cfg := s.eng.Config()
	reg := s.eng.Registry()
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sid,
		WorldID:         cfg.WorldID,
		Tick:            s.eng.CurrentTick(),
		Params:          protocol.WorldParams{TickRateHz: cfg.TickRateHz, MaxHops: cfg.MaxHops},
		Definitions: protocol.Definitions{
			Digest:    reg.Digest,
			Functions: reg.FunctionIDs(),
			Recipes:   reg.RecipeIDs(),
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", nil
	}
	return sid, out
}

// Exec runs one command against the engine and builds its ACK.
func (s *Server) Exec(ctx context.Context, cmd protocol.CmdMsg) protocol.AckMsg {
	ctx, cancel := context.WithTimeout(ctx, cmdTimeout)
	defer cancel()

	coord := protocol.CoordFrom(cmd.Coord)
	ack := protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          cmd.ID,
		Accepted:        true,
	}
	var err error
	switch cmd.Op {
	case protocol.OpPlace:
		fields, ferr := protocol.FieldMap(cmd.Fields)
		if ferr != nil {
			return s.reject(cmd, protocol.ErrBadRequest, ferr.Error())
		}
		err = s.eng.Place(coord, cmd.FunctionID, fields)
	case protocol.OpRemove:
		if !s.eng.Remove(coord) {
			err = engine.ErrNoTile
		}
	case protocol.OpSetField:
		if cmd.Field == nil {
			return s.reject(cmd, protocol.ErrBadRequest, "missing field")
		}
		v, ferr := cmd.Field.Value()
		if ferr != nil {
			return s.reject(cmd, protocol.ErrBadRequest, ferr.Error())
		}
		err = s.eng.SetField(ctx, coord, cmd.Field.Key, v)
	case protocol.OpReset:
		err = s.eng.Reset(ctx, coord)
	case protocol.OpInspect:
		snap, ierr := s.eng.Inspect(ctx, coord)
		if ierr == nil {
			var fault error
			if snap.Fault != nil {
				fault = snap.Fault
			}
			t := protocol.TileFor(snap.Coord, snap.FunctionID, snap.Fields, fault)
			ack.Tile = &t
		}
		err = ierr
	case protocol.OpSend:
		// The result goes back to Source, so it must name the sender.
		if cmd.Stack == nil || cmd.Source == nil {
			return s.reject(cmd, protocol.ErrBadRequest, "missing stack or source")
		}
		err = s.eng.Send(txn.Transaction{
			Target: coord,
			Source: protocol.CoordFrom(*cmd.Source),
			Stack:  items.Stack{Item: items.ID(cmd.Stack.Item), Amount: cmd.Stack.Amount},
		})
	default:
		return s.reject(cmd, protocol.ErrBadRequest, fmt.Sprintf("unknown op %q", cmd.Op))
	}
	if err != nil {
		return s.reject(cmd, codeFor(err), err.Error())
	}
	ack.ServerTick = s.eng.CurrentTick()
	return ack
}

func (s *Server) reject(cmd protocol.CmdMsg, code, message string) protocol.AckMsg {
	return protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          cmd.ID,
		Code:            code,
		Message:         message,
		ServerTick:      s.eng.CurrentTick(),
	}
}

func codeFor(err error) string {
	switch {
	case errors.Is(err, engine.ErrNoTile):
		return protocol.ErrNoTile
	case errors.Is(err, engine.ErrUnknownFunction):
		return protocol.ErrUnknownFunction
	case errors.Is(err, engine.ErrInvalidStack):
		return protocol.ErrInvalidStack
	case errors.Is(err, engine.ErrUnknownItem):
		return protocol.ErrUnknownItem
	case errors.Is(err, engine.ErrClosed):
		return protocol.ErrClosed
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return protocol.ErrBusy
	default:
		return protocol.ErrInternal
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
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
