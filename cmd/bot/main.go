package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"tilecraft.ai/internal/protocol"
)

// bot places a layout over the control channel and keeps feeding items
// into it until interrupted.
func main() {
	var (
		url        = flag.String("url", "ws://localhost:8080/admin/v1/control", "control ws url")
		name       = flag.String("name", "bot", "client name")
		layoutPath = flag.String("layout", "./configs/layouts/demo.yaml", "layout yaml")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	layout, err := loadLayout(*layoutPath)
	if err != nil {
		logger.Fatalf("layout: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: 32},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}
	var welcome protocol.WelcomeMsg
	if err := conn.ReadJSON(&welcome); err != nil || welcome.Type != protocol.TypeWelcome {
		logger.Fatalf("expected WELCOME: %v", err)
	}
	logger.Printf("WELCOME session=%s world=%s tick=%d tick_rate=%d functions=%d",
		welcome.SessionID, welcome.WorldID, welcome.Tick, welcome.Params.TickRateHz, len(welcome.Definitions.Functions))

	var rejected atomic.Uint64
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeAck {
				continue
			}
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &ack); err != nil {
				continue
			}
			if !ack.Accepted {
				rejected.Add(1)
				logger.Printf("ACK %s rejected: %s %s", ack.AckFor, ack.Code, ack.Message)
			}
		}
	}()

	// gorilla connections allow one concurrent writer.
	var wmu sync.Mutex
	send := func(cmd protocol.CmdMsg) error {
		wmu.Lock()
		defer wmu.Unlock()
		return conn.WriteJSON(cmd)
	}

	for _, cmd := range layout.placeCmds() {
		if err := send(cmd); err != nil {
			logger.Fatalf("send %s: %v", cmd.ID, err)
		}
	}
	logger.Printf("placed %d tiles; feeding %d sources", len(layout.Tiles), len(layout.Feeds))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	done := make(chan struct{})

	var seq atomic.Uint64
	var wg sync.WaitGroup
	for _, f := range layout.Feeds {
		wg.Add(1)
		go func(f Feed) {
			defer wg.Done()
			t := time.NewTicker(f.Every())
			defer t.Stop()
			for {
				select {
				case <-done:
					return
				case <-t.C:
					if err := send(f.sendCmd(seq.Add(1))); err != nil {
						logger.Printf("send: %v", err)
						return
					}
				}
			}
		}(f)
	}

	<-stop
	close(done)
	wg.Wait()
	logger.Printf("sent=%d rejected=%d", seq.Load(), rejected.Load())
}
