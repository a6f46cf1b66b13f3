package engine

import (
	"sort"
	"sync"

	"tilecraft.ai/internal/sim/hex"
)

// TransferRecord is one accepted transaction, kept for presentation and
// the tick log.
type TransferRecord struct {
	From      hex.Coord `json:"from"`
	To        hex.Coord `json:"to"`
	Item      string    `json:"item"`
	Amount    uint32    `json:"amount"`
	Requester string    `json:"requester,omitempty"`
}

type FaultRecord struct {
	Coord   hex.Coord `json:"coord"`
	Message string    `json:"message"`
	Error   string    `json:"error"`
}

// TickReport summarises everything that happened since the previous step.
type TickReport struct {
	Tick          uint64           `json:"tick"`
	Tiles         int              `json:"tiles"`
	Transfers     []TransferRecord `json:"transfers,omitempty"`
	RoutingFaults []RoutingFault   `json:"routing_faults,omitempty"`
	TileFaults    []FaultRecord    `json:"tile_faults,omitempty"`
	Dropped       int              `json:"dropped,omitempty"`
	DurationMs    float64          `json:"duration_ms"`
	Digest        string           `json:"digest"`
}

// TickLogger receives every report. Implemented in internal/persistence/log.
type TickLogger interface {
	WriteTick(rep TickReport) error
}

type recorder struct {
	mu  sync.Mutex
	cur TickReport
}

func (r *recorder) transfer(rec TransferRecord) {
	r.mu.Lock()
	r.cur.Transfers = append(r.cur.Transfers, rec)
	r.mu.Unlock()
}

func (r *recorder) routingFault(f RoutingFault) {
	r.mu.Lock()
	r.cur.RoutingFaults = append(r.cur.RoutingFaults, f)
	r.mu.Unlock()
}

func (r *recorder) tileFault(f *TileFault) {
	r.mu.Lock()
	r.cur.TileFaults = append(r.cur.TileFaults, FaultRecord{
		Coord:   f.Coord,
		Message: f.Message.String(),
		Error:   f.Err.Error(),
	})
	r.mu.Unlock()
}

func (r *recorder) dropped() {
	r.mu.Lock()
	r.cur.Dropped++
	r.mu.Unlock()
}

func (r *recorder) take() TickReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.cur
	r.cur = TickReport{}
	sortReport(&out)
	return out
}

// sortReport orders records by coordinate. Actors record concurrently, so
// append order is not stable between runs.
func sortReport(rep *TickReport) {
	sort.SliceStable(rep.Transfers, func(i, j int) bool {
		a, b := rep.Transfers[i], rep.Transfers[j]
		if a.To != b.To {
			return hex.Less(a.To, b.To)
		}
		if a.From != b.From {
			return hex.Less(a.From, b.From)
		}
		if a.Item != b.Item {
			return a.Item < b.Item
		}
		return a.Amount < b.Amount
	})
	sort.SliceStable(rep.RoutingFaults, func(i, j int) bool {
		a, b := rep.RoutingFaults[i], rep.RoutingFaults[j]
		if a.At != b.At {
			return hex.Less(a.At, b.At)
		}
		return hex.Less(a.Source, b.Source)
	})
	sort.SliceStable(rep.TileFaults, func(i, j int) bool {
		return hex.Less(rep.TileFaults[i].Coord, rep.TileFaults[j].Coord)
	})
}

// subscribers fan reports out to observers. Slow subscribers only ever
// see the latest report.
type subscribers struct {
	mu   sync.Mutex
	next int
	subs map[int]chan TickReport
}

func (s *subscribers) add(buf int) (int, <-chan TickReport) {
	if buf <= 0 {
		buf = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = map[int]chan TickReport{}
	}
	s.next++
	ch := make(chan TickReport, buf)
	s.subs[s.next] = ch
	return s.next, ch
}

func (s *subscribers) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		delete(s.subs, id)
		close(ch)
	}
}

func (s *subscribers) publish(rep TickReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		sendLatest(ch, rep)
	}
}

func sendLatest(ch chan TickReport, rep TickReport) {
	select {
	case ch <- rep:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- rep:
	default:
	}
}
