package observer

import (
	"encoding/json"
	"log"
	"sync"
	"sync/atomic"

	"guardsim.ai/internal/observerproto"
	"guardsim.ai/internal/sim/threat"
	"guardsim.ai/internal/sim/world"
)

type session struct {
	id  string
	out chan []byte

	mu          sync.Mutex
	streams     map[string]bool
	minPriority threat.Priority

	dropped atomic.Uint64
}

func (s *session) configure(sub observerproto.SubscribeMsg) {
	streams := sub.Streams
	if len(streams) == 0 {
		streams = observerproto.DefaultStreams
	}
	m := make(map[string]bool, len(streams))
	for _, name := range streams {
		m[name] = true
	}
	var floor threat.Priority
	if sub.MinPriority != "" {
		if err := floor.UnmarshalText([]byte(sub.MinPriority)); err != nil {
			floor = threat.None
		}
	}
	s.mu.Lock()
	s.streams = m
	s.minPriority = floor
	s.mu.Unlock()
}

func (s *session) wants(stream string, p threat.Priority) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streams[stream] {
		return false
	}
	if stream != observerproto.StreamThreat && stream != observerproto.StreamScan {
		return true
	}
	return threat.Compare(p, s.minPriority) >= 0
}

// Hub fans world events out to connected operator sessions. A session whose
// queue is full misses the message; the tick goroutine never blocks on a client.
type Hub struct {
	log *log.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewHub(logger *log.Logger) *Hub {
	return &Hub{log: logger, sessions: map[string]*session{}}
}

func (h *Hub) add(s *session) {
	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

// Len returns the number of connected sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) broadcast(stream string, p threat.Priority, v any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.sessions) == 0 {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		if h.log != nil {
			h.log.Printf("observer: marshal %s: %v", stream, err)
		}
		return
	}
	for _, s := range h.sessions {
		if !s.wants(stream, p) {
			continue
		}
		select {
		case s.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

func (h *Hub) OnThreat(e world.ThreatEvent) {
	stream := observerproto.StreamThreat
	if e.Source == world.ThreatSourceScan {
		stream = observerproto.StreamScan
	}
	h.broadcast(stream, e.Record.Priority, observerproto.ThreatMsg{
		Type:            observerproto.TypeThreat,
		ProtocolVersion: observerproto.Version,
		Event:           e,
	})
}

func (h *Hub) OnPurchase(e world.PurchaseEvent) {
	h.broadcast(observerproto.StreamPurchase, threat.None, observerproto.PurchaseResultMsg{
		Type:            observerproto.TypePurchaseResult,
		ProtocolVersion: observerproto.Version,
		Event:           e,
	})
}

func (h *Hub) OnReport(e world.ReportEvent) {
	h.broadcast(observerproto.StreamPerf, threat.None, observerproto.PerfReportMsg{
		Type:            observerproto.TypePerfReport,
		ProtocolVersion: observerproto.Version,
		WorldID:         e.WorldID,
		Tick:            e.Tick,
		Report:          e.Report,
	})
}
