// Package lod gates per-agent AI work by combat state and distance to the nearest observer.
package lod

import (
	"math"
	"sync"

	"guardsim.ai/internal/sim/model"
	"guardsim.ai/internal/sim/tuning"
)

// Suspended is the interval reported for agents that are not ticked at all.
const Suspended = math.MaxInt32

// State is the scheduling bookkeeping kept per agent.
type State struct {
	LastUpdateTick     uint64
	LastThreatScanTick uint64
	IntervalTicks      int
	ScanIntervalTicks  int
	InCombat           bool
	CombatStartTick    uint64

	// ObserverDistSq is negative until the first observer scan.
	ObserverDistSq    float64
	DistanceCacheTick uint64
}

type agentState struct {
	mu sync.Mutex
	State
}

type Scheduler struct {
	world model.World
	cfg   tuning.Scheduler

	mu     sync.RWMutex
	states map[model.ID]*agentState
}

func New(w model.World, cfg tuning.Scheduler) *Scheduler {
	return &Scheduler{
		world:  w,
		cfg:    cfg,
		states: map[model.ID]*agentState{},
	}
}

func (s *Scheduler) state(id model.ID, now uint64) *agentState {
	s.mu.RLock()
	st := s.states[id]
	s.mu.RUnlock()
	if st != nil {
		return st
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st = s.states[id]; st != nil {
		return st
	}
	st = &agentState{State: State{
		LastUpdateTick:     now,
		LastThreatScanTick: now,
		IntervalTicks:      s.cfg.CloseInterval,
		ScanIntervalTicks:  s.cfg.CloseScanInterval,
		ObserverDistSq:     -1,
	}}
	s.states[id] = st
	return st
}

// ShouldUpdateAI reports whether the agent's behaviour goals run this tick.
// A true result stamps the tick, so a second call in the same tick returns false.
func (s *Scheduler) ShouldUpdateAI(id model.ID) bool {
	now := s.world.CurrentTick()
	st := s.state(id, now)
	st.mu.Lock()
	defer st.mu.Unlock()

	iv := s.aiInterval(id, st, now)
	st.IntervalTicks = iv
	if !due(now, st.LastUpdateTick, iv) {
		return false
	}
	st.LastUpdateTick = now
	return true
}

// ShouldDetectThreats is ShouldUpdateAI for the (costlier) threat scan.
func (s *Scheduler) ShouldDetectThreats(id model.ID) bool {
	now := s.world.CurrentTick()
	st := s.state(id, now)
	st.mu.Lock()
	defer st.mu.Unlock()

	iv := s.scanInterval(id, st, now)
	st.ScanIntervalTicks = iv
	if !due(now, st.LastThreatScanTick, iv) {
		return false
	}
	st.LastThreatScanTick = now
	return true
}

func (s *Scheduler) MarkCombatActive(id model.ID) {
	now := s.world.CurrentTick()
	st := s.state(id, now)
	st.mu.Lock()
	if !st.InCombat {
		st.CombatStartTick = now
	}
	st.InCombat = true
	st.mu.Unlock()
}

func (s *Scheduler) MarkCombatInactive(id model.ID) {
	now := s.world.CurrentTick()
	st := s.state(id, now)
	st.mu.Lock()
	st.InCombat = false
	st.mu.Unlock()
}

func (s *Scheduler) RemoveAgent(id model.ID) {
	s.mu.Lock()
	delete(s.states, id)
	s.mu.Unlock()
}

// CurrentIntervalTicks returns the AI interval assigned at the agent's last evaluation.
func (s *Scheduler) CurrentIntervalTicks(id model.ID) int {
	st := s.state(id, s.world.CurrentTick())
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.IntervalTicks
}

// Snapshot returns a copy of the agent's state without creating one.
func (s *Scheduler) Snapshot(id model.ID) (State, bool) {
	s.mu.RLock()
	st := s.states[id]
	s.mu.RUnlock()
	if st == nil {
		return State{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.State, true
}

func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

func due(now, last uint64, interval int) bool {
	if interval >= Suspended || now < last {
		return false
	}
	return now-last >= uint64(interval)
}

func (s *Scheduler) aiInterval(id model.ID, st *agentState, now uint64) int {
	if s.inCombat(id, st) {
		return s.cfg.CombatInterval
	}
	switch s.band(id, st, now) {
	case 0:
		return s.cfg.CloseInterval
	case 1:
		return s.cfg.MediumInterval
	case 2:
		return s.cfg.FarInterval
	default:
		return Suspended
	}
}

func (s *Scheduler) scanInterval(id model.ID, st *agentState, now uint64) int {
	if s.inCombat(id, st) {
		return s.cfg.CombatScanInterval
	}
	switch s.band(id, st, now) {
	case 0:
		return s.cfg.CloseScanInterval
	case 1:
		return s.cfg.MediumScanInterval
	case 2:
		return s.cfg.FarScanInterval
	default:
		return Suspended
	}
}

// inCombat is the explicit flag or a live target; a target alone never sets the flag.
func (s *Scheduler) inCombat(id model.ID, st *agentState) bool {
	if st.InCombat {
		return true
	}
	e, ok := s.world.Entity(id)
	if !ok || !e.HasTarget() {
		return false
	}
	t, ok := s.world.Entity(e.Target)
	return ok && t.Alive
}

// band classifies the nearest observer: 0 close, 1 medium, 2 far, 3 out of range.
func (s *Scheduler) band(id model.ID, st *agentState, now uint64) int {
	d := s.observerDistSq(id, st, now)
	switch {
	case d < s.cfg.CloseDistance*s.cfg.CloseDistance:
		return 0
	case d < s.cfg.MediumDistance*s.cfg.MediumDistance:
		return 1
	case d < s.cfg.FarDistance*s.cfg.FarDistance:
		return 2
	default:
		return 3
	}
}

func (s *Scheduler) observerDistSq(id model.ID, st *agentState, now uint64) float64 {
	if st.ObserverDistSq >= 0 && now >= st.DistanceCacheTick &&
		now-st.DistanceCacheTick < uint64(s.cfg.ObserverCacheTicks) {
		return st.ObserverDistSq
	}
	best := math.Inf(1)
	if e, ok := s.world.Entity(id); ok {
		for _, p := range s.world.NearbyObservers(e.Pos, s.cfg.FarDistance) {
			if d := e.Pos.DistSq(p); d < best {
				best = d
			}
		}
	}
	st.ObserverDistSq = best
	st.DistanceCacheTick = now
	return best
}
