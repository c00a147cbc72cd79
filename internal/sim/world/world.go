// Package world is the per-world session handle that owns the guard AI
// components and wires them to the host simulation.
package world

import (
	"context"
	"errors"
	"io"
	"log"
	"math/rand"
	"sync"
	"time"

	"guardsim.ai/internal/sim/lod"
	"guardsim.ai/internal/sim/model"
	"guardsim.ai/internal/sim/pathcache"
	"guardsim.ai/internal/sim/perf"
	"guardsim.ai/internal/sim/rank"
	"guardsim.ai/internal/sim/threat"
	"guardsim.ai/internal/sim/tuning"
)

type WorldConfig struct {
	ID     string
	Tuning tuning.Tuning
	Seed   int64
}

// Host bundles the collaborator interfaces supplied by the surrounding simulation.
type Host struct {
	World   model.World
	Ledger  model.Ledger
	Effects model.EffectSink
}

type World struct {
	cfg    WorldConfig
	host   Host
	logger *log.Logger

	scheduler *lod.Scheduler
	threats   *threat.Registry
	paths     *pathcache.Cache
	ranks     *rank.Store
	monitor   *perf.Monitor

	rolesMu sync.RWMutex
	roles   map[model.ID]model.Role

	primaryMu sync.Mutex
	primary   map[model.ID]model.ID

	sinksMu sync.RWMutex
	sinks   []Sink

	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(cfg WorldConfig, host Host, graph *rank.Graph, logger *log.Logger) (*World, error) {
	if host.World == nil {
		return nil, errors.New("world: host world is required")
	}
	if graph == nil {
		return nil, errors.New("world: rank graph is required")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	cfg.Tuning.Normalize()
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		cfg.ID = "GLOBAL"
	}

	w := &World{
		cfg:     cfg,
		host:    host,
		logger:  logger,
		roles:   map[model.ID]model.Role{},
		primary: map[model.ID]model.ID{},
		rng:     rand.New(rand.NewSource(cfg.Seed)),
	}
	w.scheduler = lod.New(host.World, cfg.Tuning.Scheduler)
	w.threats = threat.New(host.World, cfg.Tuning.Threat, w, logger)
	w.threats.SetAlertHook(func(guard, _ model.ID) { w.scheduler.MarkCombatActive(guard) })
	w.paths = pathcache.New(cfg.Tuning.PathCache)
	w.ranks = rank.NewStore(graph, logger)
	w.monitor = perf.New(cfg.Tuning.Monitor)
	return w, nil
}

func (w *World) ID() string { return w.cfg.ID }

func (w *World) Tuning() tuning.Tuning { return w.cfg.Tuning }

func (w *World) Scheduler() *lod.Scheduler { return w.scheduler }
func (w *World) Threats() *threat.Registry { return w.threats }
func (w *World) Paths() *pathcache.Cache   { return w.paths }
func (w *World) Ranks() *rank.Store        { return w.ranks }
func (w *World) Monitor() *perf.Monitor    { return w.monitor }

// AddSink registers s for every subsequent event.
func (w *World) AddSink(s Sink) {
	if s == nil {
		return
	}
	w.sinksMu.Lock()
	w.sinks = append(w.sinks, s)
	w.sinksMu.Unlock()
}

func (w *World) eachSink(fn func(Sink)) {
	w.sinksMu.RLock()
	sinks := w.sinks
	w.sinksMu.RUnlock()
	for _, s := range sinks {
		func() {
			defer func() {
				if p := recover(); p != nil {
					w.logger.Printf("world: sink %T panicked: %v", s, p)
				}
			}()
			fn(s)
		}()
	}
}

// Tier and Role make the session the threat registry's profile source.
func (w *World) Tier(agent model.ID) int { return w.ranks.Tier(agent) }

func (w *World) Role(agent model.ID) model.Role {
	w.rolesMu.RLock()
	defer w.rolesMu.RUnlock()
	return w.roles[agent]
}

func (w *World) SetRole(agent model.ID, role model.Role) {
	w.rolesMu.Lock()
	w.roles[agent] = role
	w.rolesMu.Unlock()
}

// ShouldUpdateAI gates the agent's behaviour goals for this tick.
func (w *World) ShouldUpdateAI(agent model.ID) bool {
	ok := w.scheduler.ShouldUpdateAI(agent)
	if ok {
		w.monitor.RecordAIUpdate()
	} else {
		w.monitor.RecordSkippedAIUpdate()
	}
	return ok
}

func (w *World) ShouldDetectThreats(agent model.ID) bool {
	ok := w.scheduler.ShouldDetectThreats(agent)
	if ok {
		w.monitor.RecordThreatScan()
	} else {
		w.monitor.RecordSkippedThreatScan()
	}
	return ok
}

func (w *World) MarkCombatActive(agent model.ID)   { w.scheduler.MarkCombatActive(agent) }
func (w *World) MarkCombatInactive(agent model.ID) { w.scheduler.MarkCombatInactive(agent) }
func (w *World) CurrentIntervalTicks(agent model.ID) int {
	return w.scheduler.CurrentIntervalTicks(agent)
}

// DetectPrimaryThreat asks the registry for the agent's most urgent threat using
// its tier and role range. A change of primary threat is reported to sinks.
func (w *World) DetectPrimaryThreat(agent model.ID) (threat.Record, bool) {
	start := time.Now()
	rng := w.threats.Range(agent)
	rec, ok := w.threats.DetectPrimaryThreat(agent, rng)
	w.monitor.RecordMetric("threat_detect_us", float64(time.Since(start).Microseconds()))

	w.primaryMu.Lock()
	prev, had := w.primary[agent]
	switch {
	case ok:
		w.primary[agent] = rec.ThreatID
	case had:
		delete(w.primary, agent)
	}
	w.primaryMu.Unlock()

	if ok && (!had || prev != rec.ThreatID) {
		tier := w.ranks.Tier(agent)
		ev := ThreatEvent{
			WorldID:       w.cfg.ID,
			Tick:          w.host.World.CurrentTick(),
			Source:        ThreatSourceScan,
			AgentID:       agent,
			Range:         rng,
			ResponseSpeed: threat.ResponseSpeed(tier),
			Record:        rec,
		}
		w.eachSink(func(s Sink) { s.OnThreat(ev) })
	}
	return rec, ok
}

func (w *World) AllThreats(agent model.ID) []threat.Record {
	return w.threats.AllThreats(agent, w.threats.Range(agent))
}

// RegisterAttackEvent is safe to call from any goroutine. Idle guards near the
// victim are pointed at the attacker before it returns.
func (w *World) RegisterAttackEvent(victim, attacker model.ID) {
	alert, ok := w.threats.RegisterAttackEvent(victim, attacker)
	if !ok {
		return
	}
	if len(alert.Guards) > 0 {
		w.logger.Printf("threat: %s on %s alerted %d guard(s)", alert.Record.Priority, victim, len(alert.Guards))
	}
	ev := ThreatEvent{
		WorldID: w.cfg.ID,
		Tick:    w.host.World.CurrentTick(),
		Source:  ThreatSourceAttack,
		Record:  alert.Record,
		Alerted: alert.Guards,
	}
	w.eachSink(func(s Sink) { s.OnThreat(ev) })
}

// OnAgentRemoved drops every piece of per-agent state.
func (w *World) OnAgentRemoved(agent model.ID) {
	w.scheduler.RemoveAgent(agent)
	w.threats.Forget(agent)
	w.paths.Invalidate(agent)
	w.ranks.Remove(agent)
	w.rolesMu.Lock()
	delete(w.roles, agent)
	w.rolesMu.Unlock()
	w.primaryMu.Lock()
	delete(w.primary, agent)
	w.primaryMu.Unlock()
}

// OnTick flushes the performance report when its interval has elapsed.
func (w *World) OnTick() (perf.Report, bool) {
	now := w.host.World.CurrentTick()
	r, ok := w.monitor.Tick(now)
	if !ok {
		return perf.Report{}, false
	}
	r.PathCache = w.paths.ResetStats()
	w.logger.Printf("perf: world=%s ticks=%d-%d ai=%d skipped=%d (%.1f%%) scans=%d skipped=%d (%.1f%%) path_hit=%.2f",
		w.cfg.ID, r.FromTick, r.ToTick,
		r.AIUpdates, r.AISkipped, r.AIReductionPct,
		r.ThreatScans, r.ScansSkipped, r.ScanReductionPct,
		r.PathCache.HitRate())
	ev := ReportEvent{WorldID: w.cfg.ID, Tick: now, Report: r}
	w.eachSink(func(s Sink) { s.OnReport(ev) })
	return r, true
}

// Purchase buys rank for agent, paid from actor's balance in the host ledger.
func (w *World) Purchase(agent, actor model.ID, target rank.ID) error {
	if w.host.Ledger == nil {
		return errors.New("world: no ledger configured")
	}
	p := w.ranks.Get(agent)
	err := p.Buy(target, w.host.Ledger, actor)

	ev := PurchaseEvent{
		WorldID: w.cfg.ID,
		Tick:    w.host.World.CurrentTick(),
		AgentID: agent,
		ActorID: actor,
		Rank:    string(target),
		OK:      err == nil,
		Reason:  rank.Reason(err),
	}
	if err == nil {
		n := p.Current()
		ev.Tier, ev.Path, ev.Cost, ev.Spent = n.Tier, n.Path.String(), n.Cost, p.Spent()
		w.logger.Printf("rank: %s promoted to %s (tier %d, spent %d)", agent, n.Label, n.Tier, ev.Spent)
	}
	w.eachSink(func(s Sink) { s.OnPurchase(ev) })
	return err
}

func (w *World) Stats(agent model.ID) rank.Stats {
	return w.ranks.Graph().Stats(w.ranks.Get(agent).Current().ID)
}

// PathTarget serves the movement target from cache, falling back to compute.
func (w *World) PathTarget(agent model.ID, from, goal model.Vec3, compute func(from, goal model.Vec3) (model.Vec3, bool)) (model.Vec3, bool) {
	now := w.host.World.CurrentTick()
	if res, ok := w.paths.CachedPath(agent, from, goal, now); ok {
		return res, true
	}
	start := time.Now()
	res, ok := compute(from, goal)
	w.monitor.RecordMetric("path_compute_us", float64(time.Since(start).Microseconds()))
	if ok {
		w.paths.CachePath(agent, from, goal, res, now)
	}
	return res, ok
}

// PatrolTarget serves the patrol destination from cache, falling back to pick.
func (w *World) PatrolTarget(agent model.ID, pos model.Vec3, pick func(pos model.Vec3) (model.Vec3, bool)) (model.Vec3, bool) {
	now := w.host.World.CurrentTick()
	if res, ok := w.paths.CachedPatrolPosition(agent, pos, now); ok {
		return res, true
	}
	res, ok := pick(pos)
	if ok {
		w.paths.CachePatrolPosition(agent, pos, res, now)
	}
	return res, ok
}

// TriggerAbility rolls the agent's rank ability against target and applies it on success.
func (w *World) TriggerAbility(agent, target model.ID) (rank.Outcome, bool) {
	if w.host.Effects == nil {
		return rank.Outcome{}, false
	}
	n := w.ranks.Get(agent).Current()
	if n.Ability == nil {
		return rank.Outcome{}, false
	}
	w.rngMu.Lock()
	hit := n.Ability.Roll(w.rng)
	w.rngMu.Unlock()
	if !hit {
		return rank.Outcome{}, false
	}
	out := n.Ability.Execute(w.host.World, w.host.Effects, agent, target, w.ranks.Graph().Stats(n.ID).AttackDamage)
	return out, true
}

// Run ticks at the configured rate, calling step and then OnTick, until ctx is done.
func (w *World) Run(ctx context.Context, step func()) error {
	interval := time.Second / time.Duration(w.cfg.Tuning.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if step != nil {
				step()
			}
			w.OnTick()
		}
	}
}

type Info struct {
	WorldID       string `json:"world_id"`
	Tick          uint64 `json:"tick"`
	TickRateHz    int    `json:"tick_rate_hz"`
	CatalogDigest string `json:"catalog_digest"`
	Threats       int    `json:"threats"`
	Scheduled     int    `json:"scheduled"`
}

func (w *World) Info() Info {
	return Info{
		WorldID:       w.cfg.ID,
		Tick:          w.host.World.CurrentTick(),
		TickRateHz:    w.cfg.Tuning.TickRateHz,
		CatalogDigest: w.ranks.Graph().Digest(),
		Threats:       w.threats.Len(),
		Scheduled:     w.scheduler.Len(),
	}
}
