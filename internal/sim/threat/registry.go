// Package threat keeps the per-world table of hostile entities and picks the
// most urgent one for each guard.
package threat

import (
	"io"
	"log"
	"math"
	"sort"
	"sync"

	"guardsim.ai/internal/sim/model"
	"guardsim.ai/internal/sim/tuning"
)

// Record is the remembered observation of one hostile.
type Record struct {
	ThreatID     model.ID `json:"threat_id"`
	VictimID     model.ID `json:"victim_id"`
	Priority     Priority `json:"priority"`
	Kind         Kind     `json:"kind"`
	DistanceSq   float64  `json:"distance_sq"`
	LastSeenTick uint64   `json:"last_seen_tick"`
}

func (r Record) HasVictim() bool   { return r.VictimID != model.Nil }
func (r Record) Distance() float64 { return math.Sqrt(r.DistanceSq) }

// outranks orders records by priority, then by distance.
func outranks(a, b Record) bool {
	if c := Compare(a.Priority, b.Priority); c != 0 {
		return c > 0
	}
	return a.DistanceSq < b.DistanceSq
}

func sortRecords(rs []Record) {
	sort.SliceStable(rs, func(i, j int) bool { return outranks(rs[i], rs[j]) })
}

// Profiles supplies the progression tier and standing order of a guard.
type Profiles interface {
	Tier(agent model.ID) int
	Role(agent model.ID) model.Role
}

// Alert describes an attack event and the guards it pulled into combat.
type Alert struct {
	Record Record
	Guards []model.ID
}

type Registry struct {
	world    model.World
	cfg      tuning.Threat
	profiles Profiles
	logger   *log.Logger

	onAlert func(guard, threat model.ID)

	mu       sync.Mutex
	records  map[model.ID]Record
	lastScan map[model.ID]uint64
}

func New(w model.World, cfg tuning.Threat, profiles Profiles, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Registry{
		world:    w,
		cfg:      cfg,
		profiles: profiles,
		logger:   logger,
		records:  map[model.ID]Record{},
		lastScan: map[model.ID]uint64{},
	}
}

// SetAlertHook registers fn to run for every guard assigned a target by an attack event.
// It must be set before the registry is shared between goroutines.
func (r *Registry) SetAlertHook(fn func(guard, threat model.ID)) { r.onAlert = fn }

// Range is the detection radius for the agent's tier and role.
func (r *Registry) Range(agent model.ID) float64 {
	tier, role := 0, model.RolePatrol
	if r.profiles != nil {
		tier, role = r.profiles.Tier(agent), r.profiles.Role(agent)
	}
	base := r.cfg.BaseRange + r.cfg.RangePerTier*float64(tier)
	switch role {
	case model.RoleGuard:
		return base * r.cfg.GuardRangeMul
	case model.RoleFollow:
		return base * r.cfg.FollowRangeMul
	default:
		return base * r.cfg.PatrolRangeMul
	}
}

// DetectPrimaryThreat returns the most urgent live threat within range of the agent.
// A non-positive detectionRange uses Range(agent). Within the scan cooldown the
// answer comes from memory; otherwise nearby hostiles are rescanned first.
func (r *Registry) DetectPrimaryThreat(agent model.ID, detectionRange float64) (Record, bool) {
	self, ok := r.world.Entity(agent)
	if !ok || !self.Alive {
		return Record{}, false
	}
	if detectionRange <= 0 {
		detectionRange = r.Range(agent)
	}
	now := r.world.CurrentTick()

	r.mu.Lock()
	r.purgeLocked(now)
	last, scanned := r.lastScan[agent]
	cooling := scanned && now >= last && now-last < uint64(r.cfg.ScanCooldownTicks)
	if !cooling {
		r.lastScan[agent] = now
	}
	r.mu.Unlock()

	if !cooling {
		found := r.scan(self, detectionRange)
		r.mu.Lock()
		for _, rec := range found {
			rec.LastSeenTick = now
			if prev, ok := r.records[rec.ThreatID]; ok && r.keepsLocked(prev, rec, now) {
				continue
			}
			r.records[rec.ThreatID] = rec
		}
		r.mu.Unlock()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bestLocked(self, detectionRange)
}

// AllThreats scans around the agent without touching memory, most urgent first.
func (r *Registry) AllThreats(agent model.ID, detectionRange float64) []Record {
	self, ok := r.world.Entity(agent)
	if !ok || !self.Alive {
		return nil
	}
	if detectionRange <= 0 {
		detectionRange = r.Range(agent)
	}
	return r.scan(self, detectionRange)
}

// RegisterAttackEvent records a hostile hitting victim and, for critical
// priorities, points every idle guard near the victim at the attacker.
// It is safe to call from any goroutine.
func (r *Registry) RegisterAttackEvent(victim, attacker model.ID) (alert Alert, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Printf("threat: attack event victim=%s attacker=%s: recovered: %v", victim, attacker, p)
			alert, ok = Alert{}, false
		}
	}()

	a, found := r.world.Entity(attacker)
	if !found || !a.Alive || a.Kind != model.KindHostile {
		return Alert{}, false
	}
	v, found := r.world.Entity(victim)
	if !found {
		return Alert{}, false
	}
	p := ForVictim(v.Kind)
	if p == None {
		return Alert{}, false
	}
	rec := Record{
		ThreatID:     a.ID,
		VictimID:     v.ID,
		Priority:     p,
		Kind:         KindActiveAttack,
		DistanceSq:   a.Pos.DistSq(v.Pos),
		LastSeenTick: r.world.CurrentTick(),
	}
	r.mu.Lock()
	r.records[a.ID] = rec
	r.mu.Unlock()

	alert = Alert{Record: rec}
	if p.IsCritical() {
		alert.Guards = r.alertGuards(v, a.ID)
	}
	return alert, true
}

func (r *Registry) alertGuards(victim model.Entity, threat model.ID) []model.ID {
	guards := r.world.LivingEntitiesNear(victim.Pos, r.cfg.AlertRadius, func(e model.Entity) bool {
		return e.Kind == model.KindGuard
	})
	var alerted []model.ID
	for _, g := range guards {
		if r.hasLiveTarget(g) {
			continue
		}
		r.world.SetTarget(g.ID, threat)
		if r.onAlert != nil {
			r.onAlert(g.ID, threat)
		}
		alerted = append(alerted, g.ID)
	}
	return alerted
}

func (r *Registry) hasLiveTarget(e model.Entity) bool {
	if !e.HasTarget() {
		return false
	}
	t, ok := r.world.Entity(e.Target)
	return ok && t.Alive
}

// IsThreat reports whether the entity is currently remembered as a threat.
func (r *Registry) IsThreat(entity model.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.records[entity]
	return ok
}

func (r *Registry) ThreatInfo(entity model.ID) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[entity]
	return rec, ok
}

// Records returns every remembered threat, most urgent first.
func (r *Registry) Records() []Record {
	r.mu.Lock()
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	r.mu.Unlock()
	sortRecords(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Forget drops the agent's scan cooldown.
func (r *Registry) Forget(agent model.ID) {
	r.mu.Lock()
	delete(r.lastScan, agent)
	r.mu.Unlock()
}

func (r *Registry) Clear() {
	r.mu.Lock()
	r.records = map[model.ID]Record{}
	r.lastScan = map[model.ID]uint64{}
	r.mu.Unlock()
}

// Purge drops stale and dead threats. Detection passes call it implicitly.
func (r *Registry) Purge() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.purgeLocked(r.world.CurrentTick())
}

func (r *Registry) purgeLocked(now uint64) int {
	n := 0
	for id, rec := range r.records {
		stale := now > rec.LastSeenTick && now-rec.LastSeenTick > uint64(r.cfg.MemoryTicks)
		if e, ok := r.world.Entity(id); stale || !ok || !e.Alive {
			delete(r.records, id)
			n++
		}
	}
	return n
}

// keepsLocked reports whether a remembered active attack must survive a scan
// result for the same hostile. Only another active attack replaces it while it is
// inside the memory window.
func (r *Registry) keepsLocked(prev, next Record, now uint64) bool {
	if prev.Kind != KindActiveAttack || next.Kind == KindActiveAttack {
		return false
	}
	return now >= prev.LastSeenTick && now-prev.LastSeenTick <= uint64(r.cfg.MemoryTicks)
}

// bestLocked picks the most urgent remembered threat that is alive and within
// range of self. DistanceSq is measured from self.
func (r *Registry) bestLocked(self model.Entity, detectionRange float64) (Record, bool) {
	rangeSq := detectionRange * detectionRange
	var best Record
	found := false
	for id, rec := range r.records {
		e, ok := r.world.Entity(id)
		if !ok || !e.Alive {
			continue
		}
		d := self.Pos.DistSq(e.Pos)
		if d > rangeSq {
			continue
		}
		rec.DistanceSq = d
		if !found || outranks(rec, best) {
			best, found = rec, true
		}
	}
	return best, found
}

func (r *Registry) scan(self model.Entity, detectionRange float64) []Record {
	hostiles := r.world.LivingEntitiesNear(self.Pos, detectionRange, func(e model.Entity) bool {
		return e.Kind == model.KindHostile
	})
	if len(hostiles) == 0 {
		return nil
	}
	sort.SliceStable(hostiles, func(i, j int) bool {
		return self.Pos.DistSq(hostiles[i].Pos) < self.Pos.DistSq(hostiles[j].Pos)
	})

	rangeSq := detectionRange * detectionRange
	closeSq := r.cfg.CloseRange * r.cfg.CloseRange
	out := make([]Record, 0, r.cfg.MaxThreatsPerScan)
	for _, h := range hostiles {
		if len(out) >= r.cfg.MaxThreatsPerScan {
			break
		}
		d := self.Pos.DistSq(h.Pos)
		if d > rangeSq {
			continue
		}
		// Hostiles inside the close radius are sensed without line of sight.
		if d > closeSq && !r.world.CanPerceive(self.ID, h.ID) {
			continue
		}
		out = append(out, r.analyze(self, h, d, rangeSq, closeSq))
	}
	sortRecords(out)
	return out
}

func (r *Registry) analyze(self, hostile model.Entity, distSq, rangeSq, closeSq float64) Record {
	if v, ok := r.victimOf(hostile, rangeSq, closeSq); ok {
		return Record{
			ThreatID:   hostile.ID,
			VictimID:   v.ID,
			Priority:   ForVictim(v.Kind),
			Kind:       KindActiveAttack,
			DistanceSq: distSq,
		}
	}
	// Any protected entity near the hostile counts, not only the asking guard.
	near := len(r.world.LivingEntitiesNear(hostile.Pos, r.cfg.CloseRange, func(e model.Entity) bool {
		return e.ID != self.ID && e.Kind.Protected()
	})) > 0
	return Record{
		ThreatID:   hostile.ID,
		Priority:   ForProximity(distSq, closeSq, near),
		Kind:       KindProximity,
		DistanceSq: distSq,
	}
}

// victimOf prefers the hostile's live target within range, then whoever last hit it
// from within the close radius. Victims that guards do not protect are ignored.
func (r *Registry) victimOf(hostile model.Entity, rangeSq, closeSq float64) (model.Entity, bool) {
	if hostile.HasTarget() {
		if t, ok := r.world.Entity(hostile.Target); ok && t.Alive &&
			hostile.Pos.DistSq(t.Pos) <= rangeSq && ForVictim(t.Kind) != None {
			return t, true
		}
	}
	if hostile.LastAttacker != model.Nil {
		if a, ok := r.world.Entity(hostile.LastAttacker); ok && a.Alive &&
			hostile.Pos.DistSq(a.Pos) <= closeSq && ForVictim(a.Kind) != None {
			return a, true
		}
	}
	return model.Entity{}, false
}
