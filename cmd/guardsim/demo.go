package main

import (
	"log"
	"math"
	"math/rand"

	"guardsim.ai/internal/persistence/snapshot"
	"guardsim.ai/internal/sim/model"
	"guardsim.ai/internal/sim/rank"
	"guardsim.ai/internal/sim/sandbox"
	"guardsim.ai/internal/sim/world"
)

const (
	hostileSpeed = 0.15
	hostileReach = 1.5
	guardSpeed   = 0.3
	guardReach   = 2.0
	spawnRadius  = 28.0

	incomePerTick   = 1
	shopEveryTicks  = 200
	powerTargetGain = 0.25
)

// demo drives a small village in the sandbox: hostiles wander in and attack,
// guards respond through the world session, and the player buys promotions.
type demo struct {
	sb     *sandbox.World
	w      *world.World
	rng    *rand.Rand
	log    *log.Logger
	plan   planner
	player model.ID
	seed   int64

	hostiles  int
	villagers int
	guardCap  int
	guards    []model.ID
}

type demoConfig struct {
	Guards    int
	Villagers int
	Hostiles  int
}

// newDemo populates the sandbox. A non-nil snap brings back the player and the
// guard roster it recorded; villagers and hostiles are always fresh.
func newDemo(sb *sandbox.World, w *world.World, cfg demoConfig, seed int64, snap *snapshot.SnapshotV1, logger *log.Logger) *demo {
	d := &demo{
		sb:       sb,
		w:        w,
		rng:      rand.New(rand.NewSource(seed)),
		log:      logger,
		seed:      seed,
		hostiles:  cfg.Hostiles,
		villagers: cfg.Villagers,
		guardCap:  cfg.Guards,
	}
	d.plan = planner{rng: rand.New(rand.NewSource(seed + 1))}
	d.refillVillagers()
	if snap != nil {
		d.restore(*snap)
	} else {
		d.player = sb.Spawn(model.KindPlayer, model.Vec3{})
	}
	d.refillGuards()
	d.refillHostiles()
	return d
}

var guardRoles = []model.Role{model.RolePatrol, model.RoleGuard, model.RoleFollow}

// refillGuards recruits fresh tier 0 guards up to the configured count.
func (d *demo) refillGuards() {
	for i := len(d.guards); i < d.guardCap; i++ {
		g := d.sb.Spawn(model.KindGuard, d.ring(2, 10))
		d.w.SetRole(g, guardRoles[i%len(guardRoles)])
		d.guards = append(d.guards, g)
	}
}

func (d *demo) refillVillagers() {
	for n := len(d.sb.IDs(model.KindVillager)); n < d.villagers; n++ {
		d.sb.Spawn(model.KindVillager, d.ring(4, 16))
	}
}

func (d *demo) restore(snap snapshot.SnapshotV1) {
	d.player = d.sb.SpawnWithID(snap.PlayerID, model.KindPlayer, model.Vec3{})
	d.sb.Grant(d.player, snap.Balance)
	for _, g := range snap.Guards {
		d.sb.SpawnWithID(g.ID, model.KindGuard, g.Pos)
		d.w.SetRole(g.ID, model.ParseRole(g.Role))
		d.w.Ranks().Restore(g.ID, g.Rank)
		d.guards = append(d.guards, g.ID)
	}
	if d.log != nil {
		d.log.Printf("demo: restored %d guard(s) from tick %d", len(snap.Guards), snap.Header.Tick)
	}
}

// capture records the player and guard roster at the current tick.
func (d *demo) capture() snapshot.SnapshotV1 {
	info := d.w.Info()
	snap := snapshot.SnapshotV1{
		Header:        snapshot.Header{Version: snapshot.Version, WorldID: info.WorldID, Tick: info.Tick},
		Seed:          d.seed,
		TickRate:      info.TickRateHz,
		CatalogDigest: info.CatalogDigest,
		PlayerID:      d.player,
		Balance:       d.sb.Balance(d.player),
	}
	for _, g := range d.guards {
		e, ok := d.sb.Entity(g)
		if !ok {
			continue
		}
		snap.Guards = append(snap.Guards, snapshot.GuardV1{
			ID:   g,
			Pos:  e.Pos,
			Role: d.w.Role(g).String(),
			Rank: d.w.Ranks().Get(g).Snapshot(),
		})
	}
	return snap
}

func (d *demo) ring(lo, hi float64) model.Vec3 {
	a := d.rng.Float64() * 2 * math.Pi
	r := lo + d.rng.Float64()*(hi-lo)
	return model.Vec3{X: math.Cos(a) * r, Z: math.Sin(a) * r}
}

// step advances the sandbox by one tick. world.Run calls OnTick afterwards.
func (d *demo) step() {
	d.sb.Advance(1)
	d.sb.ResetEffects()
	d.sb.Grant(d.player, incomePerTick)

	for _, a := range d.sb.StepHostiles(d.rng, hostileSpeed, hostileReach) {
		d.w.RegisterAttackEvent(a.Victim, a.Attacker)
	}
	for _, g := range d.guards {
		d.act(g, d.w.UpdateGuard(g, d.plan))
	}
	d.reapHostiles()
	d.reapCasualties()
	d.refillHostiles()
	d.refillVillagers()
	d.refillGuards()

	if d.sb.CurrentTick()%shopEveryTicks == 0 {
		d.shop()
	}
}

func (d *demo) act(g model.ID, dec world.Decision) {
	if dec.Action != world.ActionEngage && dec.Action != world.ActionPatrol {
		return
	}
	self, ok := d.sb.Entity(g)
	if !ok {
		return
	}
	if dec.Action == world.ActionEngage {
		t, ok := d.sb.Entity(dec.Target)
		if ok && t.Alive && self.Pos.DistSq(t.Pos) <= guardReach*guardReach {
			d.sb.Damage(t.ID, g, d.w.Stats(g).AttackDamage)
			d.w.TriggerAbility(g, t.ID)
			return
		}
	}
	d.sb.Move(g, stepToward(self.Pos, dec.Waypoint, guardSpeed))
}

func stepToward(from, to model.Vec3, speed float64) model.Vec3 {
	delta := to.Sub(from)
	if delta.Dot(delta) <= speed*speed {
		return to
	}
	return from.Add(delta.Normalize().Scale(speed))
}

func (d *demo) reapHostiles() {
	for _, id := range d.sb.IDs(model.KindHostile) {
		if e, ok := d.sb.Entity(id); ok && !e.Alive {
			d.sb.Remove(id)
		}
	}
}

// reapCasualties clears fallen guards out of the world session and the sandbox.
// The player respawns at the village centre with its wallet intact.
func (d *demo) reapCasualties() {
	kept := d.guards[:0]
	for _, g := range d.guards {
		if e, ok := d.sb.Entity(g); ok && e.Alive {
			kept = append(kept, g)
			continue
		}
		if d.log != nil {
			p := d.w.Ranks().Get(g)
			d.log.Printf("demo: guard %s fell at tier %d (%.2f power per coin)",
				g, p.CurrentTier(), d.w.Ranks().Graph().InvestmentValue(p))
		}
		d.w.OnAgentRemoved(g)
		d.sb.Remove(g)
	}
	d.guards = kept

	for _, id := range d.sb.IDs(model.KindVillager) {
		if e, ok := d.sb.Entity(id); ok && !e.Alive {
			d.sb.Remove(id)
		}
	}
	if e, ok := d.sb.Entity(d.player); ok && !e.Alive {
		d.sb.SpawnWithID(d.player, model.KindPlayer, model.Vec3{})
	}
}

func (d *demo) refillHostiles() {
	for n := len(d.sb.IDs(model.KindHostile)); n < d.hostiles; n++ {
		d.sb.Spawn(model.KindHostile, d.ring(spawnRadius-8, spawnRadius))
	}
}

// shop buys the best-value promotion for the weakest guard the player can afford.
func (d *demo) shop() {
	g := d.weakestGuard()
	if g == model.Nil {
		return
	}
	graph := d.w.Ranks().Graph()
	cur := d.w.Ranks().Get(g).Current().ID
	rec, ok := graph.RecommendUpgrade(cur, d.sb.Balance(d.player), powerTargetGain)
	if !ok {
		return
	}
	if err := d.w.Purchase(g, d.player, rec.Rank); err != nil && d.log != nil {
		d.log.Printf("demo: purchase %s: %v", rec.Rank, err)
	}
}

func (d *demo) weakestGuard() model.ID {
	best, bestTier := model.Nil, rank.MaxTier
	for _, g := range d.guards {
		if t := d.w.Tier(g); t < bestTier {
			best, bestTier = g, t
		}
	}
	return best
}

// planner stands in for the host's path finder: straight lines and random patrol points.
type planner struct {
	rng *rand.Rand
}

func (p planner) Patrol(pos model.Vec3) (model.Vec3, bool) {
	a := p.rng.Float64() * 2 * math.Pi
	r := 4 + p.rng.Float64()*8
	return pos.Add(model.Vec3{X: math.Cos(a) * r, Z: math.Sin(a) * r}), true
}

func (p planner) Step(_, goal model.Vec3) (model.Vec3, bool) { return goal, true }
