// Package sandbox is a small in-memory world that implements the collaborator
// interfaces of the guard core. It backs the guardsim binary and the tests.
package sandbox

import (
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"guardsim.ai/internal/sim/model"
)

type pair struct{ a, b model.ID }

type Impulse struct {
	Target  model.ID
	Impulse model.Vec3
}

type Shot struct {
	From model.ID
	At   model.ID
}

type Hit struct {
	Target model.ID
	Source model.ID
	Amount float64
}

// Attack is a hit landed by a hostile during StepHostiles.
type Attack struct {
	Attacker model.ID
	Victim   model.ID
}

type World struct {
	mu sync.RWMutex

	tick     uint64
	entities map[model.ID]*model.Entity
	health   map[model.ID]float64
	order    []model.ID
	blocked  map[pair]bool
	wallets  map[model.ID]int

	impulses []Impulse
	shots    []Shot
	hits     []Hit
}

func New() *World {
	return &World{
		entities: map[model.ID]*model.Entity{},
		health:   map[model.ID]float64{},
		blocked:  map[pair]bool{},
		wallets:  map[model.ID]int{},
	}
}

func (w *World) Spawn(kind model.Kind, pos model.Vec3) model.ID {
	return w.SpawnWithID(uuid.New(), kind, pos)
}

func (w *World) SpawnWithID(id model.ID, kind model.Kind, pos model.Vec3) model.ID {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.entities[id]; !ok {
		w.order = append(w.order, id)
	}
	w.entities[id] = &model.Entity{ID: id, Kind: kind, Pos: pos, Alive: true}
	w.health[id] = 20
	return id
}

func (w *World) Move(id model.ID, pos model.Vec3) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e := w.entities[id]; e != nil {
		e.Pos = pos
	}
}

func (w *World) Kill(id model.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e := w.entities[id]; e != nil {
		e.Alive = false
	}
}

// Remove forgets the entity entirely, as if it vanished from the world.
func (w *World) Remove(id model.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.entities, id)
	delete(w.health, id)
	for i, o := range w.order {
		if o == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

func (w *World) SetLastAttacker(id, attacker model.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e := w.entities[id]; e != nil {
		e.LastAttacker = attacker
	}
}

func (w *World) ClearTarget(id model.ID) { w.SetTarget(id, model.Nil) }

// BlockSight makes CanPerceive(a, b) false.
func (w *World) BlockSight(a, b model.ID) {
	w.mu.Lock()
	w.blocked[pair{a, b}] = true
	w.mu.Unlock()
}

func (w *World) Advance(n uint64) {
	w.mu.Lock()
	w.tick += n
	w.mu.Unlock()
}

func (w *World) SetTick(t uint64) {
	w.mu.Lock()
	w.tick = t
	w.mu.Unlock()
}

func (w *World) IDs(kind model.Kind) []model.ID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []model.ID
	for _, id := range w.order {
		if e := w.entities[id]; e != nil && e.Kind == kind {
			out = append(out, id)
		}
	}
	return out
}

// model.World

func (w *World) CurrentTick() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tick
}

func (w *World) Entity(id model.ID) (model.Entity, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	e := w.entities[id]
	if e == nil {
		return model.Entity{}, false
	}
	return *e, true
}

func (w *World) NearbyObservers(pos model.Vec3, radius float64) []model.Vec3 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r2 := radius * radius
	var out []model.Vec3
	for _, id := range w.order {
		e := w.entities[id]
		if e == nil || !e.Alive || e.Kind != model.KindPlayer {
			continue
		}
		if e.Pos.DistSq(pos) <= r2 {
			out = append(out, e.Pos)
		}
	}
	return out
}

func (w *World) LivingEntitiesNear(pos model.Vec3, radius float64, keep func(model.Entity) bool) []model.Entity {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r2 := radius * radius
	var out []model.Entity
	for _, id := range w.order {
		e := w.entities[id]
		if e == nil || !e.Alive || e.Pos.DistSq(pos) > r2 {
			continue
		}
		if keep != nil && !keep(*e) {
			continue
		}
		out = append(out, *e)
	}
	return out
}

func (w *World) CanPerceive(agent, entity model.ID) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return !w.blocked[pair{agent, entity}]
}

func (w *World) SetTarget(agent, target model.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if e := w.entities[agent]; e != nil {
		e.Target = target
	}
}

// model.Ledger

func (w *World) Grant(actor model.ID, amount int) {
	w.mu.Lock()
	w.wallets[actor] += amount
	w.mu.Unlock()
}

func (w *World) Balance(actor model.ID) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.wallets[actor]
}

func (w *World) Deduct(actor model.ID, amount int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if amount < 0 || w.wallets[actor] < amount {
		return false
	}
	w.wallets[actor] -= amount
	return true
}

// model.EffectSink

func (w *World) ApplyImpulse(target model.ID, impulse model.Vec3) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.impulses = append(w.impulses, Impulse{Target: target, Impulse: impulse})
	if e := w.entities[target]; e != nil {
		e.Pos = e.Pos.Add(impulse)
	}
}

func (w *World) FireProjectile(from, at model.ID) {
	w.mu.Lock()
	w.shots = append(w.shots, Shot{From: from, At: at})
	w.mu.Unlock()
}

func (w *World) Damage(target, source model.ID, amount float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hits = append(w.hits, Hit{Target: target, Source: source, Amount: amount})
	if e := w.entities[target]; e != nil {
		w.hurtLocked(e, source, amount)
	}
}

// hurtLocked applies amount to a living entity, which dies at zero health.
func (w *World) hurtLocked(e *model.Entity, source model.ID, amount float64) {
	if !e.Alive {
		return
	}
	e.LastAttacker = source
	w.health[e.ID] -= amount
	if w.health[e.ID] <= 0 {
		e.Alive = false
	}
}

func (w *World) Impulses() []Impulse {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Impulse(nil), w.impulses...)
}

func (w *World) Shots() []Shot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Shot(nil), w.shots...)
}

func (w *World) Hits() []Hit {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Hit(nil), w.hits...)
}

// ResetEffects forgets the recorded impulses, shots and hits.
func (w *World) ResetEffects() {
	w.mu.Lock()
	w.impulses, w.shots, w.hits = nil, nil, nil
	w.mu.Unlock()
}

const hostileHit = 1.0

// StepHostiles moves every live hostile one step toward its target (or the nearest
// protected entity, which becomes its target) and returns the hits landed this step.
// Victims die when their health runs out, exactly as with Damage.
func (w *World) StepHostiles(rng *rand.Rand, speed, reach float64) []Attack {
	w.mu.Lock()
	defer w.mu.Unlock()

	var attacks []Attack
	for _, id := range w.order {
		h := w.entities[id]
		if h == nil || !h.Alive || h.Kind != model.KindHostile {
			continue
		}
		target := w.entities[h.Target]
		if target == nil || !target.Alive {
			target = w.nearestProtectedLocked(h.Pos, 24)
			if target == nil {
				h.Target = model.Nil
				h.Pos = h.Pos.Add(model.Vec3{X: rng.Float64()*2 - 1, Z: rng.Float64()*2 - 1})
				continue
			}
			h.Target = target.ID
		}
		d := target.Pos.Sub(h.Pos)
		if d.Dot(d) <= reach*reach {
			w.hurtLocked(target, h.ID, hostileHit)
			attacks = append(attacks, Attack{Attacker: h.ID, Victim: target.ID})
			continue
		}
		h.Pos = h.Pos.Add(d.Normalize().Scale(speed))
	}
	return attacks
}

func (w *World) nearestProtectedLocked(pos model.Vec3, radius float64) *model.Entity {
	var best *model.Entity
	bestD := radius * radius
	for _, id := range w.order {
		e := w.entities[id]
		if e == nil || !e.Alive || !e.Kind.Protected() {
			continue
		}
		if d := e.Pos.DistSq(pos); d <= bestD {
			best, bestD = e, d
		}
	}
	return best
}
