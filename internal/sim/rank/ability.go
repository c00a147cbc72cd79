package rank

import (
	"fmt"
	"math/rand"
	"sort"

	"guardsim.ai/internal/sim/catalogs"
	"guardsim.ai/internal/sim/model"
)

type AbilityKind int

const (
	AbilityKnockback AbilityKind = iota + 1
	AbilityDoubleShot
	AbilityPiercingShot
)

func (k AbilityKind) String() string {
	switch k {
	case AbilityKnockback:
		return "KNOCKBACK"
	case AbilityDoubleShot:
		return "DOUBLE_SHOT"
	case AbilityPiercingShot:
		return "PIERCING_SHOT"
	default:
		return "NONE"
	}
}

type Ability struct {
	ID          string
	Kind        AbilityKind
	Name        string
	Description string
	Chance      float64

	Strength   float64 // knockback horizontal impulse
	Lift       float64 // knockback vertical impulse
	Range      float64 // secondary target search radius
	MaxTargets int     // piercing
	Falloff    float64 // piercing damage drop per extra target
	MinDot     float64 // piercing cone
}

func abilityFromDef(d catalogs.AbilityDef) (Ability, error) {
	a := Ability{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Chance:      d.Chance,
		Strength:    d.Strength,
		Lift:        d.Lift,
		Range:       d.Range,
		MaxTargets:  d.MaxTargets,
		Falloff:     d.Falloff,
		MinDot:      d.MinDot,
	}
	switch d.Kind {
	case "KNOCKBACK":
		a.Kind = AbilityKnockback
	case "DOUBLE_SHOT":
		a.Kind = AbilityDoubleShot
	case "PIERCING_SHOT":
		a.Kind = AbilityPiercingShot
	default:
		return Ability{}, fmt.Errorf("ability %q: unknown kind %q", d.ID, d.Kind)
	}
	return a, nil
}

// Roll draws once against the trigger chance.
func (a Ability) Roll(rng *rand.Rand) bool { return rng.Float64() < a.Chance }

// Outcome reports what an ability did.
type Outcome struct {
	Kind    AbilityKind
	Targets []model.ID
}

// Execute applies the ability from agent against its current target through fx.
// damage is the agent's attack damage, used by piercing. Nothing happens when the
// target is gone.
func (a Ability) Execute(w model.World, fx model.EffectSink, agent, target model.ID, damage float64) Outcome {
	out := Outcome{Kind: a.Kind}
	self, ok := w.Entity(agent)
	if !ok {
		return out
	}
	t, ok := w.Entity(target)
	if !ok || !t.Alive {
		return out
	}

	switch a.Kind {
	case AbilityKnockback:
		dir := t.Pos.Sub(self.Pos)
		dir.Y = 0
		dir = dir.Normalize()
		fx.ApplyImpulse(t.ID, model.Vec3{X: dir.X * a.Strength, Y: a.Lift, Z: dir.Z * a.Strength})
		out.Targets = []model.ID{t.ID}

	case AbilityDoubleShot:
		cands := w.LivingEntitiesNear(self.Pos, a.Range, func(e model.Entity) bool {
			return e.Kind == model.KindHostile && e.ID != t.ID && e.ID != self.ID
		})
		var best model.Entity
		bestD := a.Range * a.Range
		found := false
		for _, e := range cands {
			if !w.CanPerceive(self.ID, e.ID) {
				continue
			}
			if d := self.Pos.DistSq(e.Pos); d < bestD {
				best, bestD, found = e, d, true
			}
		}
		if found {
			fx.FireProjectile(self.ID, best.ID)
			out.Targets = []model.ID{best.ID}
		}

	case AbilityPiercingShot:
		dir := t.Pos.Sub(self.Pos).Normalize()
		cands := w.LivingEntitiesNear(t.Pos, a.Range, func(e model.Entity) bool {
			return e.Kind == model.KindHostile && e.ID != t.ID && e.ID != self.ID
		})
		sort.SliceStable(cands, func(i, j int) bool {
			return t.Pos.DistSq(cands[i].Pos) < t.Pos.DistSq(cands[j].Pos)
		})
		for _, e := range cands {
			if len(out.Targets) >= a.MaxTargets {
				break
			}
			if e.Pos.Sub(t.Pos).Normalize().Dot(dir) <= a.MinDot {
				continue
			}
			dmg := damage * (1 - a.Falloff*float64(len(out.Targets)))
			fx.Damage(e.ID, self.ID, dmg)
			out.Targets = append(out.Targets, e.ID)
		}
	}
	return out
}
