package rank

// Stats are the combat attributes a guard gets from its rank.
type Stats struct {
	MaxHealth           float64 `json:"max_health"`
	AttackDamage        float64 `json:"attack_damage"`
	MovementSpeed       float64 `json:"movement_speed"`
	KnockbackResistance float64 `json:"knockback_resistance"`
	Armor               float64 `json:"armor"`
	AttackSpeed         float64 `json:"attack_speed"`
	IsRanged            bool    `json:"is_ranged"`
	RangedDrawSpeed     float64 `json:"ranged_draw_speed"`
}

type span struct{ lo, hi float64 }

func (s span) at(f float64) float64 { return s.lo*(1-f) + s.hi*f }

type scaling struct {
	move      span // driven by damage
	knockback span // driven by health
	armor     span // driven by health
	atkSpeed  span // driven by damage
}

var (
	meleeScaling = scaling{
		move:      span{0.40, 0.60},
		knockback: span{0.2, 0.8},
		armor:     span{2, 10},
		atkSpeed:  span{1.0, 1.6},
	}
	rangedScaling = scaling{
		move:      span{0.55, 0.75},
		knockback: span{0.0, 0.3},
		armor:     span{0, 4},
		atkSpeed:  span{1.2, 2.0},
	}
)

const (
	baseMoveSpeed   = 0.4
	baseAttackSpeed = 1.0
)

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

// factor places v between lo and hi, clamped to [0,1].
func factor(v, lo, hi float64) float64 {
	if hi <= lo {
		if v >= hi {
			return 1
		}
		return 0
	}
	return clamp01((v - lo) / (hi - lo))
}

// Stats derives the combat attributes of a rank. Unknown ids get the base rank's stats.
func (g *Graph) Stats(id ID) Stats {
	n, ok := g.nodes[id]
	if !ok {
		g.warnUnknown(id)
		n = g.Base()
	}
	st := Stats{MaxHealth: n.Health, AttackDamage: n.Damage}
	if n.Path == PathBase {
		st.MovementSpeed = baseMoveSpeed
		st.AttackSpeed = baseAttackSpeed
		return st
	}

	sc := meleeScaling
	if n.Path == PathRanged {
		sc = rangedScaling
		st.IsRanged = true
		st.RangedDrawSpeed = n.DrawSpeed
	}
	head, tail := g.nodes[g.heads[n.Path]], g.nodes[g.tails[n.Path]]
	hf := factor(n.Health, head.Health, tail.Health)
	df := factor(n.Damage, head.Damage, tail.Damage)
	st.MovementSpeed = sc.move.at(df)
	st.KnockbackResistance = sc.knockback.at(hf)
	st.Armor = sc.armor.at(hf)
	st.AttackSpeed = sc.atkSpeed.at(df)
	return st
}

// DerivedStats is Stats for the rank at tier on path.
func (g *Graph) DerivedStats(tier int, path Path) (Stats, bool) {
	n, ok := g.At(tier, path)
	if !ok {
		return Stats{}, false
	}
	return g.Stats(n.ID), true
}
