package rank

import (
	"fmt"
	"math"
)

// CombatPower condenses a rank's stats into one comparable number.
func CombatPower(s Stats) float64 {
	return s.MaxHealth*0.8 + s.AttackDamage*4 + s.MovementSpeed*20 + s.Armor*3 + s.AttackSpeed*2
}

func (g *Graph) CombatPower(id ID) float64 { return CombatPower(g.Stats(id)) }

// CostEffectiveness is power per unit of currency; free ranks are infinitely effective.
func (g *Graph) CostEffectiveness(id ID) float64 {
	n, ok := g.nodes[id]
	if !ok {
		return 0
	}
	if n.Cost == 0 {
		return math.Inf(1)
	}
	return g.CombatPower(id) / float64(n.Cost)
}

// PowerIncrease is the relative gain from one rank to another (0.25 = +25%).
func (g *Graph) PowerIncrease(from, to ID) float64 {
	pf, pt := g.CombatPower(from), g.CombatPower(to)
	if pf == 0 {
		return pt
	}
	return pt/pf - 1
}

type Recommendation struct {
	Rank              ID      `json:"rank"`
	PowerIncrease     float64 `json:"power_increase"`
	CostEffectiveness float64 `json:"cost_effectiveness"`
	Score             float64 `json:"score"`
}

// RecommendUpgrade scores the affordable next ranks from current by power gain times
// cost effectiveness, with a 1.5x bonus for meeting targetIncrease.
func (g *Graph) RecommendUpgrade(current ID, available int, targetIncrease float64) (Recommendation, bool) {
	var best Recommendation
	found := false
	for _, id := range g.Upgrades(current) {
		n := g.nodes[id]
		if n.Cost > available {
			continue
		}
		inc := g.PowerIncrease(current, id)
		ce := g.CostEffectiveness(id)
		score := inc * ce
		if inc >= targetIncrease {
			score *= 1.5
		}
		if !found || score > best.Score {
			best = Recommendation{Rank: id, PowerIncrease: inc, CostEffectiveness: ce, Score: score}
			found = true
		}
	}
	return best, found
}

// InvestmentValue is the guard's combat power per unit of currency spent on it.
// A guard nothing was spent on is worth its raw power.
func (g *Graph) InvestmentValue(p *Progression) float64 {
	power := g.CombatPower(p.Current().ID)
	spent := p.Spent()
	if spent == 0 {
		return power
	}
	return power / float64(spent)
}

// Step is one rank of a path as seen by AnalyzePath.
type Step struct {
	Rank              ID      `json:"rank"`
	Power             float64 `json:"power"`
	CostEffectiveness float64 `json:"cost_effectiveness"`

	// Relative to the previous step; zero for the base rank.
	PowerIncrease    float64 `json:"power_increase,omitempty"`
	IncrementalValue float64 `json:"incremental_value,omitempty"`
}

// AnalyzePath walks base then tiers 1..MaxTier of path. IncrementalValue is the
// power increase bought per unit of the step's cost.
func (g *Graph) AnalyzePath(path Path) []Step {
	ids := []ID{g.base}
	for tier := 1; tier <= MaxTier; tier++ {
		n, ok := g.At(tier, path)
		if !ok {
			break
		}
		ids = append(ids, n.ID)
	}
	out := make([]Step, 0, len(ids))
	for i, id := range ids {
		st := Step{Rank: id, Power: g.CombatPower(id), CostEffectiveness: g.CostEffectiveness(id)}
		if i > 0 {
			st.PowerIncrease = g.PowerIncrease(ids[i-1], id)
			if c := g.nodes[id].Cost; c > 0 {
				st.IncrementalValue = st.PowerIncrease / float64(c)
			}
		}
		out = append(out, st)
	}
	return out
}

const (
	minStepGain              = 0.15
	minPaidCostEffectiveness = 0.5
)

// ValidateBalance checks every path: each promotion must add more than 15% power,
// and no paid rank may fall below 0.5 power per unit of currency.
func (g *Graph) ValidateBalance() error {
	for _, path := range []Path{PathMelee, PathRanged} {
		steps := g.AnalyzePath(path)
		for i, st := range steps {
			if i > 0 && st.Power <= steps[i-1].Power*(1+minStepGain) {
				return fmt.Errorf("rank %s: power %.2f is not %.0f%% above %s (%.2f)",
					st.Rank, st.Power, minStepGain*100, steps[i-1].Rank, steps[i-1].Power)
			}
			if g.nodes[st.Rank].Cost > 0 && st.CostEffectiveness < minPaidCostEffectiveness {
				return fmt.Errorf("rank %s: cost effectiveness %.2f below %.2f",
					st.Rank, st.CostEffectiveness, minPaidCostEffectiveness)
			}
		}
	}
	return nil
}
