package rank

import (
	"bytes"
	"log"
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"guardsim.ai/internal/sim/catalogs"
	"guardsim.ai/internal/sim/model"
	"guardsim.ai/internal/sim/sandbox"
)

func TestDerivedStats_MonotonicPerPath(t *testing.T) {
	g := defaultGraph(t)
	for _, path := range []Path{PathMelee, PathRanged} {
		var prev Stats
		for tier := 1; tier <= MaxTier; tier++ {
			st, ok := g.DerivedStats(tier, path)
			if !ok {
				t.Fatalf("%s tier %d missing", path, tier)
			}
			if tier > 1 {
				if st.MovementSpeed < prev.MovementSpeed || st.Armor < prev.Armor || st.AttackSpeed < prev.AttackSpeed {
					t.Fatalf("%s tier %d decreased: %+v after %+v", path, tier, st, prev)
				}
			}
			prev = st
		}
	}
}

func TestDerivedStats_Endpoints(t *testing.T) {
	g := defaultGraph(t)
	k := g.Stats("knight")
	if k.MovementSpeed != 0.6 || k.KnockbackResistance != 0.8 || k.Armor != 10 || k.AttackSpeed != 1.6 {
		t.Fatalf("knight=%+v", k)
	}
	m1, _ := g.DerivedStats(1, PathMelee)
	if m1.MovementSpeed != 0.4 || m1.KnockbackResistance != 0.2 || m1.Armor != 2 {
		t.Fatalf("soldier I=%+v", m1)
	}
	r := g.Stats("sharpshooter")
	if !r.IsRanged || r.RangedDrawSpeed != 0.8 || math.Abs(r.AttackSpeed-2.0) > 1e-9 {
		t.Fatalf("sharpshooter=%+v", r)
	}
	b := g.Stats("recruit")
	if b.MaxHealth != 10 || b.AttackDamage != 0.5 || b.MovementSpeed != 0.4 || b.IsRanged {
		t.Fatalf("recruit=%+v", b)
	}
	if g.Stats("nobody") != b {
		t.Fatalf("unknown rank should fall back to base stats")
	}
}

func TestStats_UnknownRankWarns(t *testing.T) {
	g := defaultGraph(t)
	var buf bytes.Buffer
	g.SetLogger(log.New(&buf, "", 0))

	g.Stats("knight")
	if buf.Len() != 0 {
		t.Fatalf("known rank logged: %q", buf.String())
	}
	if g.Stats("nobody") != g.Stats("recruit") {
		t.Fatalf("unknown rank should fall back to base stats")
	}
	if got := buf.String(); !strings.Contains(got, `unknown rank "nobody", using recruit`) {
		t.Fatalf("log=%q", got)
	}
}

func TestFactor_Clamps(t *testing.T) {
	if factor(40, 14, 26) != 1 || factor(2, 14, 26) != 0 || factor(20, 14, 26) != 0.5 {
		t.Fatalf("factor not clamped")
	}
}

func TestValueAnalysis(t *testing.T) {
	g := defaultGraph(t)
	if !math.IsInf(g.CostEffectiveness("recruit"), 1) {
		t.Fatalf("free rank should be infinitely cost effective")
	}
	if g.PowerIncrease("man_at_arms_1", "man_at_arms_2") <= 0 {
		t.Fatalf("upgrades should gain power")
	}
	rec, ok := g.RecommendUpgrade("recruit", 20, 0.1)
	if !ok || (rec.Rank != "man_at_arms_1" && rec.Rank != "marksman_1") {
		t.Fatalf("recommendation=%+v", rec)
	}
	if _, ok := g.RecommendUpgrade("recruit", 10, 0.1); ok {
		t.Fatalf("nothing affordable with 10")
	}
}

func TestInvestmentValue(t *testing.T) {
	g := defaultGraph(t)
	p := g.NewProgression()
	if got, want := g.InvestmentValue(p), g.CombatPower("recruit"); got != want {
		t.Fatalf("recruit investment=%v want raw power %v", got, want)
	}
	if err := p.Purchase("man_at_arms_1", 15); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if got, want := g.InvestmentValue(p), g.CombatPower("man_at_arms_1")/15; math.Abs(got-want) > 1e-9 {
		t.Fatalf("investment=%v want %v", got, want)
	}
}

func TestAnalyzePath(t *testing.T) {
	g := defaultGraph(t)
	steps := g.AnalyzePath(PathRanged)
	var ids []ID
	for _, st := range steps {
		ids = append(ids, st.Rank)
	}
	want := []ID{"recruit", "marksman_1", "marksman_2", "marksman_3", "sharpshooter"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Fatalf("path (-want +got):\n%s", diff)
	}
	if steps[0].PowerIncrease != 0 || steps[0].IncrementalValue != 0 {
		t.Fatalf("base step=%+v", steps[0])
	}
	for i := 1; i < len(steps); i++ {
		st := steps[i]
		if st.PowerIncrease <= 0 {
			t.Fatalf("%s gains no power", st.Rank)
		}
		cost := g.nodes[st.Rank].Cost
		if math.Abs(st.IncrementalValue-st.PowerIncrease/float64(cost)) > 1e-12 {
			t.Fatalf("%s incremental value=%v", st.Rank, st.IncrementalValue)
		}
	}
}

func TestValidateBalance(t *testing.T) {
	if err := defaultGraph(t).ValidateBalance(); err != nil {
		t.Fatalf("default catalog unbalanced: %v", err)
	}

	c, err := catalogs.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	for i, r := range c.Ranks.Ranks {
		if r.ID == "man_at_arms_2" {
			c.Ranks.Ranks[i].Health, c.Ranks.Ranks[i].Damage = 14, 1.5
		}
	}
	g, err := NewGraph(c.Ranks)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	err = g.ValidateBalance()
	if err == nil || !strings.Contains(err.Error(), "man_at_arms_2") {
		t.Fatalf("err=%v want flat soldier II rejected", err)
	}
}

func TestAbilities(t *testing.T) {
	g := defaultGraph(t)
	w := sandbox.New()
	guard := w.Spawn(model.KindGuard, model.Vec3{})
	target := w.Spawn(model.KindHostile, model.Vec3{X: 3})

	knight, _ := g.Node("knight")
	out := knight.Ability.Execute(w, w, guard, target, 4)
	imp := w.Impulses()
	if len(out.Targets) != 1 || len(imp) != 1 {
		t.Fatalf("knockback outcome=%+v impulses=%+v", out, imp)
	}
	if imp[0].Impulse != (model.Vec3{X: 1.5, Y: 0.3}) {
		t.Fatalf("impulse=%+v", imp[0].Impulse)
	}

	second := w.Spawn(model.KindHostile, model.Vec3{X: -6})
	w.Spawn(model.KindHostile, model.Vec3{X: 40})
	sharp, _ := g.Node("sharpshooter")
	out = sharp.Ability.Execute(w, w, guard, target, 4.5)
	if len(out.Targets) != 1 || out.Targets[0] != second {
		t.Fatalf("double shot targets=%v want %s", out.Targets, second)
	}
	if shots := w.Shots(); len(shots) != 1 || shots[0].At != second {
		t.Fatalf("shots=%+v", shots)
	}

	w2 := sandbox.New()
	archer := w2.Spawn(model.KindGuard, model.Vec3{})
	primary := w2.Spawn(model.KindHostile, model.Vec3{X: 5})
	behind1 := w2.Spawn(model.KindHostile, model.Vec3{X: 7})
	behind2 := w2.Spawn(model.KindHostile, model.Vec3{X: 9, Z: 0.5})
	w2.Spawn(model.KindHostile, model.Vec3{X: 5, Z: 4}) // off the line
	m3, _ := g.Node("marksman_3")
	out = m3.Ability.Execute(w2, w2, archer, primary, 10)
	hits := w2.Hits()
	if len(hits) != 2 || hits[0].Target != behind1 || hits[1].Target != behind2 {
		t.Fatalf("piercing hits=%+v", hits)
	}
	if hits[0].Amount != 10 || math.Abs(hits[1].Amount-8) > 1e-9 {
		t.Fatalf("damage falloff wrong: %+v", hits)
	}

	rng := rand.New(rand.NewSource(1))
	if !sharp.Ability.Roll(rng) {
		t.Fatalf("a certain ability must always trigger")
	}
}
