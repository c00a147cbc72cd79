package sandbox

import (
	"math/rand"
	"testing"

	"guardsim.ai/internal/sim/model"
)

func TestLedger_DeductIsAllOrNothing(t *testing.T) {
	w := New()
	p := w.Spawn(model.KindPlayer, model.Vec3{})
	w.Grant(p, 10)
	if w.Deduct(p, 11) {
		t.Fatalf("overdraft allowed")
	}
	if !w.Deduct(p, 10) || w.Balance(p) != 0 {
		t.Fatalf("balance=%d", w.Balance(p))
	}
}

func TestDamage_KillsAtZero(t *testing.T) {
	w := New()
	g := w.Spawn(model.KindGuard, model.Vec3{})
	z := w.Spawn(model.KindHostile, model.Vec3{X: 1})
	w.Damage(z, g, 19)
	if e, _ := w.Entity(z); !e.Alive || e.LastAttacker != g {
		t.Fatalf("entity=%+v", e)
	}
	w.Damage(z, g, 1)
	if e, _ := w.Entity(z); e.Alive {
		t.Fatalf("should be dead")
	}
	if len(w.Hits()) != 2 {
		t.Fatalf("hits=%d", len(w.Hits()))
	}
	w.ResetEffects()
	if len(w.Hits()) != 0 {
		t.Fatalf("effects not reset")
	}
}

func TestStepHostiles_ChasesAndHits(t *testing.T) {
	w := New()
	v := w.Spawn(model.KindVillager, model.Vec3{})
	z := w.Spawn(model.KindHostile, model.Vec3{X: 3})
	rng := rand.New(rand.NewSource(1))

	if got := w.StepHostiles(rng, 1, 1.5); len(got) != 0 {
		t.Fatalf("hit from range: %+v", got)
	}
	if e, _ := w.Entity(z); e.Target != v || e.Pos.X != 2 {
		t.Fatalf("hostile=%+v", e)
	}
	w.StepHostiles(rng, 1, 1.5)
	got := w.StepHostiles(rng, 1, 1.5)
	if len(got) != 1 || got[0] != (Attack{Attacker: z, Victim: v}) {
		t.Fatalf("attacks=%+v", got)
	}
	if e, _ := w.Entity(v); e.LastAttacker != z {
		t.Fatalf("victim=%+v", e)
	}
}

func TestStepHostiles_KillsAtZeroHealth(t *testing.T) {
	w := New()
	g := w.Spawn(model.KindGuard, model.Vec3{})
	z := w.Spawn(model.KindHostile, model.Vec3{X: 1})
	rng := rand.New(rand.NewSource(1))

	w.Damage(g, z, 17)
	for i := 0; i < 2; i++ {
		w.StepHostiles(rng, 1, 1.5)
		if e, _ := w.Entity(g); !e.Alive {
			t.Fatalf("guard died after %d hit(s) with health left", i+1)
		}
	}
	got := w.StepHostiles(rng, 1, 1.5)
	if len(got) != 1 || got[0].Victim != g {
		t.Fatalf("attacks=%+v", got)
	}
	if e, _ := w.Entity(g); e.Alive {
		t.Fatalf("guard should be dead at zero health")
	}
	// The hostile drops a dead target instead of hitting it again.
	if got := w.StepHostiles(rng, 1, 1.5); len(got) != 0 {
		t.Fatalf("dead victim hit again: %+v", got)
	}
}

func TestLivingEntitiesNear_FiltersDeadAndFar(t *testing.T) {
	w := New()
	a := w.Spawn(model.KindHostile, model.Vec3{X: 1})
	b := w.Spawn(model.KindHostile, model.Vec3{X: 2})
	w.Spawn(model.KindHostile, model.Vec3{X: 50})
	w.Kill(b)
	got := w.LivingEntitiesNear(model.Vec3{}, 10, nil)
	if len(got) != 1 || got[0].ID != a {
		t.Fatalf("got=%+v", got)
	}
}

func TestCanPerceive_BlockSight(t *testing.T) {
	w := New()
	a := w.Spawn(model.KindGuard, model.Vec3{})
	b := w.Spawn(model.KindHostile, model.Vec3{X: 1})
	w.BlockSight(a, b)
	if w.CanPerceive(a, b) {
		t.Fatalf("sight should be blocked")
	}
	if !w.CanPerceive(b, a) {
		t.Fatalf("blocking is one way")
	}
}
