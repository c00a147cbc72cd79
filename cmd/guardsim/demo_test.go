package main

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"guardsim.ai/internal/sim/catalogs"
	"guardsim.ai/internal/sim/model"
	"guardsim.ai/internal/sim/rank"
	"guardsim.ai/internal/sim/sandbox"
	"guardsim.ai/internal/sim/tuning"
	"guardsim.ai/internal/sim/world"
)

func newDemoWorld(t *testing.T) (*demo, *world.World, *sandbox.World) {
	t.Helper()
	c, err := catalogs.Default()
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	g, err := rank.NewGraph(c.Ranks)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	tun := tuning.Defaults()
	tun.Monitor.ReportEveryTicks = 50

	sb := sandbox.New()
	w, err := world.New(world.WorldConfig{ID: "demo", Tuning: tun, Seed: 7},
		world.Host{World: sb, Ledger: sb, Effects: sb}, g, log.New(&bytes.Buffer{}, "", 0))
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	d := newDemo(sb, w, demoConfig{Guards: 3, Villagers: 4, Hostiles: 2}, 7, nil, nil)
	return d, w, sb
}

func TestDemo_Population(t *testing.T) {
	d, w, sb := newDemoWorld(t)
	if got := len(sb.IDs(model.KindGuard)); got != 3 {
		t.Fatalf("guards=%d want 3", got)
	}
	if got := len(sb.IDs(model.KindHostile)); got != 2 {
		t.Fatalf("hostiles=%d want 2", got)
	}
	if got := w.Role(d.guards[1]); got != model.RoleGuard {
		t.Fatalf("second guard role=%v want GUARD", got)
	}
}

func TestDemo_StepKeepsHostilesAndShops(t *testing.T) {
	d, w, sb := newDemoWorld(t)
	for i := 0; i < shopEveryTicks; i++ {
		d.step()
		w.OnTick()
		if got := len(sb.IDs(model.KindHostile)); got != 2 {
			t.Fatalf("tick %d: hostiles=%d want 2", sb.CurrentTick(), got)
		}
	}
	if _, ok := w.Monitor().Last(); !ok {
		t.Fatalf("expected a performance report")
	}

	promoted := 0
	for _, g := range d.guards {
		if w.Tier(g) > 0 {
			promoted++
		}
	}
	if promoted != 1 {
		t.Fatalf("promoted=%d want 1", promoted)
	}
	// 200 ticks of income minus one tier-1 promotion.
	if got := sb.Balance(d.player); got != shopEveryTicks*incomePerTick-15 {
		t.Fatalf("balance=%d", got)
	}
}

func TestDemo_FallenGuardIsRemovedAndReplaced(t *testing.T) {
	d, w, sb := newDemoWorld(t)
	fallen := d.guards[0]
	sb.Grant(d.player, 15)
	if err := w.Purchase(fallen, d.player, "marksman_1"); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	villager := sb.IDs(model.KindVillager)[0]
	sb.Kill(fallen)
	sb.Kill(villager)
	sb.Kill(d.player)

	d.step()

	if _, ok := sb.Entity(fallen); ok {
		t.Fatalf("fallen guard still in the sandbox")
	}
	if _, ok := w.Scheduler().Snapshot(fallen); ok {
		t.Fatalf("scheduler state kept for fallen guard")
	}
	if _, ok := w.Ranks().Snapshots()[fallen]; ok {
		t.Fatalf("progression kept for fallen guard")
	}
	if len(d.guards) != 3 || len(sb.IDs(model.KindGuard)) != 3 {
		t.Fatalf("guards=%d sandbox=%d want 3", len(d.guards), len(sb.IDs(model.KindGuard)))
	}
	for _, g := range d.guards {
		if g == fallen {
			t.Fatalf("fallen guard still on the roster")
		}
	}
	if _, ok := sb.Entity(villager); ok {
		t.Fatalf("dead villager not removed")
	}
	if got := len(sb.IDs(model.KindVillager)); got != 4 {
		t.Fatalf("villagers=%d want 4", got)
	}
	if e, _ := sb.Entity(d.player); !e.Alive || sb.Balance(d.player) != 1 {
		t.Fatalf("player=%+v balance=%d", e, sb.Balance(d.player))
	}
}

func TestStepToward(t *testing.T) {
	from := model.Vec3{}
	if got := stepToward(from, model.Vec3{X: 0.1}, 0.3); got != (model.Vec3{X: 0.1}) {
		t.Fatalf("short step=%v", got)
	}
	got := stepToward(from, model.Vec3{X: 10}, 0.5)
	if got != (model.Vec3{X: 0.5}) {
		t.Fatalf("long step=%v", got)
	}
}

func TestWriteMetrics(t *testing.T) {
	d, w, _ := newDemoWorld(t)
	for i := 0; i < 60; i++ {
		d.step()
		w.OnTick()
	}
	var buf bytes.Buffer
	writeMetrics(&buf, w, nil, nil)
	out := buf.String()
	for _, want := range []string{
		`guardsim_world_tick{world="demo"} 60`,
		`guardsim_report_to_tick{world="demo"} 50`,
		`# TYPE guardsim_threats gauge`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "guardsim_index_") || strings.Contains(out, "guardsim_observers") {
		t.Fatalf("unexpected index/observer metrics without backends:\n%s", out)
	}
}

func TestDemo_CaptureRestore(t *testing.T) {
	d, w, _ := newDemoWorld(t)
	if err := w.Purchase(d.guards[0], d.player, "man_at_arms_1"); err == nil {
		t.Fatalf("purchase with empty balance succeeded")
	}
	d.sb.Grant(d.player, 50)
	if err := w.Purchase(d.guards[0], d.player, "man_at_arms_1"); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	snap := d.capture()
	if len(snap.Guards) != 3 || snap.Balance != 35 || snap.Seed != 7 {
		t.Fatalf("snapshot=%+v", snap)
	}

	c, _ := catalogs.Default()
	g, _ := rank.NewGraph(c.Ranks)
	sb2 := sandbox.New()
	sb2.SetTick(snap.Header.Tick)
	w2, err := world.New(world.WorldConfig{ID: "demo", Tuning: tuning.Defaults()},
		world.Host{World: sb2, Ledger: sb2, Effects: sb2}, g, log.New(&bytes.Buffer{}, "", 0))
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	d2 := newDemo(sb2, w2, demoConfig{Guards: 4, Villagers: 1, Hostiles: 1}, 7, &snap, nil)

	if d2.player != d.player || sb2.Balance(d2.player) != 35 {
		t.Fatalf("player=%v balance=%d", d2.player, sb2.Balance(d2.player))
	}
	if len(d2.guards) != 4 {
		t.Fatalf("guards=%d want 3 restored + 1 new", len(d2.guards))
	}
	for i, id := range d.guards {
		if d2.guards[i] != id {
			t.Fatalf("guard %d id=%v want %v", i, d2.guards[i], id)
		}
		if w2.Role(id) != w.Role(id) || w2.Tier(id) != w.Tier(id) {
			t.Fatalf("guard %d role/tier not restored", i)
		}
	}
	if got := w2.Ranks().Get(d.guards[0]).Current().ID; got != "man_at_arms_1" {
		t.Fatalf("restored rank=%s", got)
	}
}
