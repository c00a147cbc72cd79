package threat

import (
	"encoding/json"
	"testing"

	"guardsim.ai/internal/sim/model"
)

func TestCompare_StrictTotalOrder(t *testing.T) {
	order := []Priority{None, PropertyDamage, ProximityLow, ProximityMedium, ProximityHigh,
		GuardUnderAttack, VillagerUnderAttack, PlayerUnderAttack}
	for i, a := range order {
		for j, b := range order {
			got := Compare(a, b)
			want := 0
			if i < j {
				want = -1
			} else if i > j {
				want = 1
			}
			if got != want {
				t.Fatalf("Compare(%s, %s)=%d want %d", a, b, got, want)
			}
		}
	}
}

func TestPriorityHelpers(t *testing.T) {
	if !PlayerUnderAttack.IsActiveAttack() || ProximityHigh.IsActiveAttack() {
		t.Fatalf("IsActiveAttack mismatch")
	}
	if !ProximityMedium.IsProximity() || GuardUnderAttack.IsProximity() || None.IsProximity() {
		t.Fatalf("IsProximity mismatch")
	}
	if !GuardUnderAttack.IsCritical() || ProximityHigh.IsCritical() {
		t.Fatalf("IsCritical mismatch")
	}
	if got := VillagerUnderAttack.DisplayName(); got != "Villager Under Attack" {
		t.Fatalf("display=%q", got)
	}
}

func TestForVictimAndProximity(t *testing.T) {
	cases := map[model.Kind]Priority{
		model.KindPlayer:   PlayerUnderAttack,
		model.KindVillager: VillagerUnderAttack,
		model.KindGuard:    GuardUnderAttack,
		model.KindHostile:  None,
		model.KindOther:    None,
	}
	for k, want := range cases {
		if got := ForVictim(k); got != want {
			t.Fatalf("ForVictim(%s)=%s want %s", k, got, want)
		}
	}
	if got := ForProximity(64, 64, false); got != ProximityHigh {
		t.Fatalf("at close radius got %s", got)
	}
	if got := ForProximity(65, 64, true); got != ProximityMedium {
		t.Fatalf("near protected got %s", got)
	}
	if got := ForProximity(65, 64, false); got != ProximityLow {
		t.Fatalf("alone got %s", got)
	}
}

func TestRecordJSONUsesNames(t *testing.T) {
	raw, err := json.Marshal(Record{Priority: ProximityHigh, Kind: KindProximity})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["priority"] != "PROXIMITY_HIGH" || m["kind"] != "PROXIMITY" {
		t.Fatalf("unexpected json: %s", raw)
	}
	var back Record
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("roundtrip: %v", err)
	}
	if back.Priority != ProximityHigh {
		t.Fatalf("priority=%s", back.Priority)
	}
}

func TestResponseSpeed(t *testing.T) {
	want := []float64{1.0, 1.1, 1.2, 1.3, 1.5}
	for tier, w := range want {
		if got := ResponseSpeed(tier); got != w {
			t.Fatalf("tier %d: got %v want %v", tier, got, w)
		}
	}
	if ResponseSpeed(9) != 1.0 {
		t.Fatalf("unknown tier should be 1.0")
	}
}
