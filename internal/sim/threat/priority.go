package threat

import (
	"fmt"

	"guardsim.ai/internal/sim/model"
)

// Priority ranks how urgently a guard should answer a threat. Larger is more urgent.
type Priority int

const (
	None Priority = iota
	PropertyDamage
	ProximityLow
	ProximityMedium
	ProximityHigh
	GuardUnderAttack
	VillagerUnderAttack
	PlayerUnderAttack
)

var priorityNames = [...]string{
	None:                "NONE",
	PropertyDamage:      "PROPERTY_DAMAGE",
	ProximityLow:        "PROXIMITY_LOW",
	ProximityMedium:     "PROXIMITY_MEDIUM",
	ProximityHigh:       "PROXIMITY_HIGH",
	GuardUnderAttack:    "GUARD_UNDER_ATTACK",
	VillagerUnderAttack: "VILLAGER_UNDER_ATTACK",
	PlayerUnderAttack:   "PLAYER_UNDER_ATTACK",
}

var displayNames = [...]string{
	None:                "None",
	PropertyDamage:      "Property Damage",
	ProximityLow:        "Proximity Threat (Low)",
	ProximityMedium:     "Proximity Threat (Medium)",
	ProximityHigh:       "Proximity Threat (High)",
	GuardUnderAttack:    "Guard Under Attack",
	VillagerUnderAttack: "Villager Under Attack",
	PlayerUnderAttack:   "Player Under Attack",
}

// rank is the ordering table used by Compare; it is kept apart from the tag values.
var rank = [...]int{
	None:                0,
	PropertyDamage:      1,
	ProximityLow:        2,
	ProximityMedium:     3,
	ProximityHigh:       4,
	GuardUnderAttack:    5,
	VillagerUnderAttack: 6,
	PlayerUnderAttack:   7,
}

func (p Priority) valid() bool { return p >= None && p <= PlayerUnderAttack }

func (p Priority) String() string {
	if !p.valid() {
		return fmt.Sprintf("PRIORITY(%d)", int(p))
	}
	return priorityNames[p]
}

func (p Priority) DisplayName() string {
	if !p.valid() {
		return "Unknown"
	}
	return displayNames[p]
}

func (p Priority) MarshalText() ([]byte, error) {
	if !p.valid() {
		return nil, fmt.Errorf("threat: invalid priority %d", int(p))
	}
	return []byte(priorityNames[p]), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	s := string(b)
	for i, n := range priorityNames {
		if n == s {
			*p = Priority(i)
			return nil
		}
	}
	return fmt.Errorf("threat: unknown priority %q", s)
}

// Compare returns -1, 0 or +1 as a ranks below, equal to or above b.
// Unknown values rank below None.
func Compare(a, b Priority) int {
	ra, rb := -1, -1
	if a.valid() {
		ra = rank[a]
	}
	if b.valid() {
		rb = rank[b]
	}
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	default:
		return 0
	}
}

func (p Priority) IsActiveAttack() bool {
	return p == GuardUnderAttack || p == VillagerUnderAttack || p == PlayerUnderAttack
}

func (p Priority) IsProximity() bool {
	return p == ProximityLow || p == ProximityMedium || p == ProximityHigh
}

// IsCritical reports whether the threat warrants alerting nearby guards.
func (p Priority) IsCritical() bool { return Compare(p, GuardUnderAttack) >= 0 }

// ForVictim classifies an attack by the kind of entity being hit.
func ForVictim(k model.Kind) Priority {
	switch k {
	case model.KindPlayer:
		return PlayerUnderAttack
	case model.KindVillager:
		return VillagerUnderAttack
	case model.KindGuard:
		return GuardUnderAttack
	default:
		return None
	}
}

// ForProximity tiers a hostile that is not attacking anyone.
func ForProximity(distSq, closeSq float64, nearProtected bool) Priority {
	switch {
	case distSq <= closeSq:
		return ProximityHigh
	case nearProtected:
		return ProximityMedium
	default:
		return ProximityLow
	}
}

// Kind separates threats caught attacking from threats that are merely close.
type Kind int

const (
	KindProximity Kind = iota
	KindActiveAttack
)

func (k Kind) String() string {
	if k == KindActiveAttack {
		return "ACTIVE_ATTACK"
	}
	return "PROXIMITY"
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ACTIVE_ATTACK":
		*k = KindActiveAttack
	case "PROXIMITY":
		*k = KindProximity
	default:
		return fmt.Errorf("threat: unknown kind %q", string(b))
	}
	return nil
}

// ResponseSpeed is the reaction multiplier a guard of the given tier applies to a detection.
func ResponseSpeed(tier int) float64 {
	switch tier {
	case 1:
		return 1.1
	case 2:
		return 1.2
	case 3:
		return 1.3
	case 4:
		return 1.5
	default:
		return 1.0
	}
}
