package world

import (
	"guardsim.ai/internal/sim/model"
	"guardsim.ai/internal/sim/perf"
	"guardsim.ai/internal/sim/threat"
)

const (
	ThreatSourceScan   = "SCAN"
	ThreatSourceAttack = "ATTACK"
)

// ThreatEvent is emitted when a guard's primary threat changes or an attack
// event is registered.
type ThreatEvent struct {
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
	Source  string `json:"source"`

	// AgentID is the guard that scanned; Nil for attack events.
	AgentID       model.ID      `json:"agent_id"`
	Range         float64       `json:"range,omitempty"`
	ResponseSpeed float64       `json:"response_speed,omitempty"`
	Record        threat.Record `json:"record"`
	Alerted       []model.ID    `json:"alerted,omitempty"`
}

type PurchaseEvent struct {
	WorldID string   `json:"world_id"`
	Tick    uint64   `json:"tick"`
	AgentID model.ID `json:"agent_id"`
	ActorID model.ID `json:"actor_id"`
	Rank    string   `json:"rank"`
	OK      bool     `json:"ok"`
	Reason  string   `json:"reason,omitempty"`

	// Filled on success.
	Tier  int    `json:"tier,omitempty"`
	Path  string `json:"path,omitempty"`
	Cost  int    `json:"cost,omitempty"`
	Spent int    `json:"spent,omitempty"`
}

type ReportEvent struct {
	WorldID string      `json:"world_id"`
	Tick    uint64      `json:"tick"`
	Report  perf.Report `json:"report"`
}

// Sink receives world events. Implementations must not block: they are called
// from the tick goroutine (and, for attack events, from whichever goroutine
// registered the attack).
type Sink interface {
	OnThreat(ThreatEvent)
	OnPurchase(PurchaseEvent)
	OnReport(ReportEvent)
}
