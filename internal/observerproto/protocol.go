package observerproto

import (
	"guardsim.ai/internal/sim/perf"
	"guardsim.ai/internal/sim/world"
)

// Version is the operator stream protocol version.
const Version = "0.1"

// Message types.
const (
	TypeSubscribe      = "SUBSCRIBE"
	TypePurchase       = "PURCHASE"
	TypePerfReport     = "PERF_REPORT"
	TypeThreat         = "THREAT"
	TypePurchaseResult = "PURCHASE_RESULT"
)

// Stream names a client can subscribe to.
const (
	StreamPerf     = "perf"
	StreamThreat   = "threat"
	StreamScan     = "scan"
	StreamPurchase = "purchase"
)

// DefaultStreams is what a SUBSCRIBE without streams receives.
var DefaultStreams = []string{StreamPerf, StreamThreat, StreamPurchase}

// Client -> Server. First message on the connection; can be re-sent to change streams.
type SubscribeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Streams         []string `json:"streams,omitempty"`

	// MinPriority drops threat messages below this priority name (e.g. "GUARD_UNDER_ATTACK").
	MinPriority string `json:"min_priority,omitempty"`
}

// Client -> Server. Operator-initiated rank purchase paid from actor_id's balance.
type PurchaseMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AgentID         string `json:"agent_id"`
	ActorID         string `json:"actor_id"`
	Rank            string `json:"rank"`
}

// HTTP response for GET /admin/v1/guards/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string       `json:"protocol_version"`
	WorldID         string       `json:"world_id"`
	Tick            uint64       `json:"tick"`
	TickRateHz      int          `json:"tick_rate_hz"`
	CatalogDigest   string       `json:"catalog_digest"`
	Threats         int          `json:"threats"`
	Scheduled       int          `json:"scheduled"`
	Ranks           []RankInfo   `json:"ranks"`
	LastReport      *perf.Report `json:"last_report,omitempty"`
}

type RankInfo struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Tier     int    `json:"tier"`
	Path     string `json:"path"`
	Cost     int    `json:"cost"`
	CostTo   int    `json:"cost_to"`
	Ability  string `json:"ability,omitempty"`
	Previous string `json:"previous,omitempty"`
}

// Server -> Client. Sent on every monitor flush.
type PerfReportMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	WorldID         string      `json:"world_id"`
	Tick            uint64      `json:"tick"`
	Report          perf.Report `json:"report"`
}

// Server -> Client. Attack events, and primary threat changes for "scan" subscribers.
type ThreatMsg struct {
	Type            string            `json:"type"`
	ProtocolVersion string            `json:"protocol_version"`
	Event           world.ThreatEvent `json:"event"`
}

// Server -> Client. Every purchase attempt, including the reply to a PURCHASE.
type PurchaseResultMsg struct {
	Type            string              `json:"type"`
	ProtocolVersion string              `json:"protocol_version"`
	Event           world.PurchaseEvent `json:"event"`
}
