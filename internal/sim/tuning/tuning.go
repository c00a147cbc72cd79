package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz" json:"tick_rate_hz"`

	Scheduler Scheduler `yaml:"scheduler" json:"scheduler"`
	Threat    Threat    `yaml:"threat" json:"threat"`
	PathCache PathCache `yaml:"path_cache" json:"path_cache"`
	Monitor   Monitor   `yaml:"monitor" json:"monitor"`
}

// Scheduler holds the level-of-detail bands. Distances are in blocks, intervals in ticks.
type Scheduler struct {
	CloseDistance  float64 `yaml:"close_distance" json:"close_distance"`
	MediumDistance float64 `yaml:"medium_distance" json:"medium_distance"`
	FarDistance    float64 `yaml:"far_distance" json:"far_distance"`

	CombatInterval int `yaml:"combat_interval" json:"combat_interval"`
	CloseInterval  int `yaml:"close_interval" json:"close_interval"`
	MediumInterval int `yaml:"medium_interval" json:"medium_interval"`
	FarInterval    int `yaml:"far_interval" json:"far_interval"`

	CombatScanInterval int `yaml:"combat_scan_interval" json:"combat_scan_interval"`
	CloseScanInterval  int `yaml:"close_scan_interval" json:"close_scan_interval"`
	MediumScanInterval int `yaml:"medium_scan_interval" json:"medium_scan_interval"`
	FarScanInterval    int `yaml:"far_scan_interval" json:"far_scan_interval"`

	ObserverCacheTicks int `yaml:"observer_cache_ticks" json:"observer_cache_ticks"`
}

type Threat struct {
	ScanCooldownTicks int     `yaml:"scan_cooldown_ticks" json:"scan_cooldown_ticks"`
	MemoryTicks       int     `yaml:"memory_ticks" json:"memory_ticks"`
	BaseRange         float64 `yaml:"base_range" json:"base_range"`
	RangePerTier      float64 `yaml:"range_per_tier" json:"range_per_tier"`
	CloseRange        float64 `yaml:"close_range" json:"close_range"`
	AlertRadius       float64 `yaml:"alert_radius" json:"alert_radius"`
	MaxThreatsPerScan int     `yaml:"max_threats_per_scan" json:"max_threats_per_scan"`

	PatrolRangeMul float64 `yaml:"patrol_range_mul" json:"patrol_range_mul"`
	GuardRangeMul  float64 `yaml:"guard_range_mul" json:"guard_range_mul"`
	FollowRangeMul float64 `yaml:"follow_range_mul" json:"follow_range_mul"`
}

type PathCache struct {
	PathTTLTicks   int     `yaml:"path_ttl_ticks" json:"path_ttl_ticks"`
	MoveThreshold  float64 `yaml:"move_threshold" json:"move_threshold"`
	PatrolTTLTicks int     `yaml:"patrol_ttl_ticks" json:"patrol_ttl_ticks"`
	ArriveRadius   float64 `yaml:"arrive_radius" json:"arrive_radius"`
}

type Monitor struct {
	ReportEveryTicks int `yaml:"report_every_ticks" json:"report_every_ticks"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz: 20,
		Scheduler: Scheduler{
			CloseDistance:  32,
			MediumDistance: 64,
			FarDistance:    128,

			CombatInterval: 1,
			CloseInterval:  5,
			MediumInterval: 20,
			FarInterval:    100,

			CombatScanInterval: 10,
			CloseScanInterval:  20,
			MediumScanInterval: 40,
			FarScanInterval:    100,

			ObserverCacheTicks: 20,
		},
		Threat: Threat{
			ScanCooldownTicks: 20,
			MemoryTicks:       600,
			BaseRange:         8,
			RangePerTier:      2,
			CloseRange:        8,
			AlertRadius:       32,
			MaxThreatsPerScan: 10,
			PatrolRangeMul:    1.25,
			GuardRangeMul:     1.0,
			FollowRangeMul:    0.9,
		},
		PathCache: PathCache{
			PathTTLTicks:   40,
			MoveThreshold:  8,
			PatrolTTLTicks: 100,
			ArriveRadius:   2,
		},
		Monitor: Monitor{
			ReportEveryTicks: 6000,
		},
	}
}

// Load reads tuning.yaml on top of Defaults. An empty path yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize replaces non-positive fields with their defaults.
func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	d := Defaults()
	posInt := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	posFloat := func(v *float64, def float64) {
		if *v <= 0 {
			*v = def
		}
	}

	posInt(&t.TickRateHz, d.TickRateHz)

	s, ds := &t.Scheduler, d.Scheduler
	posFloat(&s.CloseDistance, ds.CloseDistance)
	posFloat(&s.MediumDistance, ds.MediumDistance)
	posFloat(&s.FarDistance, ds.FarDistance)
	posInt(&s.CombatInterval, ds.CombatInterval)
	posInt(&s.CloseInterval, ds.CloseInterval)
	posInt(&s.MediumInterval, ds.MediumInterval)
	posInt(&s.FarInterval, ds.FarInterval)
	posInt(&s.CombatScanInterval, ds.CombatScanInterval)
	posInt(&s.CloseScanInterval, ds.CloseScanInterval)
	posInt(&s.MediumScanInterval, ds.MediumScanInterval)
	posInt(&s.FarScanInterval, ds.FarScanInterval)
	posInt(&s.ObserverCacheTicks, ds.ObserverCacheTicks)

	th, dt := &t.Threat, d.Threat
	posInt(&th.ScanCooldownTicks, dt.ScanCooldownTicks)
	posInt(&th.MemoryTicks, dt.MemoryTicks)
	posFloat(&th.BaseRange, dt.BaseRange)
	if th.RangePerTier < 0 {
		th.RangePerTier = dt.RangePerTier
	}
	posFloat(&th.CloseRange, dt.CloseRange)
	posFloat(&th.AlertRadius, dt.AlertRadius)
	posInt(&th.MaxThreatsPerScan, dt.MaxThreatsPerScan)
	posFloat(&th.PatrolRangeMul, dt.PatrolRangeMul)
	posFloat(&th.GuardRangeMul, dt.GuardRangeMul)
	posFloat(&th.FollowRangeMul, dt.FollowRangeMul)

	pc, dp := &t.PathCache, d.PathCache
	posInt(&pc.PathTTLTicks, dp.PathTTLTicks)
	posFloat(&pc.MoveThreshold, dp.MoveThreshold)
	posInt(&pc.PatrolTTLTicks, dp.PatrolTTLTicks)
	posFloat(&pc.ArriveRadius, dp.ArriveRadius)

	posInt(&t.Monitor.ReportEveryTicks, d.Monitor.ReportEveryTicks)
}

func (t Tuning) Validate() error {
	s := t.Scheduler
	if !(s.CloseDistance < s.MediumDistance && s.MediumDistance < s.FarDistance) {
		return fmt.Errorf("scheduler distances must increase: close=%v medium=%v far=%v",
			s.CloseDistance, s.MediumDistance, s.FarDistance)
	}
	if s.CombatInterval > s.CloseInterval || s.CloseInterval > s.MediumInterval || s.MediumInterval > s.FarInterval {
		return fmt.Errorf("scheduler intervals must not decrease with distance")
	}
	if s.CombatScanInterval > s.CloseScanInterval || s.CloseScanInterval > s.MediumScanInterval || s.MediumScanInterval > s.FarScanInterval {
		return fmt.Errorf("scheduler scan intervals must not decrease with distance")
	}
	if t.Threat.CloseRange > t.Threat.AlertRadius {
		return fmt.Errorf("threat close_range must be <= alert_radius")
	}
	return nil
}
