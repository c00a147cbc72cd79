package world

import (
	"guardsim.ai/internal/sim/model"
)

// Planner supplies the movement the host would otherwise compute itself.
type Planner interface {
	// Patrol picks a new patrol destination around pos.
	Patrol(pos model.Vec3) (model.Vec3, bool)
	// Step returns the next waypoint from one point toward another.
	Step(from, goal model.Vec3) (model.Vec3, bool)
}

type Action int

const (
	ActionIdle Action = iota
	ActionSkipped
	ActionEngage
	ActionPatrol
)

func (a Action) String() string {
	switch a {
	case ActionSkipped:
		return "skipped"
	case ActionEngage:
		return "engage"
	case ActionPatrol:
		return "patrol"
	default:
		return "idle"
	}
}

// Decision is what a guard chose to do on one tick.
type Decision struct {
	Action   Action
	Target   model.ID
	Waypoint model.Vec3
}

// UpdateGuard runs one tick of the guard decision flow: keep fighting a live
// target, otherwise scan for threats when due, otherwise patrol.
func (w *World) UpdateGuard(agent model.ID, plan Planner) Decision {
	if !w.ShouldUpdateAI(agent) {
		return Decision{Action: ActionSkipped}
	}
	self, ok := w.host.World.Entity(agent)
	if !ok || !self.Alive {
		return Decision{Action: ActionIdle}
	}

	if t, ok := w.liveTarget(self); ok {
		w.scheduler.MarkCombatActive(agent)
		return w.engage(self, t, plan)
	}

	if w.ShouldDetectThreats(agent) {
		if rec, ok := w.DetectPrimaryThreat(agent); ok {
			if t, ok := w.host.World.Entity(rec.ThreatID); ok && t.Alive {
				w.host.World.SetTarget(agent, t.ID)
				w.scheduler.MarkCombatActive(agent)
				return w.engage(self, t, plan)
			}
		}
	}
	w.scheduler.MarkCombatInactive(agent)
	if self.HasTarget() {
		w.host.World.SetTarget(agent, model.Nil)
	}

	if plan == nil || w.Role(agent) != model.RolePatrol {
		return Decision{Action: ActionIdle}
	}
	dest, ok := w.PatrolTarget(agent, self.Pos, plan.Patrol)
	if !ok {
		return Decision{Action: ActionIdle}
	}
	d := Decision{Action: ActionPatrol, Waypoint: dest}
	if wp, ok := w.PathTarget(agent, self.Pos, dest, plan.Step); ok {
		d.Waypoint = wp
	}
	return d
}

func (w *World) liveTarget(self model.Entity) (model.Entity, bool) {
	if !self.HasTarget() {
		return model.Entity{}, false
	}
	t, ok := w.host.World.Entity(self.Target)
	if !ok || !t.Alive {
		return model.Entity{}, false
	}
	return t, true
}

func (w *World) engage(self, t model.Entity, plan Planner) Decision {
	d := Decision{Action: ActionEngage, Target: t.ID, Waypoint: t.Pos}
	if plan != nil {
		if wp, ok := w.PathTarget(self.ID, self.Pos, t.Pos, plan.Step); ok {
			d.Waypoint = wp
		}
	}
	return d
}
