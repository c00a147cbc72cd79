package model

// World is the slice of the host simulation the guard core consumes.
// Every method must be cheap and non-blocking; it is called from the tick goroutine.
type World interface {
	CurrentTick() uint64
	// Entity looks up a living entity. ok is false if the id is unknown.
	Entity(id ID) (Entity, bool)
	// NearbyObservers returns positions of observers (players) within radius of pos.
	NearbyObservers(pos Vec3, radius float64) []Vec3
	// LivingEntitiesNear returns alive entities within radius of pos accepted by keep.
	LivingEntitiesNear(pos Vec3, radius float64, keep func(Entity) bool) []Entity
	// CanPerceive reports line of sight from agent to entity.
	CanPerceive(agent, entity ID) bool
	// SetTarget assigns an attack target to a guard.
	SetTarget(agent, target ID)
}

// Ledger holds the currency balances used for rank purchases.
type Ledger interface {
	Balance(actor ID) int
	Deduct(actor ID, amount int) bool
}

// EffectSink applies ability side effects to the world.
type EffectSink interface {
	ApplyImpulse(target ID, impulse Vec3)
	FireProjectile(from, at ID)
	Damage(target ID, source ID, amount float64)
}
