package model

import (
	"math"

	"github.com/google/uuid"
)

// ID identifies agents and every other living entity the core reasons about.
type ID = uuid.UUID

// Nil is the zero ID; it stands for "no entity" in optional fields.
var Nil = uuid.Nil

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

func (v Vec3) Scale(f float64) Vec3 { return Vec3{X: v.X * f, Y: v.Y * f, Z: v.Z * f} }

func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

func (v Vec3) DistSq(o Vec3) float64 {
	d := v.Sub(o)
	return d.Dot(d)
}

// Normalize returns the unit vector in v's direction, or the zero vector.
func (v Vec3) Normalize() Vec3 {
	l := math.Sqrt(v.Dot(v))
	if l == 0 {
		return Vec3{}
	}
	return v.Scale(1 / l)
}

type Kind int

const (
	KindOther Kind = iota
	KindPlayer
	KindVillager
	KindGuard
	KindHostile
)

func (k Kind) String() string {
	switch k {
	case KindPlayer:
		return "PLAYER"
	case KindVillager:
		return "VILLAGER"
	case KindGuard:
		return "GUARD"
	case KindHostile:
		return "HOSTILE"
	default:
		return "OTHER"
	}
}

// Protected reports whether guards defend this kind of entity.
func (k Kind) Protected() bool {
	return k == KindPlayer || k == KindVillager || k == KindGuard
}

// Role is the standing order a guard is following.
type Role int

const (
	RolePatrol Role = iota
	RoleGuard
	RoleFollow
)

func (r Role) String() string {
	switch r {
	case RoleGuard:
		return "guard"
	case RoleFollow:
		return "follow"
	default:
		return "patrol"
	}
}

// ParseRole accepts "patrol", "guard" (alias "stand") and "follow"; anything else is patrol.
func ParseRole(s string) Role {
	switch s {
	case "guard", "stand":
		return RoleGuard
	case "follow":
		return RoleFollow
	default:
		return RolePatrol
	}
}

// Entity is a read-only per-tick view of a living entity supplied by the host world.
type Entity struct {
	ID    ID
	Kind  Kind
	Pos   Vec3
	Alive bool

	// Target is the entity this one is currently attacking (Nil when idle).
	Target ID
	// LastAttacker is whoever damaged this entity most recently (Nil if nobody).
	LastAttacker ID
}

func (e Entity) HasTarget() bool { return e.Target != Nil }
