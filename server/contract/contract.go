// Package contract defines the component records that may be attached to
// entities, along with the validation and cardinality rules that govern them.
// Components are called contracts on the wire; the two terms are
// interchangeable.
package contract

import (
	"github.com/go-gl/mathgl/mgl64"
)

// Kind discriminates the closed set of contract types. Every contract record
// carries its Kind in the "kind" field of its wire form.
type Kind string

const (
	KindIdentity        Kind = "identity"
	KindMobility        Kind = "mobility"
	KindShape           Kind = "shape"
	KindSolidity        Kind = "solidity"
	KindVisual          Kind = "visual"
	KindEntrance        Kind = "entrance"
	KindPortable        Kind = "portable"
	KindInventory       Kind = "inventory"
	KindDurability      Kind = "durability"
	KindContractLimit   Kind = "contract_limit"
	KindMovementRules   Kind = "movement_rules"
	KindWorldConditions Kind = "world_conditions"
	KindWorldCommands   Kind = "world_commands"
	KindCommandAccess   Kind = "command_access"
)

// Kinds returns all recognized contract kinds.
func Kinds() []Kind {
	return []Kind{
		KindIdentity, KindMobility, KindShape, KindSolidity, KindVisual,
		KindEntrance, KindPortable, KindInventory, KindDurability,
		KindContractLimit, KindMovementRules, KindWorldConditions,
		KindWorldCommands, KindCommandAccess,
	}
}

// Contract is implemented by every contract record.
type Contract interface {
	// ContractKind returns the Kind discriminating the record.
	ContractKind() Kind
}

// Vec3 is the wire form of a 3D vector.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Mgl converts the Vec3 to an mgl64.Vec3 for math.
func (v Vec3) Mgl() mgl64.Vec3 {
	return mgl64.Vec3{v.X, v.Y, v.Z}
}

// Vec3From converts an mgl64.Vec3 to its wire form.
func Vec3From(v mgl64.Vec3) Vec3 {
	return Vec3{X: v[0], Y: v[1], Z: v[2]}
}

// defaultMax holds the global per-kind cardinality ceilings. Kinds absent
// from the map are unbounded.
var defaultMax = map[Kind]int{
	KindIdentity:        1,
	KindMobility:        1,
	KindShape:           1,
	KindSolidity:        1,
	KindVisual:          1,
	KindEntrance:        1,
	KindPortable:        3,
	KindInventory:       1,
	KindDurability:      1,
	KindContractLimit:   1,
	KindMovementRules:   1,
	KindWorldConditions: 1,
	KindWorldCommands:   1,
	KindCommandAccess:   1,
}

// DefaultMax returns the global cardinality ceiling for a kind. The second
// return value is false if the kind is unbounded.
func DefaultMax(k Kind) (int, bool) {
	n, ok := defaultMax[k]
	return n, ok
}

// MaxFor resolves the cardinality ceiling for a kind on an entity carrying
// the contract_limit override passed, which may be nil. The override wins
// over the global default; kinds covered by neither are unbounded.
func MaxFor(limits *ContractLimit, k Kind) (int, bool) {
	if limits != nil {
		if n, ok := limits.Limits[k]; ok {
			return n, true
		}
	}
	return DefaultMax(k)
}
