package contract

// Identity names an entity.
type Identity struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

func (Identity) ContractKind() Kind { return KindIdentity }

// Mobility holds an entity's position and optional kinematic parameters.
type Mobility struct {
	Position     Vec3     `json:"position"`
	Velocity     *Vec3    `json:"velocity,omitempty"`
	MaxSpeed     *float64 `json:"maxSpeed,omitempty"`
	Acceleration *float64 `json:"acceleration,omitempty"`
}

func (Mobility) ContractKind() Kind { return KindMobility }

// Geometry tags the shape of an entity. Only GeometryBox participates in
// collision.
type Geometry string

const (
	GeometryBox      Geometry = "box"
	GeometrySphere   Geometry = "sphere"
	GeometryCylinder Geometry = "cylinder"
	GeometryMesh     Geometry = "mesh"
)

// Shape is an axis-aligned bounding box in entity-local coordinates.
type Shape struct {
	Min      Vec3     `json:"min"`
	Max      Vec3     `json:"max"`
	Geometry Geometry `json:"geometry,omitempty"`
}

func (Shape) ContractKind() Kind { return KindShape }

// Solidity marks an entity as blocking movement.
type Solidity struct {
	Solid           bool     `json:"solid"`
	CollisionGroups []string `json:"collisionGroups,omitempty"`
}

func (Solidity) ContractKind() Kind { return KindSolidity }

// Visual carries presentational hints. The server never interprets them.
type Visual struct {
	Color    string `json:"color,omitempty"`
	Texture  string `json:"texture,omitempty"`
	Material string `json:"material,omitempty"`
	Visible  bool   `json:"visible"`
}

func (Visual) ContractKind() Kind { return KindVisual }

// Entrance links an entity to a target position in another layer.
type Entrance struct {
	TargetLayer    string `json:"targetLayer"`
	TargetPosition Vec3   `json:"targetPosition"`
	Enabled        bool   `json:"enabled"`
}

func (Entrance) ContractKind() Kind { return KindEntrance }

// Portable marks an entity as something that can be picked up.
type Portable struct {
	CanPickup bool    `json:"canPickup"`
	Weight    float64 `json:"weight"`
}

func (Portable) ContractKind() Kind { return KindPortable }

// Inventory is an ordered list of carried entity ids.
type Inventory struct {
	Items    []string `json:"items"`
	Capacity *int     `json:"capacity,omitempty"`
}

func (Inventory) ContractKind() Kind { return KindInventory }

// Durability tracks an entity's health. An entity whose health reaches zero
// is destroyed.
type Durability struct {
	Health    float64  `json:"health"`
	MaxHealth float64  `json:"maxHealth"`
	Armor     *float64 `json:"armor,omitempty"`
}

func (Durability) ContractKind() Kind { return KindDurability }

// ContractLimit overrides the per-kind cardinality ceilings for the entity
// it is attached to.
type ContractLimit struct {
	Limits map[Kind]int `json:"limits"`
}

func (ContractLimit) ContractKind() Kind { return KindContractLimit }

// MovementRules configures directional stepping for an entity.
type MovementRules struct {
	StepDistance       float64 `json:"stepDistance"`
	AllowDiagonal      bool    `json:"allowDiagonal"`
	DiagonalNormalized bool    `json:"diagonalNormalized"`
}

func (MovementRules) ContractKind() Kind { return KindMovementRules }

// Weather enumerates the weather states a world may advertise.
type Weather string

const (
	WeatherClear Weather = "clear"
	WeatherRain  Weather = "rain"
	WeatherStorm Weather = "storm"
	WeatherSnow  Weather = "snow"
)

// TimeOfDay enumerates the coarse day cycle states.
type TimeOfDay string

const (
	TimeDawn  TimeOfDay = "dawn"
	TimeDay   TimeOfDay = "day"
	TimeDusk  TimeOfDay = "dusk"
	TimeNight TimeOfDay = "night"
)

// WorldConditions describes the ambient state of a world entity.
type WorldConditions struct {
	Gravity     float64        `json:"gravity"`
	Weather     Weather        `json:"weather,omitempty"`
	TimeOfDay   TimeOfDay      `json:"timeOfDay,omitempty"`
	TerrainSeed int64          `json:"terrainSeed,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
}

func (WorldConditions) ContractKind() Kind { return KindWorldConditions }

// WorldCommands is the allow-list of command names advertised by a world.
type WorldCommands struct {
	Commands []string `json:"commands"`
}

func (WorldCommands) ContractKind() Kind { return KindWorldCommands }

// CommandAccess is the allow-list of commands granted to an entity. It is
// expected to be a subset of the world's commands.
type CommandAccess struct {
	Commands []string `json:"commands"`
}

func (CommandAccess) ContractKind() Kind { return KindCommandAccess }
