package contract

import (
	"encoding/json"
	"fmt"
)

// InvalidError is returned when a contract record fails schema validation.
// It carries the path of the offending field so the error can be surfaced to
// clients as-is.
type InvalidError struct {
	Kind    Kind
	Field   string
	Message string
}

func (e *InvalidError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %v contract: %v", e.Kind, e.Message)
	}
	return fmt.Sprintf("invalid %v contract: %v: %v", e.Kind, e.Field, e.Message)
}

func invalid(k Kind, field, message string) error {
	return &InvalidError{Kind: k, Field: field, Message: message}
}

// entry binds a decoder and a validator to a contract kind.
type entry struct {
	decode   func(data []byte) (Contract, error)
	validate func(c Contract) error
}

var registry = map[Kind]entry{}

// Register installs a decoder and validator for a kind. All built-in kinds
// are registered at init time; calling Register afterwards is reserved for
// tests that exercise open-world extension.
func Register(k Kind, decode func(data []byte) (Contract, error), validate func(c Contract) error) {
	registry[k] = entry{decode: decode, validate: validate}
}

// register is a typed helper used for the built-in kinds.
func register[T Contract](k Kind, validate func(c T) error) {
	Register(k, func(data []byte) (Contract, error) {
		var c T
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, invalid(k, "", err.Error())
		}
		return c, nil
	}, func(c Contract) error {
		t, ok := c.(T)
		if !ok {
			return invalid(k, "", fmt.Sprintf("unexpected record type %T", c))
		}
		return validate(t)
	})
}

// Validate checks a contract record against the schema registered for its
// kind. A nil return means the record may be stored and observed.
func Validate(c Contract) error {
	if c == nil {
		return invalid("", "", "nil contract")
	}
	e, ok := registry[c.ContractKind()]
	if !ok {
		return invalid(c.ContractKind(), "kind", "unrecognized kind")
	}
	return e.validate(c)
}

// Marshal encodes a contract record to its wire form, injecting the "kind"
// discriminator.
func Marshal(c Contract) (json.RawMessage, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(c.ContractKind())
	fields["kind"] = kind
	return json.Marshal(fields)
}

// MarshalAll encodes a slice of contract records to their wire forms.
func MarshalAll(cs []Contract) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(cs))
	for _, c := range cs {
		raw, err := Marshal(c)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// Unmarshal decodes a wire-form contract record, dispatching on its "kind"
// field. Unknown fields are ignored; an unknown kind is an InvalidError.
func Unmarshal(data []byte) (Contract, error) {
	var env struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, invalid("", "kind", err.Error())
	}
	e, ok := registry[env.Kind]
	if !ok {
		return nil, invalid(env.Kind, "kind", "unrecognized kind")
	}
	return e.decode(data)
}

func init() {
	register(KindIdentity, func(c Identity) error {
		if c.ID == "" {
			return invalid(KindIdentity, "id", "must not be empty")
		}
		return nil
	})
	register(KindMobility, func(c Mobility) error {
		if c.MaxSpeed != nil && *c.MaxSpeed <= 0 {
			return invalid(KindMobility, "maxSpeed", "must be positive")
		}
		if c.Acceleration != nil && *c.Acceleration <= 0 {
			return invalid(KindMobility, "acceleration", "must be positive")
		}
		return nil
	})
	register(KindShape, func(c Shape) error {
		if c.Min.X > c.Max.X || c.Min.Y > c.Max.Y || c.Min.Z > c.Max.Z {
			return invalid(KindShape, "min", "must not exceed max on any axis")
		}
		switch c.Geometry {
		case "", GeometryBox, GeometrySphere, GeometryCylinder, GeometryMesh:
			return nil
		}
		return invalid(KindShape, "geometry", fmt.Sprintf("unknown geometry %q", c.Geometry))
	})
	register(KindSolidity, func(Solidity) error { return nil })
	register(KindVisual, func(Visual) error { return nil })
	register(KindEntrance, func(c Entrance) error {
		if c.TargetLayer == "" {
			return invalid(KindEntrance, "targetLayer", "must not be empty")
		}
		return nil
	})
	register(KindPortable, func(c Portable) error {
		if c.Weight < 0 {
			return invalid(KindPortable, "weight", "must not be negative")
		}
		return nil
	})
	register(KindInventory, func(c Inventory) error {
		if c.Capacity != nil {
			if *c.Capacity < 0 {
				return invalid(KindInventory, "capacity", "must not be negative")
			}
			if len(c.Items) > *c.Capacity {
				return invalid(KindInventory, "items", "exceeds capacity")
			}
		}
		return nil
	})
	register(KindDurability, func(c Durability) error {
		if c.MaxHealth <= 0 {
			return invalid(KindDurability, "maxHealth", "must be positive")
		}
		if c.Health < 0 {
			return invalid(KindDurability, "health", "must not be negative")
		}
		if c.Health > c.MaxHealth {
			return invalid(KindDurability, "health", "must not exceed maxHealth")
		}
		if c.Armor != nil && *c.Armor < 0 {
			return invalid(KindDurability, "armor", "must not be negative")
		}
		return nil
	})
	register(KindContractLimit, func(c ContractLimit) error {
		for kind, limit := range c.Limits {
			if limit <= 0 {
				return invalid(KindContractLimit, "limits."+string(kind), "must be positive")
			}
		}
		return nil
	})
	register(KindMovementRules, func(c MovementRules) error {
		if c.StepDistance <= 0 {
			return invalid(KindMovementRules, "stepDistance", "must be positive")
		}
		return nil
	})
	register(KindWorldConditions, func(c WorldConditions) error {
		switch c.Weather {
		case "", WeatherClear, WeatherRain, WeatherStorm, WeatherSnow:
		default:
			return invalid(KindWorldConditions, "weather", fmt.Sprintf("unknown weather %q", c.Weather))
		}
		switch c.TimeOfDay {
		case "", TimeDawn, TimeDay, TimeDusk, TimeNight:
		default:
			return invalid(KindWorldConditions, "timeOfDay", fmt.Sprintf("unknown timeOfDay %q", c.TimeOfDay))
		}
		return nil
	})
	register(KindWorldCommands, func(WorldCommands) error { return nil })
	register(KindCommandAccess, func(CommandAccess) error { return nil })
}
