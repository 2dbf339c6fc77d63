package contract

import (
	"errors"
	"testing"
)

func TestValidateRejectsBadNumericDomains(t *testing.T) {
	neg := -1.0
	zero := 0.0
	cases := []struct {
		name  string
		c     Contract
		field string
	}{
		{"maxSpeed zero", Mobility{MaxSpeed: &zero}, "maxSpeed"},
		{"acceleration negative", Mobility{Acceleration: &neg}, "acceleration"},
		{"shape inverted", Shape{Min: Vec3{X: 1}, Max: Vec3{X: -1}}, "min"},
		{"shape geometry", Shape{Geometry: "torus"}, "geometry"},
		{"portable weight", Portable{Weight: -2}, "weight"},
		{"durability maxHealth", Durability{Health: 0, MaxHealth: 0}, "maxHealth"},
		{"durability overheal", Durability{Health: 10, MaxHealth: 5}, "health"},
		{"durability armor", Durability{Health: 1, MaxHealth: 1, Armor: &neg}, "armor"},
		{"limit zero", ContractLimit{Limits: map[Kind]int{KindEntrance: 0}}, "limits.entrance"},
		{"step distance", MovementRules{StepDistance: 0}, "stepDistance"},
		{"weather", WorldConditions{Weather: "hail"}, "weather"},
		{"identity id", Identity{}, "id"},
		{"entrance layer", Entrance{}, "targetLayer"},
	}
	for _, tc := range cases {
		err := Validate(tc.c)
		if err == nil {
			t.Fatalf("%v: expected validation error", tc.name)
		}
		var inv *InvalidError
		if !errors.As(err, &inv) {
			t.Fatalf("%v: expected InvalidError, got %T", tc.name, err)
		}
		if inv.Field != tc.field {
			t.Fatalf("%v: expected field %q, got %q", tc.name, tc.field, inv.Field)
		}
	}
}

func TestValidateAcceptsWellFormedRecords(t *testing.T) {
	speed := 5.0
	cap := 10
	records := []Contract{
		Identity{ID: "e1", Name: "thing"},
		Mobility{Position: Vec3{X: 1, Y: 2, Z: 3}, MaxSpeed: &speed},
		Shape{Min: Vec3{X: -0.5, Y: 0, Z: -0.5}, Max: Vec3{X: 0.5, Y: 1.8, Z: 0.5}, Geometry: GeometryBox},
		Solidity{Solid: true},
		Visual{Visible: true, Color: "#ff0000"},
		Entrance{TargetLayer: "nether", Enabled: true},
		Portable{CanPickup: true, Weight: 1.5},
		Inventory{Items: []string{"a", "b"}, Capacity: &cap},
		Durability{Health: 50, MaxHealth: 100},
		ContractLimit{Limits: map[Kind]int{KindEntrance: 5, KindPortable: 3}},
		MovementRules{StepDistance: 1, AllowDiagonal: true, DiagonalNormalized: true},
		WorldConditions{Gravity: -9.81, Weather: WeatherRain, TimeOfDay: TimeNight},
		WorldCommands{Commands: []string{"login", "move"}},
		CommandAccess{Commands: []string{"move"}},
	}
	for _, c := range records {
		if err := Validate(c); err != nil {
			t.Fatalf("%v: unexpected validation error: %v", c.ContractKind(), err)
		}
	}
}

// Every record accepted by Validate must still be accepted after a wire
// round trip.
func TestMarshalRoundTripPreservesValidity(t *testing.T) {
	speed := 7.5
	records := []Contract{
		Identity{ID: "e1", Name: "thing", Description: "a thing"},
		Mobility{Position: Vec3{X: 1.5, Y: -2, Z: 3}, Velocity: &Vec3{X: 0.1}, MaxSpeed: &speed},
		Shape{Min: Vec3{X: -0.5}, Max: Vec3{X: 0.5, Y: 1}, Geometry: GeometryBox},
		Durability{Health: 5, MaxHealth: 5},
		ContractLimit{Limits: map[Kind]int{KindEntrance: 5}},
	}
	for _, c := range records {
		raw, err := Marshal(c)
		if err != nil {
			t.Fatalf("%v: marshal: %v", c.ContractKind(), err)
		}
		back, err := Unmarshal(raw)
		if err != nil {
			t.Fatalf("%v: unmarshal: %v", c.ContractKind(), err)
		}
		if back.ContractKind() != c.ContractKind() {
			t.Fatalf("kind changed in round trip: %v != %v", back.ContractKind(), c.ContractKind())
		}
		if err := Validate(back); err != nil {
			t.Fatalf("%v: round-tripped record fails validation: %v", c.ContractKind(), err)
		}
	}
}

func TestUnmarshalUnknownKind(t *testing.T) {
	if _, err := Unmarshal([]byte(`{"kind":"teleporter"}`)); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestMaxForPrefersOverride(t *testing.T) {
	limits := &ContractLimit{Limits: map[Kind]int{KindEntrance: 5}}
	if n, ok := MaxFor(limits, KindEntrance); !ok || n != 5 {
		t.Fatalf("expected override 5, got %d (%v)", n, ok)
	}
	if n, ok := MaxFor(limits, KindPortable); !ok || n != 3 {
		t.Fatalf("expected default 3, got %d (%v)", n, ok)
	}
	if n, ok := MaxFor(nil, KindIdentity); !ok || n != 1 {
		t.Fatalf("expected default 1, got %d (%v)", n, ok)
	}
	if _, ok := MaxFor(nil, Kind("custom")); ok {
		t.Fatal("expected unrecognized kind to be unbounded")
	}
}
