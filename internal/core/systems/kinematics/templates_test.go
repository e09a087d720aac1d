package kinematics

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"

	"github.com/cylinderworks/cylinderworks/internal/core/assembly"
)

func geometry(part string, ground bool) assembly.ConstraintGeometry {
	return assembly.ConstraintGeometry{PartName: part, Ground: ground, Axis: mgl64.Vec3{1, 0, 0}}
}

func TestPatternMatch(t *testing.T) {
	concentric := func(name string, gs ...assembly.ConstraintGeometry) assembly.Constraint {
		return assembly.Constraint{Name: name, Type: assembly.TypeConcentric, Geometries: gs}
	}

	cases := []struct {
		name    string
		pattern Pattern
		c       assembly.Constraint
		ok      bool
		other   string
	}{
		{
			name:    "ground",
			pattern: Pattern{Type: assembly.TypeConcentric, Part: "crankshaft", Ground: true},
			c:       concentric("main", geometry("crankshaft", false), geometry("block", true)),
			ok:      true,
			other:   "block",
		},
		{
			name:    "ground required",
			pattern: Pattern{Type: assembly.TypeConcentric, Part: "crankshaft", Ground: true},
			c:       concentric("pin", geometry("crankshaft", false), geometry("connecting_rod", false)),
		},
		{
			name:    "named other",
			pattern: Pattern{Type: assembly.TypeConcentric, Part: "connecting_rod", Other: "piston"},
			c:       concentric("wrist", geometry("piston", false), geometry("connecting_rod", false)),
			ok:      true,
			other:   "piston",
		},
		{
			name:    "wrong type",
			pattern: Pattern{Type: assembly.TypeTangent, Part: "connecting_rod", Other: "piston"},
			c:       concentric("wrist", geometry("connecting_rod", false), geometry("piston", false)),
		},
		{
			name:    "any other skips excluded",
			pattern: Pattern{Type: assembly.TypeConcentric, Part: "connecting_rod", AnyOther: true, ExcludeOther: "piston"},
			c:       concentric("wrist", geometry("connecting_rod", false), geometry("piston", false)),
		},
		{
			name:    "any other ignores ground",
			pattern: Pattern{Type: assembly.TypeConcentric, Part: "connecting_rod", AnyOther: true},
			c:       concentric("g", geometry("connecting_rod", false), geometry("block", true)),
		},
		{
			name:    "any other",
			pattern: Pattern{Type: assembly.TypeConcentric, Part: "connecting_rod", AnyOther: true, ExcludeOther: "piston"},
			c:       concentric("big", geometry("connecting_rod", false), geometry("crankshaft", false)),
			ok:      true,
			other:   "crankshaft",
		},
		{
			name:    "part absent",
			pattern: Pattern{Type: assembly.TypeConcentric, Part: "gear", Ground: true},
			c:       concentric("main", geometry("crankshaft", false), geometry("block", true)),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, ok := tc.pattern.Match(tc.c)
			require.Equal(t, tc.ok, ok)
			if !ok {
				return
			}
			require.Equal(t, tc.pattern.Part, m.Part.PartName)
			require.Equal(t, tc.other, m.Other.PartName)
			require.Equal(t, tc.c.Name, m.Constraint)
		})
	}
}

func TestDiscoverFixture(t *testing.T) {
	_, constraints := fixture(t)
	templates := DefaultTemplates()
	d := Discover(templates, constraints)

	require.Empty(t, d.Missing())

	want := map[string]string{
		"slider_crank.crank_axis":            "crank_main",
		"slider_crank.small_end":             "wrist_pin",
		"slider_crank.big_end":               "crank_pin",
		"slider_crank.piston_axis":           "bore",
		"rotating.shaft.axis":                "rocker_shaft_bearing",
		"rotating.propeller.axis":            "propeller_hub",
		"valvetrain.intake.pivot":            "rocker_pivot",
		"valvetrain.intake.pushrod_contact":  "pushrod_cup",
		"valvetrain.exhaust.valve_contact":   "valve_tip_2",
		"valvetrain.exhaust.pushrod_axis":    "pushrod_bore_2",
		"valvetrain.exhaust.valve_axis":      "valve_guide_2",
		"valvetrain.intake.valve_axis":       "valve_guide",
		"rotating.camshaft.axis":             "camshaft_bearing",
		"rotating.gear.axis":                 "gear_bearing",
		"rotating.driving_gear.axis":         "driving_gear_bearing",
		"valvetrain.exhaust.pushrod_contact": "pushrod_cup_2",
	}
	for role, constraint := range want {
		m, ok := d.Get(role)
		require.True(t, ok, role)
		require.Equal(t, constraint, m.Constraint, role)
	}
}

func TestDiscoverReportsMissingRolesOnce(t *testing.T) {
	d := Discover(DefaultTemplates(), nil)
	missing := d.Missing()
	require.Contains(t, missing, "slider_crank.big_end")
	require.Contains(t, missing, "rotating.camshaft.axis")

	seen := map[string]bool{}
	for _, role := range missing {
		require.False(t, seen[role], "duplicate role %s", role)
		seen[role] = true
	}
}

func TestRotatingFallsBackToAnyOther(t *testing.T) {
	constraints := []assembly.Constraint{{
		Name:       "mesh",
		Type:       assembly.TypeConcentric,
		Geometries: []assembly.ConstraintGeometry{geometry("gear", false), geometry("driving_gear", false)},
	}}
	d := Discover(DefaultTemplates(), constraints)
	m, ok := d.Get("rotating.gear.axis")
	require.True(t, ok)
	require.Equal(t, "driving_gear", m.Other.PartName)
}
