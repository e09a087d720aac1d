package kinematics

import (
	"math"

	"github.com/cylinderworks/cylinderworks/internal/core/assembly"
)

// Pattern describes one constraint a mechanism role expects to find. Part is
// always required; the second participant is selected by Other, Ground or
// AnyOther (with ExcludeOther skipped).
type Pattern struct {
	Role         string
	Type         string
	Part         string
	Other        string
	Ground       bool
	AnyOther     bool
	ExcludeOther string
}

// Match is the constraint that satisfied a pattern.
type Match struct {
	Role       string
	Constraint string
	Part       assembly.ConstraintGeometry
	Other      assembly.ConstraintGeometry
}

// Match reports whether c satisfies the pattern.
func (p Pattern) Match(c assembly.Constraint) (Match, bool) {
	if c.Type != p.Type {
		return Match{}, false
	}

	partIdx := -1
	for i, g := range c.Geometries {
		if g.PartName == p.Part && !g.Ground {
			partIdx = i
			break
		}
	}
	if partIdx < 0 {
		return Match{}, false
	}

	for i, g := range c.Geometries {
		if i == partIdx || g.PartName == p.Part {
			continue
		}
		if p.accepts(g) {
			return Match{Role: p.Role, Constraint: c.Name, Part: c.Geometries[partIdx], Other: g}, true
		}
	}
	return Match{}, false
}

func (p Pattern) accepts(g assembly.ConstraintGeometry) bool {
	switch {
	case p.Ground:
		return g.Ground
	case p.Other != "":
		return !g.Ground && g.PartName == p.Other
	case p.AnyOther:
		return !g.Ground && g.PartName != "" && g.PartName != p.ExcludeOther
	default:
		return false
	}
}

type SliderCrankTemplate struct {
	Crank  string
	Rod    string
	Piston string

	CrankAxis  Pattern
	SmallEnd   Pattern
	BigEnd     Pattern
	PistonAxis Pattern
}

// RotatingTemplate drives a part at Ratio times the crank angle plus Phase.
// Axis patterns are tried in order.
type RotatingTemplate struct {
	Part  string
	Ratio float64
	Phase float64
	Axis  []Pattern
}

type ValvetrainTemplate struct {
	Name    string
	Pushrod string
	Rocker  string
	Shaft   string
	Valve   string
	Phase   float64

	PushrodAxis    Pattern
	ValveAxis      Pattern
	Pivot          Pattern
	PushrodContact Pattern
	ValveContact   Pattern
}

type FollowerTemplate struct {
	Source   string
	Follower string
}

// Templates is the full mechanism table for one engine topology.
type Templates struct {
	SliderCrank SliderCrankTemplate
	Rotating    []RotatingTemplate
	Valvetrains []ValvetrainTemplate
	Followers   []FollowerTemplate
	Watched     []string
}

// Patterns flattens the table in discovery order.
func (t Templates) Patterns() []Pattern {
	sc := t.SliderCrank
	out := []Pattern{sc.CrankAxis, sc.SmallEnd, sc.BigEnd, sc.PistonAxis}
	for _, r := range t.Rotating {
		out = append(out, r.Axis...)
	}
	for _, v := range t.Valvetrains {
		out = append(out, v.PushrodAxis, v.ValveAxis, v.Pivot, v.PushrodContact, v.ValveContact)
	}
	return out
}

func groundAxis(role, part string) Pattern {
	return Pattern{Role: role, Type: assembly.TypeConcentric, Part: part, Ground: true}
}

func rotating(part string, ratio float64) RotatingTemplate {
	role := "rotating." + part + ".axis"
	return RotatingTemplate{
		Part:  part,
		Ratio: ratio,
		Axis: []Pattern{
			groundAxis(role, part),
			{Role: role, Type: assembly.TypeConcentric, Part: part, AnyOther: true},
		},
	}
}

func valvetrainTemplate(name, suffix string, phase float64) ValvetrainTemplate {
	pushrod := "pushrod" + suffix
	rocker := "rocker_arm" + suffix
	valve := "valve" + suffix
	const shaft = "shaft"
	role := "valvetrain." + name + "."
	return ValvetrainTemplate{
		Name:    name,
		Pushrod: pushrod,
		Rocker:  rocker,
		Shaft:   shaft,
		Valve:   valve,
		Phase:   phase,

		PushrodAxis:    groundAxis(role+"pushrod_axis", pushrod),
		ValveAxis:      groundAxis(role+"valve_axis", valve),
		Pivot:          Pattern{Role: role + "pivot", Type: assembly.TypeConcentric, Part: rocker, Other: shaft},
		PushrodContact: Pattern{Role: role + "pushrod_contact", Type: assembly.TypeTangent, Part: rocker, Other: pushrod},
		ValveContact:   Pattern{Role: role + "valve_contact", Type: assembly.TypeTangent, Part: rocker, Other: valve},
	}
}

// DefaultTemplates describes the single-cylinder pushrod engine the CAD
// exporter produces.
func DefaultTemplates() Templates {
	const (
		crank  = "crankshaft"
		rod    = "connecting_rod"
		piston = "piston"
	)
	return Templates{
		SliderCrank: SliderCrankTemplate{
			Crank:  crank,
			Rod:    rod,
			Piston: piston,

			CrankAxis:  groundAxis("slider_crank.crank_axis", crank),
			SmallEnd:   Pattern{Role: "slider_crank.small_end", Type: assembly.TypeConcentric, Part: rod, Other: piston},
			BigEnd:     Pattern{Role: "slider_crank.big_end", Type: assembly.TypeConcentric, Part: rod, AnyOther: true, ExcludeOther: piston},
			PistonAxis: groundAxis("slider_crank.piston_axis", piston),
		},
		Rotating: []RotatingTemplate{
			rotating("shaft", 1),
			rotating("propeller", 1),
			rotating("driving_gear", 1),
			rotating("gear", -1),
			rotating("camshaft", 0.5),
		},
		Valvetrains: []ValvetrainTemplate{
			valvetrainTemplate("intake", "", 0),
			valvetrainTemplate("exhaust", "_2", math.Pi),
		},
		Followers: []FollowerTemplate{
			{Source: "valve", Follower: "retainer"},
			{Source: "valve_2", Follower: "retainer_2"},
			{Source: "connecting_rod", Follower: "pin"},
		},
		Watched: []string{"connecting_rod", "piston", "valve", "valve_2"},
	}
}
