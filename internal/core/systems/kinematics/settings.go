package kinematics

import (
	"fmt"
	"math"
)

type LiftProfile string

const (
	// LiftRaisedCosine ramps 0.5(1-cos(pi*p)) across the open half of the cam
	// cycle and drops to closed at its end.
	LiftRaisedCosine LiftProfile = "raised_cosine"
	// LiftSymmetric opens and closes within the open half: 0.5(1-cos(2*pi*p)).
	LiftSymmetric LiftProfile = "symmetric"
)

// Settings tunes the solver. Zero fields fall back to DefaultSettings.
type Settings struct {
	TargetValveLift   float64
	PositionTolerance float64
	AxisTolerance     float64
	CamRatio          float64
	LiftProfile       LiftProfile
	// Ratios and Phases override rotating-part entries by part name.
	Ratios map[string]float64
	Phases map[string]float64
}

func DefaultSettings() Settings {
	return Settings{
		TargetValveLift:   0.012,
		PositionTolerance: 1e-3,
		AxisTolerance:     0.99,
		CamRatio:          0.5,
		LiftProfile:       LiftRaisedCosine,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.TargetValveLift == 0 {
		s.TargetValveLift = def.TargetValveLift
	}
	if s.PositionTolerance == 0 {
		s.PositionTolerance = def.PositionTolerance
	}
	if s.AxisTolerance == 0 {
		s.AxisTolerance = def.AxisTolerance
	}
	if s.CamRatio == 0 {
		s.CamRatio = def.CamRatio
	}
	if s.LiftProfile == "" {
		s.LiftProfile = def.LiftProfile
	}
	return s
}

func (s Settings) Validate() error {
	switch {
	case s.TargetValveLift < 0 || math.IsNaN(s.TargetValveLift):
		return fmt.Errorf("target valve lift must be non-negative, got %v", s.TargetValveLift)
	case s.PositionTolerance < 0:
		return fmt.Errorf("position tolerance must be non-negative, got %v", s.PositionTolerance)
	case s.AxisTolerance < 0 || s.AxisTolerance > 1:
		return fmt.Errorf("axis tolerance must be within [0, 1], got %v", s.AxisTolerance)
	}
	switch s.LiftProfile {
	case "", LiftRaisedCosine, LiftSymmetric:
	default:
		return fmt.Errorf("unknown lift profile %q", s.LiftProfile)
	}
	for name, r := range s.Ratios {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return fmt.Errorf("ratio for %s is not finite", name)
		}
	}
	return nil
}

// normalizedLift maps a cam angle in [0, 2pi) to a lift fraction in [0, 1].
func (p LiftProfile) normalizedLift(cam float64) float64 {
	if cam >= math.Pi || cam < 0 {
		return 0
	}
	progress := cam / math.Pi
	if p == LiftSymmetric {
		return 0.5 * (1 - math.Cos(2*math.Pi*progress))
	}
	return 0.5 * (1 - math.Cos(progress*math.Pi))
}
