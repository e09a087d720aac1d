package kinematics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// SliderCrankGeometry exposes the cached slider-crank constants, mostly for
// invariant checks.
type SliderCrankGeometry struct {
	Crank  string
	Rod    string
	Piston string

	CrankOrigin     mgl64.Vec3
	CrankAxis       mgl64.Vec3
	CrankAxisOffset float64
	CrankRadius     float64
	PerpX, PerpY    mgl64.Vec3
	RodLength       float64
	PistonAxis      mgl64.Vec3
	PistonBase      mgl64.Vec3

	RodSmallLocal mgl64.Vec3
	RodBigLocal   mgl64.Vec3
	CrankPinLocal mgl64.Vec3
}

// CrankPin is the big-end world position at theta.
func (g SliderCrankGeometry) CrankPin(theta float64) mgl64.Vec3 {
	return g.CrankOrigin.
		Add(g.CrankAxis.Mul(g.CrankAxisOffset)).
		Add(g.PerpX.Mul(g.CrankRadius * math.Cos(theta))).
		Add(g.PerpY.Mul(g.CrankRadius * math.Sin(theta)))
}

// DeadCenters returns the crank angles, in [0, 2pi), where the crank pin is
// furthest along and against the piston axis.
func (g SliderCrankGeometry) DeadCenters() (top, bottom float64) {
	top = math.Atan2(g.PerpY.Dot(g.PistonAxis), g.PerpX.Dot(g.PistonAxis))
	if top < 0 {
		top += 2 * math.Pi
	}
	bottom = math.Mod(top+math.Pi, 2*math.Pi)
	return top, bottom
}

// SliderCrank reports the slider-crank constants, if the mechanism is valid.
func (s *System) SliderCrank() (SliderCrankGeometry, bool) {
	st := s.state.Load()
	if st == nil || !st.slider.valid {
		return SliderCrankGeometry{}, false
	}
	sc := st.slider
	t := s.templates.SliderCrank
	return SliderCrankGeometry{
		Crank:           t.Crank,
		Rod:             t.Rod,
		Piston:          t.Piston,
		CrankOrigin:     sc.crankOrigin,
		CrankAxis:       sc.crankAxis,
		CrankAxisOffset: sc.crankAxisOffset,
		CrankRadius:     sc.crankRadius,
		PerpX:           sc.perpX,
		PerpY:           sc.perpY,
		RodLength:       sc.rodLength,
		PistonAxis:      sc.pistonAxis,
		PistonBase:      sc.pistonBase,
		RodSmallLocal:   sc.rodSmallLocal,
		RodBigLocal:     sc.rodBigLocal,
		CrankPinLocal:   sc.crankPinLocal,
	}, true
}

type ValvetrainGeometry struct {
	Name          string
	Pushrod       string
	Rocker        string
	Valve         string
	ValveAxis     mgl64.Vec3
	PushrodAxis   mgl64.Vec3
	Pivot         mgl64.Vec3
	PivotAxis     mgl64.Vec3
	PushrodMoment float64
	ValveMoment   float64
	Amplitude     float64
	Phase         float64
}

// CamAngle is the valvetrain's cam position for crank angle theta.
func (g ValvetrainGeometry) CamAngle(theta, camRatio float64) float64 {
	vt := valvetrain{phase: g.Phase}
	return vt.camAngle(theta, camRatio)
}

// Valvetrains lists the valid valvetrains in template order.
func (s *System) Valvetrains() []ValvetrainGeometry {
	st := s.state.Load()
	if st == nil {
		return nil
	}
	names := make(map[string]ValvetrainTemplate, len(s.templates.Valvetrains))
	for _, t := range s.templates.Valvetrains {
		names[t.Name] = t
	}
	out := make([]ValvetrainGeometry, 0, len(st.valvetrains))
	for _, vt := range st.valvetrains {
		t := names[vt.name]
		out = append(out, ValvetrainGeometry{
			Name:          vt.name,
			Pushrod:       t.Pushrod,
			Rocker:        t.Rocker,
			Valve:         t.Valve,
			ValveAxis:     vt.valveAxis,
			PushrodAxis:   vt.pushrodAxis,
			Pivot:         vt.pivot,
			PivotAxis:     vt.pivotAxis,
			PushrodMoment: vt.pushrodMoment,
			ValveMoment:   vt.valveMoment,
			Amplitude:     vt.amplitude,
			Phase:         vt.phase,
		})
	}
	return out
}
