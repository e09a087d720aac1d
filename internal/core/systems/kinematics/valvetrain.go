package kinematics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/cylinderworks/cylinderworks/internal/core/assembly"
	"github.com/cylinderworks/cylinderworks/internal/core/geom"
)

// valvetrain is a pushrod lifting one end of a rocker whose other end pushes
// a valve open. Contacts and arms are measured in the rest pose.
type valvetrain struct {
	name string

	pushrodIdx, rockerIdx, valveIdx int
	pushrodRest, rockerRest, valveRest mgl64.Mat4

	pushrodAxis mgl64.Vec3
	valveAxis   mgl64.Vec3
	pivot       mgl64.Vec3
	pivotAxis   mgl64.Vec3

	// rest vectors from the pivot to each rocker contact
	pushrodArm mgl64.Vec3
	valveArm   mgl64.Vec3

	pushrodMoment float64
	valveMoment   float64
	amplitude     float64
	phase         float64
}

func (b *builder) buildValvetrains() []valvetrain {
	out := make([]valvetrain, 0, len(b.templates.Valvetrains))
	for _, t := range b.templates.Valvetrains {
		if vt, ok := b.buildValvetrain(t); ok {
			out = append(out, vt)
		}
	}
	return out
}

func (b *builder) buildValvetrain(t ValvetrainTemplate) (valvetrain, bool) {
	mechanism := "valvetrain." + t.Name
	if !b.present(t.Pushrod, t.Rocker, t.Valve) {
		return valvetrain{}, false
	}
	if missing := b.missingAnchors(t.Pushrod, t.Rocker, t.Valve); len(missing) > 0 {
		b.invalidate(mechanism, "missing parts", missing...)
		return valvetrain{}, false
	}
	matches, missing := b.discovery.Lookup(t.PushrodAxis, t.ValveAxis, t.Pivot, t.PushrodContact, t.ValveContact)
	if len(missing) > 0 {
		b.invalidate(mechanism, "missing constraints", missing...)
		return valvetrain{}, false
	}
	pushrodGuide, valveGuide, pivot, pushrodContact, valveContact := matches[0], matches[1], matches[2], matches[3], matches[4]

	pushrod, pushrodIdx, _ := b.anchor(t.Pushrod)
	rocker, rockerIdx, _ := b.anchor(t.Rocker)
	valve, valveIdx, _ := b.anchor(t.Valve)

	vt := valvetrain{
		name:        t.Name,
		pushrodIdx:  pushrodIdx,
		rockerIdx:   rockerIdx,
		valveIdx:    valveIdx,
		pushrodRest: pushrod.DefaultTransform,
		rockerRest:  rocker.DefaultTransform,
		valveRest:   valve.DefaultTransform,
		phase:       t.Phase,
	}

	vt.pushrodAxis = geom.Normalize(worldDirection(pushrod, pushrodGuide.Part.Axis))
	vt.valveAxis = geom.Normalize(worldDirection(valve, valveGuide.Part.Axis))
	vt.pivotAxis = geom.Normalize(worldDirection(rocker, pivot.Part.Axis))
	if geom.IsDegenerate(vt.pushrodAxis) || geom.IsDegenerate(vt.valveAxis) || geom.IsDegenerate(vt.pivotAxis) {
		b.invalidate(mechanism, "degenerate slider or pivot axis")
		return valvetrain{}, false
	}
	vt.pivot = worldPoint(rocker, pivot.Part.Position)

	vt.pushrodArm = worldPoint(rocker, pushrodContact.Part.Position).Sub(vt.pivot)
	vt.valveArm = worldPoint(rocker, valveContact.Part.Position).Sub(vt.pivot)

	// Lever moment of each contact about the pivot along its slider.
	vt.pushrodMoment = vt.pivotAxis.Cross(vt.pushrodArm).Dot(vt.pushrodAxis)
	vt.valveMoment = vt.pivotAxis.Cross(vt.valveArm).Dot(vt.valveAxis)
	if math.Abs(vt.pushrodMoment) <= geom.Epsilon || math.Abs(vt.valveMoment) <= geom.Epsilon {
		b.invalidate(mechanism, "rocker has no leverage on its sliders")
		return valvetrain{}, false
	}
	vt.amplitude = b.settings.TargetValveLift * vt.pushrodMoment / vt.valveMoment
	return vt, true
}

// camAngle is the valvetrain's position in its own cam cycle, in [0, 2pi).
func (vt *valvetrain) camAngle(theta, ratio float64) float64 {
	return geom.WrapAngle(theta*ratio + vt.phase)
}

// rockerAngle derives the rocker rotation that follows a pushrod raised by d.
func (vt *valvetrain) rockerAngle(d float64) (float64, bool) {
	tip := vt.pushrodArm.Add(vt.pushrodAxis.Mul(d))
	a := geom.Normalize(project(vt.pushrodArm, vt.pivotAxis))
	b := geom.Normalize(project(tip, vt.pivotAxis))
	if geom.IsDegenerate(a) || geom.IsDegenerate(b) {
		return 0, false
	}
	return math.Atan2(vt.pivotAxis.Dot(a.Cross(b)), a.Dot(b)), true
}

// lifts returns the pushrod displacement consistent with the rocker at phi
// and the resulting valve lift, never negative.
func (vt *valvetrain) lifts(phi float64) (pushrod, valve float64) {
	rot := geom.AxisAngle(vt.pivotAxis, phi)
	pushrod = geom.TransformDirection(rot, vt.pushrodArm).Sub(vt.pushrodArm).Dot(vt.pushrodAxis)
	valve = geom.TransformDirection(rot, vt.valveArm).Sub(vt.valveArm).Dot(vt.valveAxis)
	return pushrod, math.Max(0, valve)
}

func (vt *valvetrain) apply(theta float64, settings Settings, pose []assembly.PartTransform) {
	normalized := settings.LiftProfile.normalizedLift(vt.camAngle(theta, settings.CamRatio))
	if normalized <= 0 {
		return
	}
	phi, ok := vt.rockerAngle(vt.amplitude * normalized)
	if !ok {
		return
	}
	pushrod, valve := vt.lifts(phi)

	pose[vt.pushrodIdx].Transform = geom.Translate(vt.pushrodAxis.Mul(pushrod)).Mul4(vt.pushrodRest)
	pose[vt.rockerIdx].Transform = geom.RotateAbout(vt.rockerRest, vt.pivot, vt.pivotAxis, phi)
	pose[vt.valveIdx].Transform = geom.Translate(vt.valveAxis.Mul(valve)).Mul4(vt.valveRest)
}

// project removes the component of v along unit axis n.
func project(v, n mgl64.Vec3) mgl64.Vec3 {
	return v.Sub(n.Mul(v.Dot(n)))
}
