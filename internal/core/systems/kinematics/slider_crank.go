package kinematics

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/cylinderworks/cylinderworks/internal/core/assembly"
	"github.com/cylinderworks/cylinderworks/internal/core/geom"
)

const mechanismSliderCrank = "slider_crank"

// sliderCrank holds the rest-frame constants of crank, rod and piston.
type sliderCrank struct {
	valid bool

	crankIdx, rodIdx, pistonIdx int

	crankDefault          mgl64.Mat4
	rodDefaultNoTranslate mgl64.Mat4
	pistonDefault         mgl64.Mat4

	rodSmallLocal mgl64.Vec3
	rodBigLocal   mgl64.Vec3
	crankPinLocal mgl64.Vec3
	rodAxisRest   mgl64.Vec3
	rodLength     float64

	crankOrigin     mgl64.Vec3
	crankAxis       mgl64.Vec3
	crankAxisOffset float64
	crankRadius     float64
	perpX, perpY    mgl64.Vec3

	pistonAxis mgl64.Vec3
	pistonBase mgl64.Vec3
}

func (b *builder) buildSliderCrank() sliderCrank {
	t := b.templates.SliderCrank
	if !b.present(t.Crank, t.Rod, t.Piston) {
		return sliderCrank{}
	}
	if missing := b.missingAnchors(t.Crank, t.Rod, t.Piston); len(missing) > 0 {
		b.invalidate(mechanismSliderCrank, "missing parts", missing...)
		return sliderCrank{}
	}
	matches, missing := b.discovery.Lookup(t.CrankAxis, t.SmallEnd, t.BigEnd, t.PistonAxis)
	if len(missing) > 0 {
		b.invalidate(mechanismSliderCrank, "missing constraints", missing...)
		return sliderCrank{}
	}
	crankGeom, small, big, bore := matches[0], matches[1], matches[2], matches[3]

	crank, crankIdx, _ := b.anchor(t.Crank)
	rod, rodIdx, _ := b.anchor(t.Rod)
	piston, pistonIdx, _ := b.anchor(t.Piston)

	sc := sliderCrank{
		crankIdx:              crankIdx,
		rodIdx:                rodIdx,
		pistonIdx:             pistonIdx,
		crankDefault:          crank.DefaultTransform,
		rodDefaultNoTranslate: geom.RemoveTranslation(rod.DefaultTransform),
		pistonDefault:         piston.DefaultTransform,
		rodSmallLocal:         small.Part.Position,
		rodBigLocal:           big.Part.Position,
	}
	if big.Other.PartName == t.Crank {
		sc.crankPinLocal = big.Other.Position
	}

	sc.pistonAxis = geom.Normalize(worldDirection(piston, bore.Part.Axis))
	if geom.IsDegenerate(sc.pistonAxis) {
		b.invalidate(mechanismSliderCrank, "piston axis is degenerate")
		return sliderCrank{}
	}
	sc.pistonBase = worldPoint(piston, small.Other.Position)

	rodSmall := worldPoint(rod, sc.rodSmallLocal)
	rodBig := worldPoint(rod, sc.rodBigLocal)
	sc.rodLength = rodBig.Sub(rodSmall).Len()
	if sc.rodLength <= geom.Epsilon {
		b.invalidate(mechanismSliderCrank, "connecting rod length is zero")
		return sliderCrank{}
	}
	sc.rodAxisRest = geom.Normalize(rodBig.Sub(rodSmall))

	sc.crankOrigin = worldPoint(crank, crankGeom.Part.Position)
	sc.crankAxis = geom.Normalize(worldDirection(crank, crankGeom.Part.Axis))
	if geom.IsDegenerate(sc.crankAxis) {
		b.invalidate(mechanismSliderCrank, "crank axis is degenerate")
		return sliderCrank{}
	}

	toBig := rodBig.Sub(sc.crankOrigin)
	sc.crankAxisOffset = toBig.Dot(sc.crankAxis)
	radial := toBig.Sub(sc.crankAxis.Mul(sc.crankAxisOffset))
	sc.crankRadius = radial.Len()
	if sc.crankRadius <= geom.Epsilon {
		b.invalidate(mechanismSliderCrank, "crank radius is zero")
		return sliderCrank{}
	}
	sc.perpX = radial.Mul(1 / sc.crankRadius)
	sc.perpY = geom.Normalize(sc.crankAxis.Cross(sc.perpX))

	sc.valid = true
	return sc
}

// crankPin is the big-end position for angle theta.
func (sc *sliderCrank) crankPin(theta float64) mgl64.Vec3 {
	return sc.crankOrigin.
		Add(sc.crankAxis.Mul(sc.crankAxisOffset)).
		Add(sc.perpX.Mul(sc.crankRadius * math.Cos(theta))).
		Add(sc.perpY.Mul(sc.crankRadius * math.Sin(theta)))
}

// displacement solves |bigEnd - (base + axis*d)| = rodLength for d and keeps
// the root nearest last. The other root is returned as discarded.
func (sc *sliderCrank) displacement(bigEnd mgl64.Vec3, last float64) (chosen, discarded float64) {
	relative := bigEnd.Sub(sc.pistonBase)
	along := sc.pistonAxis.Dot(relative)
	c := relative.Dot(relative) - sc.rodLength*sc.rodLength
	disc := along*along - c
	if disc < 0 {
		disc = 0
	}
	root := math.Sqrt(disc)
	first, second := along+root, along-root

	if !isFinite(first) {
		first = second
	}
	if !isFinite(second) {
		second = first
	}

	if math.Abs(second-last) < math.Abs(first-last) {
		return second, first
	}
	return first, second
}

func (sc *sliderCrank) apply(theta, last float64, pose []assembly.PartTransform) float64 {
	bigEnd := sc.crankPin(theta)
	d, _ := sc.displacement(bigEnd, last)
	smallEnd := sc.pistonBase.Add(sc.pistonAxis.Mul(d))

	pose[sc.pistonIdx].Transform = geom.Translate(sc.pistonAxis.Mul(d)).Mul4(sc.pistonDefault)

	// Align the rest axis with the new pin-to-pin direction, then shift by
	// the mean of both pin corrections.
	target := geom.Normalize(bigEnd.Sub(smallEnd))
	rotated := geom.RotationBetween(sc.rodAxisRest, target, sc.crankAxis).Mul4(sc.rodDefaultNoTranslate)
	smallFix := smallEnd.Sub(geom.TransformPoint(rotated, sc.rodSmallLocal))
	bigFix := bigEnd.Sub(geom.TransformPoint(rotated, sc.rodBigLocal))
	pose[sc.rodIdx].Transform = geom.Translate(smallFix.Add(bigFix).Mul(0.5)).Mul4(rotated)

	pose[sc.crankIdx].Transform = geom.RotateAbout(sc.crankDefault, sc.crankOrigin, sc.crankAxis, theta)
	return d
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
