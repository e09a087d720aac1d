package kinematics

import (
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/cylinderworks/cylinderworks/internal/core/assembly"
	"github.com/cylinderworks/cylinderworks/internal/core/geom"
)

type validationPair struct {
	constraint   string
	idxA, idxB   int
	nameA, nameB string
	pointA       mgl64.Vec3
	pointB       mgl64.Vec3
	axisA, axisB mgl64.Vec3
}

func (b *builder) buildValidationPairs() []validationPair {
	var pairs []validationPair
	for _, c := range b.constraints {
		if c.Type != assembly.TypeConcentric && c.Type != assembly.TypeCoincident {
			continue
		}

		entries := make([]assembly.ConstraintGeometry, 0, len(c.Geometries))
		for _, g := range c.Geometries {
			if g.Ground || g.PartName == "" {
				continue
			}
			entries = append(entries, g)
		}

		for i := 0; i < len(entries); i++ {
			for j := i + 1; j < len(entries); j++ {
				first, second := entries[i], entries[j]
				if !slices.Contains(b.templates.Watched, first.PartName) &&
					!slices.Contains(b.templates.Watched, second.PartName) {
					continue
				}
				idxA, okA := b.index[first.PartName]
				idxB, okB := b.index[second.PartName]
				if !okA || !okB {
					continue
				}
				pairs = append(pairs, validationPair{
					constraint: c.Name,
					idxA:       idxA,
					idxB:       idxB,
					nameA:      first.PartName,
					nameB:      second.PartName,
					pointA:     first.Position,
					pointB:     second.Position,
					axisA:      first.Axis,
					axisB:      second.Axis,
				})
			}
		}
	}
	return pairs
}

func validate(pairs []validationPair, pose []assembly.PartTransform, settings Settings) []Violation {
	var out []Violation
	for _, p := range pairs {
		if p.idxA >= len(pose) || p.idxB >= len(pose) {
			continue
		}
		ta, tb := pose[p.idxA].Transform, pose[p.idxB].Transform

		distance := geom.TransformPoint(ta, p.pointA).Sub(geom.TransformPoint(tb, p.pointB)).Len()
		alignment := 1.0
		if p.axisA.Len() > geom.Epsilon && p.axisB.Len() > geom.Epsilon {
			axisA := geom.Normalize(geom.TransformDirection(ta, p.axisA))
			axisB := geom.Normalize(geom.TransformDirection(tb, p.axisB))
			alignment = math.Abs(axisA.Dot(axisB))
		}

		if distance > settings.PositionTolerance || alignment < settings.AxisTolerance {
			out = append(out, Violation{
				Constraint: p.constraint,
				PartA:      p.nameA,
				PartB:      p.nameB,
				Distance:   distance,
				Alignment:  alignment,
			})
		}
	}
	return out
}
