package kinematics

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/cylinderworks/cylinderworks/internal/core/assembly"
	"github.com/cylinderworks/cylinderworks/internal/core/geom"
	"github.com/cylinderworks/cylinderworks/internal/core/observability/log"
)

type rotatingPart struct {
	name     string
	idx      int
	rest     mgl64.Mat4
	origin   mgl64.Vec3
	axis     mgl64.Vec3
	ratio    float64
	phase    float64
	fallback bool
}

func (b *builder) buildRotating() []rotatingPart {
	parts := make([]rotatingPart, 0, len(b.templates.Rotating))
	for _, t := range b.templates.Rotating {
		anchor, idx, ok := b.anchor(t.Part)
		if !ok {
			continue
		}

		rp := rotatingPart{
			name:  t.Part,
			idx:   idx,
			rest:  anchor.DefaultTransform,
			ratio: t.Ratio,
			phase: t.Phase,
		}
		if r, ok := b.settings.Ratios[t.Part]; ok {
			rp.ratio = r
		}
		if p, ok := b.settings.Phases[t.Part]; ok {
			rp.phase = p
		}

		found := false
		for _, p := range t.Axis {
			if m, ok := b.discovery.Get(p.Role); ok {
				rp.origin = worldPoint(anchor, m.Part.Position)
				rp.axis = geom.Normalize(worldDirection(anchor, m.Part.Axis))
				if geom.IsDegenerate(rp.axis) {
					rp.axis = geom.AxisX
				}
				found = true
				break
			}
		}
		if !found {
			rp.origin = geom.Translation(anchor.DefaultTransform)
			rp.axis = geom.AxisX
			rp.fallback = true
			b.logger.Debug("Rotating part has no axis constraint; using its origin and +X",
				log.String("part", t.Part))
		}
		parts = append(parts, rp)
	}
	return parts
}

func (rp *rotatingPart) apply(theta float64, pose []assembly.PartTransform) {
	angle := theta*rp.ratio + rp.phase
	pose[rp.idx].Transform = geom.RotateAbout(rp.rest, rp.origin, rp.axis, angle)
}
