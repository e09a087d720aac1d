package kinematics

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/cylinderworks/cylinderworks/internal/core/assembly"
	"github.com/cylinderworks/cylinderworks/internal/core/geom"
	"github.com/cylinderworks/cylinderworks/internal/core/observability/log"
)

type builder struct {
	anchors     []assembly.Anchor
	constraints []assembly.Constraint
	templates   Templates
	settings    Settings
	logger      log.Log

	index     map[string]int
	discovery Discovery
	invalid   []MechanismInvalid
}

func newBuilder(anchors []assembly.Anchor, constraints []assembly.Constraint, t Templates, s Settings, logger log.Log) *builder {
	return &builder{
		anchors:     anchors,
		constraints: constraints,
		templates:   t,
		settings:    s,
		logger:      logger,
		index:       make(map[string]int, len(anchors)),
	}
}

func (b *builder) build() *solverState {
	st := &solverState{
		defaults: make([]assembly.PartTransform, 0, len(b.anchors)),
		index:    b.index,
	}
	for i, anchor := range b.anchors {
		st.defaults = append(st.defaults, assembly.PartTransform{Name: anchor.Name, Transform: anchor.DefaultTransform})
		if anchor.Name == "" {
			b.logger.Warn("Kinematics anchor is missing a name", log.Int("index", i))
			continue
		}
		b.index[anchor.Name] = i
	}

	b.discovery = Discover(b.templates, b.constraints)

	st.slider = b.buildSliderCrank()
	st.rotating = b.buildRotating()
	st.valvetrains = b.buildValvetrains()
	st.followers = b.buildFollowers()
	st.pairs = b.buildValidationPairs()

	st.summary = Summary{
		Parts:           len(b.anchors),
		Constraints:     len(b.constraints),
		SliderCrank:     st.slider.valid,
		Rotating:        make([]string, 0, len(st.rotating)),
		Valvetrains:     make([]string, 0, len(st.valvetrains)),
		Followers:       make([]string, 0, len(st.followers)),
		ValidationPairs: len(st.pairs),
		Invalid:         b.invalid,
	}
	for _, r := range st.rotating {
		st.summary.Rotating = append(st.summary.Rotating, r.name)
	}
	for _, v := range st.valvetrains {
		st.summary.Valvetrains = append(st.summary.Valvetrains, v.name)
	}
	for _, f := range st.followers {
		st.summary.Followers = append(st.summary.Followers, f.name)
	}
	return st
}

func (b *builder) anchor(name string) (assembly.Anchor, int, bool) {
	idx, ok := b.index[name]
	if !ok {
		return assembly.Anchor{}, -1, false
	}
	return b.anchors[idx], idx, true
}

// present reports whether any of the named parts exists. A mechanism with
// none of its parts is absent, not invalid.
func (b *builder) present(names ...string) bool {
	for _, n := range names {
		if _, ok := b.index[n]; ok {
			return true
		}
	}
	return false
}

func (b *builder) missingAnchors(names ...string) []string {
	var missing []string
	for _, n := range names {
		if _, ok := b.index[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}

func (b *builder) invalidate(mechanism, reason string, missing ...string) {
	b.logger.Warn("Mechanism disabled",
		log.String("mechanism", mechanism),
		log.String("reason", reason),
		log.Strings("missing", missing))
	b.invalid = append(b.invalid, MechanismInvalid{Mechanism: mechanism, Reason: reason, Missing: missing})
}

func worldPoint(a assembly.Anchor, local mgl64.Vec3) mgl64.Vec3 {
	return geom.TransformPoint(a.DefaultTransform, local)
}

func worldDirection(a assembly.Anchor, local mgl64.Vec3) mgl64.Vec3 {
	return geom.TransformDirection(a.DefaultTransform, local)
}
