// Package kinematics turns a crank angle into a full engine pose. Mechanisms
// are discovered once from CAD constraints; every solve is closed form.
package kinematics

import (
	"math"
	"sync/atomic"

	"github.com/cylinderworks/cylinderworks/internal/core/assembly"
	"github.com/cylinderworks/cylinderworks/internal/core/events/bus"
	"github.com/cylinderworks/cylinderworks/internal/core/observability/log"
)

type Option func(*System)

func WithLogger(logger log.Log) Option {
	return func(s *System) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventBus publishes diagnostics to b.
func WithEventBus(b bus.EventBus) Option {
	return func(s *System) { s.events = b }
}

func WithTemplates(t Templates) Option {
	return func(s *System) { s.templates = t }
}

func WithSettings(settings Settings) Option {
	return func(s *System) { s.settings = settings.withDefaults() }
}

// System is the solver for one assembly. Solves must be serialized by the
// caller; Initialize may race with them and swaps state atomically.
type System struct {
	logger    log.Log
	events    bus.EventBus
	templates Templates
	settings  Settings

	state atomic.Pointer[solverState]
}

// Summary describes what the last Initialize found.
type Summary struct {
	Parts           int                `json:"parts"`
	Constraints     int                `json:"constraints"`
	SliderCrank     bool               `json:"slider_crank"`
	Rotating        []string           `json:"rotating"`
	Valvetrains     []string           `json:"valvetrains"`
	Followers       []string           `json:"followers"`
	ValidationPairs int                `json:"validation_pairs"`
	Invalid         []MechanismInvalid `json:"invalid,omitempty"`
	Fingerprint     uint64             `json:"fingerprint"`
}

type solverState struct {
	defaults    []assembly.PartTransform
	index       map[string]int
	slider      sliderCrank
	rotating    []rotatingPart
	valvetrains []valvetrain
	followers   []follower
	pairs       []validationPair
	summary     Summary

	lastDisplacement atomic.Uint64
}

func New(opts ...Option) *System {
	s := &System{
		logger:    log.NewNop(),
		templates: DefaultTemplates(),
		settings:  DefaultSettings(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(log.String("system", "kinematics"))
	return s
}

// Initialize discovers mechanisms and replaces all cached state. It returns
// false only when both inputs are empty.
func (s *System) Initialize(anchors []assembly.Anchor, constraints []assembly.Constraint) bool {
	b := newBuilder(anchors, constraints, s.templates, s.settings, s.logger)
	st := b.build()
	st.summary.Fingerprint = assembly.Fingerprint(anchors, constraints)
	s.state.Store(st)

	s.logger.Info("Kinematics initialized",
		log.Int("parts", st.summary.Parts),
		log.Int("constraints", st.summary.Constraints),
		log.Bool("slider_crank", st.summary.SliderCrank),
		log.Strings("rotating", st.summary.Rotating),
		log.Strings("valvetrains", st.summary.Valvetrains),
		log.Strings("followers", st.summary.Followers),
		log.Int("validation_pairs", st.summary.ValidationPairs))

	for _, inv := range st.summary.Invalid {
		s.publish(EventMechanismInvalid, inv)
	}
	s.publish(EventInitialized, st.summary)

	return len(anchors) > 0 || len(constraints) > 0
}

// BuildDefaultPose returns every part at rest.
func (s *System) BuildDefaultPose() []assembly.PartTransform {
	st := s.state.Load()
	if st == nil {
		return []assembly.PartTransform{}
	}
	return clonePose(st.defaults)
}

// SolveForAngle poses every part for the given crank angle in radians.
// Constraint violations are reported but never change the pose.
func (s *System) SolveForAngle(crankRadians float64) []assembly.PartTransform {
	st := s.state.Load()
	if st == nil || len(st.defaults) == 0 {
		return []assembly.PartTransform{}
	}

	pose := clonePose(st.defaults)
	if math.IsNaN(crankRadians) || math.IsInf(crankRadians, 0) {
		s.logger.Warn("Ignoring non-finite crank angle", log.Float64("angle", crankRadians))
		return pose
	}

	if st.slider.valid {
		last := math.Float64frombits(st.lastDisplacement.Load())
		d := st.slider.apply(crankRadians, last, pose)
		st.lastDisplacement.Store(math.Float64bits(d))
	}
	for i := range st.rotating {
		st.rotating[i].apply(crankRadians, pose)
	}
	for i := range st.valvetrains {
		st.valvetrains[i].apply(crankRadians, s.settings, pose)
	}
	for i := range st.followers {
		st.followers[i].apply(pose)
	}

	for _, v := range validate(st.pairs, pose, s.settings) {
		v.Angle = crankRadians
		s.logger.Error("Constraint violated",
			log.String("constraint", v.Constraint),
			log.String("part_a", v.PartA),
			log.String("part_b", v.PartB),
			log.Float64("distance", v.Distance),
			log.Float64("alignment", v.Alignment))
		s.publish(EventConstraintViolation, v)
	}
	return pose
}

// Validate checks a pose against the cached constraint pairs without logging.
func (s *System) Validate(pose []assembly.PartTransform) []Violation {
	st := s.state.Load()
	if st == nil {
		return nil
	}
	return validate(st.pairs, pose, s.settings)
}

func (s *System) Summary() Summary {
	st := s.state.Load()
	if st == nil {
		return Summary{}
	}
	return st.summary
}

// PistonDisplacement is the slider displacement chosen by the last solve.
func (s *System) PistonDisplacement() float64 {
	st := s.state.Load()
	if st == nil {
		return 0
	}
	return math.Float64frombits(st.lastDisplacement.Load())
}

func (s *System) Settings() Settings {
	return s.settings
}

// Templates returns the mechanism table this system discovers against.
func (s *System) Templates() Templates {
	return s.templates
}

func clonePose(pose []assembly.PartTransform) []assembly.PartTransform {
	out := make([]assembly.PartTransform, len(pose))
	copy(out, pose)
	return out
}
