// Package check sweeps an assembly through full four-stroke cycles and
// verifies the kinematic invariants every solved pose must hold.
package check

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"gonum.org/v1/gonum/floats"

	"github.com/cylinderworks/cylinderworks/internal/core/assembly"
	"github.com/cylinderworks/cylinderworks/internal/core/geom"
	"github.com/cylinderworks/cylinderworks/internal/core/observability/log"
	"github.com/cylinderworks/cylinderworks/internal/core/systems/kinematics"
)

var ErrEmptyAssembly = errors.New("assembly has no parts or constraints")

type Property string

const (
	PropertyRodLength   Property = "rod_length"
	PropertyPeriodicity Property = "periodicity"
	PropertyValveLift   Property = "valve_lift"
	PropertyFollowers   Property = "follower_rigidity"
	PropertyConstraints Property = "constraints"
)

// cycle is one four-stroke cycle: the camshaft turns once per two crank turns.
const cycle = 4 * math.Pi

// maxFailures caps the failures kept per property.
const maxFailures = 16

type Options struct {
	// Step is the crank increment in radians.
	Step float64
	// Cycles is the number of four-stroke cycles to sweep.
	Cycles    int
	Tolerance float64
	Settings  kinematics.Settings
	Templates *kinematics.Templates
	Logger    log.Log
}

func DefaultOptions() Options {
	return Options{
		Step:      0.01,
		Cycles:    1,
		Tolerance: 1e-4,
		Settings:  kinematics.DefaultSettings(),
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Step <= 0 || math.IsNaN(o.Step) {
		o.Step = def.Step
	}
	if o.Cycles <= 0 {
		o.Cycles = def.Cycles
	}
	if o.Tolerance <= 0 {
		o.Tolerance = def.Tolerance
	}
	if o.Logger == nil {
		o.Logger = log.NewNop()
	}
	return o
}

type Failure struct {
	Property Property `json:"property"`
	Part     string   `json:"part,omitempty"`
	Angle    float64  `json:"angle"`
	Value    float64  `json:"value"`
	Detail   string   `json:"detail"`
}

type Report struct {
	Source      string             `json:"source"`
	Fingerprint uint64             `json:"fingerprint"`
	Samples     int                `json:"samples"`
	Summary     kinematics.Summary `json:"summary"`
	Checked     []Property         `json:"checked"`
	Failures    []Failure          `json:"failures,omitempty"`
	// Stroke is the piston travel seen over the sweep, zero without a
	// slider-crank.
	Stroke float64 `json:"stroke,omitempty"`
	// Truncated counts failures dropped past the per-property cap.
	Truncated int `json:"truncated,omitempty"`
}

func (r Report) OK() bool { return len(r.Failures) == 0 }

// Assembly is what a sweep reads. *assembly.Assembly satisfies it.
type Assembly interface {
	Anchors() []assembly.Anchor
	Constraints() []assembly.Constraint
	Fingerprint() uint64
}

// Sweep solves a across opts.Cycles four-stroke cycles and checks every
// sampled pose. It stops early when ctx is cancelled.
func Sweep(ctx context.Context, source string, a Assembly, opts Options) (Report, error) {
	opts = opts.withDefaults()
	logger := opts.Logger.With(log.String("source", source))

	sysOpts := []kinematics.Option{
		kinematics.WithLogger(logger),
		kinematics.WithSettings(opts.Settings),
	}
	if opts.Templates != nil {
		sysOpts = append(sysOpts, kinematics.WithTemplates(*opts.Templates))
	}
	sys := kinematics.New(sysOpts...)
	// The probe solves one cycle ahead so periodicity is checked without
	// disturbing the branch tracking of the main sweep.
	probe := kinematics.New(sysOpts...)

	anchors, constraints := a.Anchors(), a.Constraints()
	report := Report{Source: source, Fingerprint: a.Fingerprint()}
	if !sys.Initialize(anchors, constraints) {
		return report, ErrEmptyAssembly
	}
	probe.Initialize(anchors, constraints)
	report.Summary = sys.Summary()

	s := newSweeper(sys, opts, &report)
	end := cycle * float64(opts.Cycles)
	var displacements []float64
	for i := 0; ; i++ {
		theta := float64(i) * opts.Step
		if theta > end {
			break
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}

		pose := sys.SolveForAngle(theta)
		if s.hasSlider {
			displacements = append(displacements, sys.PistonDisplacement())
		}
		s.rodLength(theta, pose)
		s.valveLift(theta, pose)
		s.followers(theta, pose)
		s.constraints(theta, pose)
		if theta < cycle {
			s.periodicity(theta, pose, probe.SolveForAngle(theta+cycle))
		}
		report.Samples++
	}

	report.Checked = s.checked()
	if len(displacements) > 0 {
		report.Stroke = floats.Max(displacements) - floats.Min(displacements)
	}
	logger.Info("Sweep finished",
		log.Int("samples", report.Samples),
		log.Int("failures", len(report.Failures)),
		log.Uint64("fingerprint", report.Fingerprint))
	return report, nil
}

// SweepFile loads the mapping at path and sweeps it.
func SweepFile(ctx context.Context, path string, opts Options) (Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	a, err := assembly.LoadFile(path, logger)
	if err != nil {
		return Report{Source: path}, fmt.Errorf("load %s: %w", path, err)
	}
	return Sweep(ctx, path, a, opts)
}

type followerCheck struct {
	source, follower string
	offset           mgl64.Mat4
}

type sweeper struct {
	opts   Options
	report *Report
	counts map[Property]int

	rest        map[string]mgl64.Mat4
	slider      kinematics.SliderCrankGeometry
	hasSlider   bool
	valvetrains []kinematics.ValvetrainGeometry
	follow      []followerCheck
	sys         *kinematics.System
}

func newSweeper(sys *kinematics.System, opts Options, report *Report) *sweeper {
	s := &sweeper{
		opts:        opts,
		report:      report,
		counts:      make(map[Property]int),
		rest:        byName(sys.BuildDefaultPose()),
		valvetrains: sys.Valvetrains(),
		sys:         sys,
	}
	s.slider, s.hasSlider = sys.SliderCrank()
	for _, t := range sys.Templates().Followers {
		src, ok := s.rest[t.Source]
		if !ok {
			continue
		}
		fol, ok := s.rest[t.Follower]
		if !ok {
			continue
		}
		s.follow = append(s.follow, followerCheck{
			source:   t.Source,
			follower: t.Follower,
			offset:   geom.InvertRigid(src).Mul4(fol),
		})
	}
	return s
}

func (s *sweeper) fail(f Failure) {
	if s.counts[f.Property] >= maxFailures {
		s.report.Truncated++
		return
	}
	s.counts[f.Property]++
	s.report.Failures = append(s.report.Failures, f)
}

func (s *sweeper) checked() []Property {
	out := []Property{PropertyPeriodicity, PropertyConstraints}
	if s.hasSlider {
		out = append(out, PropertyRodLength)
	}
	if len(s.valvetrains) > 0 {
		out = append(out, PropertyValveLift)
	}
	if len(s.follow) > 0 {
		out = append(out, PropertyFollowers)
	}
	return out
}

func (s *sweeper) rodLength(theta float64, pose []assembly.PartTransform) {
	if !s.hasSlider {
		return
	}
	sc := s.slider
	m := byName(pose)
	rod := m[sc.Rod]
	small := geom.TransformPoint(rod, sc.RodSmallLocal)
	big := geom.TransformPoint(rod, sc.RodBigLocal)
	if d := math.Abs(big.Sub(small).Len() - sc.RodLength); d > s.opts.Tolerance {
		s.fail(Failure{Property: PropertyRodLength, Part: sc.Rod, Angle: theta, Value: d,
			Detail: fmt.Sprintf("rod length drifted by %.3g", d)})
	}
}

func (s *sweeper) valveLift(theta float64, pose []assembly.PartTransform) {
	if len(s.valvetrains) == 0 {
		return
	}
	m := byName(pose)
	ratio := s.sys.Settings().CamRatio
	for _, vt := range s.valvetrains {
		current, rest := m[vt.Valve], s.rest[vt.Valve]
		lift := geom.Translation(current).Sub(geom.Translation(rest)).Dot(vt.ValveAxis)
		if lift < -s.opts.Tolerance {
			s.fail(Failure{Property: PropertyValveLift, Part: vt.Valve, Angle: theta, Value: lift,
				Detail: "valve moved against its opening direction"})
		}
		if vt.CamAngle(theta, ratio) >= math.Pi && current != rest {
			s.fail(Failure{Property: PropertyValveLift, Part: vt.Valve, Angle: theta, Value: lift,
				Detail: "valve not seated while its cam is on the base circle"})
		}
	}
}

func (s *sweeper) followers(theta float64, pose []assembly.PartTransform) {
	if len(s.follow) == 0 {
		return
	}
	m := byName(pose)
	for _, f := range s.follow {
		offset := geom.InvertRigid(m[f.source]).Mul4(m[f.follower])
		if !geom.ApproxEqual(offset, f.offset, s.opts.Tolerance) {
			s.fail(Failure{Property: PropertyFollowers, Part: f.follower, Angle: theta, Value: geom.MaxDiff(offset, f.offset),
				Detail: fmt.Sprintf("%s drifted from %s", f.follower, f.source)})
		}
	}
}

func (s *sweeper) constraints(theta float64, pose []assembly.PartTransform) {
	for _, v := range s.sys.Validate(pose) {
		s.fail(Failure{Property: PropertyConstraints, Part: v.PartA, Angle: theta, Value: v.Distance,
			Detail: fmt.Sprintf("%s between %s and %s (alignment %.4f)", v.Constraint, v.PartA, v.PartB, v.Alignment)})
	}
}

func (s *sweeper) periodicity(theta float64, pose, next []assembly.PartTransform) {
	later := byName(next)
	for _, p := range pose {
		if !geom.ApproxEqual(p.Transform, later[p.Name], s.opts.Tolerance) {
			s.fail(Failure{Property: PropertyPeriodicity, Part: p.Name, Angle: theta, Value: geom.MaxDiff(p.Transform, later[p.Name]),
				Detail: "pose differs one cycle later"})
		}
	}
}

func byName(pose []assembly.PartTransform) map[string]mgl64.Mat4 {
	out := make(map[string]mgl64.Mat4, len(pose))
	for _, p := range pose {
		out[p.Name] = p.Transform
	}
	return out
}
