package kinematics

import (
	"math"
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/cylinderworks/cylinderworks/internal/core/assembly"
	"github.com/cylinderworks/cylinderworks/internal/core/assembly/assemblytest"
	"github.com/cylinderworks/cylinderworks/internal/core/events/bus"
	"github.com/cylinderworks/cylinderworks/internal/core/geom"
	"github.com/cylinderworks/cylinderworks/internal/core/observability/log"
)

const poseTolerance = 1e-9

func fixture(t *testing.T) ([]assembly.Anchor, []assembly.Constraint) {
	t.Helper()
	a := assemblytest.Engine(t)
	return a.Anchors(), a.Constraints()
}

func initialized(t *testing.T, opts ...Option) *System {
	t.Helper()
	anchors, constraints := fixture(t)
	s := New(opts...)
	require.True(t, s.Initialize(anchors, constraints))
	return s
}

func byName(pose []assembly.PartTransform) map[string]mgl64.Mat4 {
	out := make(map[string]mgl64.Mat4, len(pose))
	for _, p := range pose {
		out[p.Name] = p.Transform
	}
	return out
}

func anchorByName(anchors []assembly.Anchor, name string) assembly.Anchor {
	for _, a := range anchors {
		if a.Name == name {
			return a
		}
	}
	return assembly.Anchor{}
}

func sweep(from, to, step float64, fn func(theta float64)) {
	for theta := from; theta <= to; theta += step {
		fn(theta)
	}
}

func TestInitializeEmpty(t *testing.T) {
	s := New()
	require.False(t, s.Initialize(nil, nil))
	require.Empty(t, s.BuildDefaultPose())
	require.Empty(t, s.SolveForAngle(1.2))
	require.Equal(t, 0, s.Summary().Parts)
}

func TestSolveBeforeInitialize(t *testing.T) {
	s := New()
	require.Empty(t, s.BuildDefaultPose())
	require.Empty(t, s.SolveForAngle(0.5))
	require.Nil(t, s.Validate(nil))
	_, ok := s.SliderCrank()
	require.False(t, ok)
}

func TestInitializeWithoutMechanisms(t *testing.T) {
	anchors := []assembly.Anchor{
		{Name: "bracket", DefaultTransform: geom.Translate(mgl64.Vec3{1, 2, 3})},
		{Name: "cover", DefaultTransform: geom.ComposeTransform(mgl64.Vec3{0, 1, 0}, mgl64.Vec3{10, 20, 30})},
		{Name: "piston", DefaultTransform: geom.Translate(mgl64.Vec3{0, 0.15, 0})},
		{Name: "valve", DefaultTransform: geom.Translate(mgl64.Vec3{0.1, 0.3, 0})},
		{Name: "retainer", DefaultTransform: geom.Translate(mgl64.Vec3{0.1, 0.29, 0})},
	}
	s := New()
	require.True(t, s.Initialize(anchors, nil))

	rest := s.BuildDefaultPose()
	require.Len(t, rest, len(anchors))
	for i, a := range anchors {
		require.Equal(t, a.Name, rest[i].Name)
		require.Equal(t, a.DefaultTransform, rest[i].Transform)
	}

	sweep(-7, 7, 0.25, func(theta float64) {
		pose := s.SolveForAngle(theta)
		require.Len(t, pose, len(rest))
		for i := range rest {
			require.Equal(t, rest[i].Name, pose[i].Name)
			require.True(t, geom.ApproxEqual(rest[i].Transform, pose[i].Transform, poseTolerance), rest[i].Name)
		}
	})
}

func TestSummaryOnFixture(t *testing.T) {
	s := initialized(t)
	sum := s.Summary()

	require.True(t, sum.SliderCrank)
	require.Equal(t, []string{"shaft", "propeller", "driving_gear", "gear", "camshaft"}, sum.Rotating)
	require.Equal(t, []string{"intake", "exhaust"}, sum.Valvetrains)
	require.Equal(t, []string{"retainer", "retainer_2", "pin"}, sum.Followers)
	require.Equal(t, 5, sum.ValidationPairs)
	require.Empty(t, sum.Invalid)
	require.NotZero(t, sum.Fingerprint)

	sc, ok := s.SliderCrank()
	require.True(t, ok)
	require.InDelta(t, assemblytest.CrankRadius, sc.CrankRadius, 1e-12)
	require.InDelta(t, assemblytest.RodLength, sc.RodLength, 1e-12)
	require.True(t, geom.ApproxEqualVec(geom.AxisY, sc.PistonAxis, 1e-12))
	require.True(t, geom.ApproxEqualVec(geom.AxisX, sc.CrankAxis, 1e-12))
}

func TestRestAngleReproducesRestPose(t *testing.T) {
	s := initialized(t)
	rest := byName(s.BuildDefaultPose())
	pose := byName(s.SolveForAngle(0))
	for name, want := range rest {
		require.True(t, geom.ApproxEqual(want, pose[name], poseTolerance), name)
	}
	require.InDelta(t, 0, s.PistonDisplacement(), 1e-12)
}

func TestRodLengthInvariant(t *testing.T) {
	s := initialized(t)
	sc, ok := s.SliderCrank()
	require.True(t, ok)

	sweep(0, 4*math.Pi, 0.05, func(theta float64) {
		pose := byName(s.SolveForAngle(theta))
		rod := pose["connecting_rod"]
		small := geom.TransformPoint(rod, sc.RodSmallLocal)
		big := geom.TransformPoint(rod, sc.RodBigLocal)
		require.InDelta(t, sc.RodLength, big.Sub(small).Len(), 1e-4)

		// The rod must stay on the crank pin and the wrist pin.
		crankPin := geom.TransformPoint(pose["crankshaft"], sc.CrankPinLocal)
		require.InDelta(t, 0, big.Sub(crankPin).Len(), 1e-4, "theta %v", theta)
		wrist := sc.PistonBase.Add(sc.PistonAxis.Mul(s.PistonDisplacement()))
		require.InDelta(t, 0, small.Sub(wrist).Len(), 1e-4, "theta %v", theta)
		require.InDelta(t, sc.RodLength, crankPin.Sub(wrist).Len(), 1e-4)
	})
}

func TestPeriodicity(t *testing.T) {
	crankRate := []string{"crankshaft", "connecting_rod", "piston", "pin", "shaft", "propeller", "driving_gear", "gear"}
	camDriven := []string{
		"camshaft",
		"pushrod", "rocker_arm", "valve", "retainer",
		"pushrod_2", "rocker_arm_2", "valve_2", "retainer_2",
	}

	sweep(0.37, 13, 0.5, func(theta float64) {
		s := initialized(t)
		base := byName(s.SolveForAngle(theta))
		turn := byName(s.SolveForAngle(theta + 2*math.Pi))
		cycle := byName(s.SolveForAngle(theta + 4*math.Pi))
		for _, name := range crankRate {
			require.True(t, geom.ApproxEqual(base[name], turn[name], poseTolerance), "%s at %v", name, theta)
		}
		for _, name := range camDriven {
			require.Contains(t, base, name)
			require.True(t, geom.ApproxEqual(base[name], cycle[name], poseTolerance), "%s at %v", name, theta)
		}
		// Half crank speed: one crank turn leaves the cam half a turn off.
		require.False(t, geom.ApproxEqual(base["camshaft"], turn["camshaft"], 1e-3), "camshaft at %v", theta)
		for name, m := range base {
			require.True(t, geom.ApproxEqual(m, cycle[name], poseTolerance), "%s at %v", name, theta)
		}
	})
}

func TestDeadCenterExtremum(t *testing.T) {
	s := initialized(t)
	sc := s.state.Load().slider
	geo, _ := s.SliderCrank()
	top, bottom := geo.DeadCenters()

	const h = 1e-4
	displacementAt := func(theta, last float64) float64 {
		d, _ := sc.displacement(sc.crankPin(theta), last)
		return d
	}

	dTop := displacementAt(top, 0)
	require.InDelta(t, assemblytest.RodLength+assemblytest.CrankRadius-0.15, dTop, 1e-9)
	slope := (displacementAt(top+h, dTop) - displacementAt(top-h, dTop)) / (2 * h)
	require.InDelta(t, 0, slope, 1e-6)
	require.Greater(t, dTop, displacementAt(top+0.05, dTop))
	require.Greater(t, dTop, displacementAt(top-0.05, dTop))

	dBottom := displacementAt(bottom, -0.05)
	require.InDelta(t, assemblytest.RodLength-assemblytest.CrankRadius-0.15, dBottom, 1e-9)
	slope = (displacementAt(bottom+h, dBottom) - displacementAt(bottom-h, dBottom)) / (2 * h)
	require.InDelta(t, 0, slope, 1e-6)
	require.Less(t, dBottom, displacementAt(bottom+0.05, dBottom))
	require.Less(t, dBottom, displacementAt(bottom-0.05, dBottom))
}

func TestRootSelectionContinuity(t *testing.T) {
	s := initialized(t)
	sc := s.state.Load().slider

	last := 0.0
	sweep(0, 4*math.Pi, 0.01, func(theta float64) {
		chosen, discarded := sc.displacement(sc.crankPin(theta), last)
		require.LessOrEqual(t, math.Abs(chosen-last), math.Abs(discarded-last), "theta %v", theta)
		require.Less(t, math.Abs(chosen-last), 0.01)
		last = chosen
	})

	// The public solve follows the same branch.
	last = 0
	sweep(0, 2*math.Pi, 0.01, func(theta float64) {
		s.SolveForAngle(theta)
		require.Less(t, math.Abs(s.PistonDisplacement()-last), 0.01)
		last = s.PistonDisplacement()
	})
}

func TestNegativeDiscriminantIsClamped(t *testing.T) {
	s := initialized(t)
	sc := s.state.Load().slider

	// A pin far off the piston axis has no real solution.
	far := sc.pistonBase.Add(mgl64.Vec3{0, 0, 1})
	chosen, discarded := sc.displacement(far, 0)
	require.False(t, math.IsNaN(chosen))
	require.Equal(t, chosen, discarded)
}

func TestValveLift(t *testing.T) {
	s := initialized(t)
	rest := byName(s.BuildDefaultPose())
	trains := s.Valvetrains()
	require.Len(t, trains, 2)

	ratio := s.Settings().CamRatio
	for _, vt := range trains {
		require.InDelta(t, 0.009, vt.Amplitude, 1e-12, vt.Name)
	}

	peak := map[string]float64{}
	sweep(0, 4*math.Pi, 0.01, func(theta float64) {
		pose := byName(s.SolveForAngle(theta))
		for _, vt := range trains {
			lift := geom.Translation(pose[vt.Valve]).Sub(geom.Translation(rest[vt.Valve])).Dot(vt.ValveAxis)
			require.GreaterOrEqual(t, lift, -1e-12, "%s at %v", vt.Name, theta)
			if vt.CamAngle(theta, ratio) >= math.Pi {
				require.Equal(t, rest[vt.Valve], pose[vt.Valve], "%s at %v", vt.Name, theta)
				require.Equal(t, rest[vt.Pushrod], pose[vt.Pushrod])
				require.Equal(t, rest[vt.Rocker], pose[vt.Rocker])
			}
			peak[vt.Name] = math.Max(peak[vt.Name], lift)
		}
	})

	for name, p := range peak {
		require.InDelta(t, 0.012, p, 0.001, name)
	}
}

func TestValvetrainContactsStayConsistent(t *testing.T) {
	s := initialized(t)
	rest := byName(s.BuildDefaultPose())
	vt := s.Valvetrains()[0]

	sweep(0, 2*math.Pi, 0.1, func(theta float64) {
		pose := byName(s.SolveForAngle(theta))
		pushrodShift := geom.Translation(pose[vt.Pushrod]).Sub(geom.Translation(rest[vt.Pushrod]))
		// The pushrod only ever slides along its bore.
		require.InDelta(t, 0, pushrodShift.Sub(vt.PushrodAxis.Mul(pushrodShift.Dot(vt.PushrodAxis))).Len(), 1e-12)
		// The rocker pivot never moves.
		pivot := geom.TransformPoint(pose[vt.Rocker], geom.TransformPoint(geom.InvertRigid(rest[vt.Rocker]), vt.Pivot))
		require.InDelta(t, 0, pivot.Sub(vt.Pivot).Len(), 1e-12)
	})
}

func TestFollowerRigidity(t *testing.T) {
	s := initialized(t)
	pairs := [][2]string{{"valve", "retainer"}, {"valve_2", "retainer_2"}, {"connecting_rod", "pin"}}

	offsetAt := func(theta float64, source, follower string) mgl64.Mat4 {
		pose := byName(s.SolveForAngle(theta))
		return geom.InvertRigid(pose[source]).Mul4(pose[follower])
	}

	for _, p := range pairs {
		a := offsetAt(0.8, p[0], p[1])
		b := offsetAt(5.1, p[0], p[1])
		require.True(t, geom.ApproxEqual(a, b, 1e-12), p[1])

		sweep(0, 4*math.Pi, 0.3, func(theta float64) {
			pose := byName(s.SolveForAngle(theta))
			require.True(t, geom.ApproxEqual(pose[p[0]].Mul4(a), pose[p[1]], 1e-12), "%s at %v", p[1], theta)
		})
	}
}

func TestRotatingParts(t *testing.T) {
	s := initialized(t)
	rest := byName(s.BuildDefaultPose())

	pose := byName(s.SolveForAngle(math.Pi / 2))
	// gear turns against the crank at the same rate
	gearOrigin := geom.Translation(rest["gear"])
	probe := gearOrigin.Add(geom.AxisY.Mul(0.01))
	local := geom.TransformPoint(geom.InvertRigid(rest["gear"]), probe)
	moved := geom.TransformPoint(pose["gear"], local)
	require.True(t, geom.ApproxEqualVec(gearOrigin.Add(geom.AxisZ.Mul(-0.01)), moved, 1e-12), "got %v", moved)

	// camshaft turns at half speed
	camOrigin := geom.Translation(rest["camshaft"])
	probe = camOrigin.Add(geom.AxisY.Mul(0.01))
	local = geom.TransformPoint(geom.InvertRigid(rest["camshaft"]), probe)
	moved = geom.TransformPoint(pose["camshaft"], local)
	want := camOrigin.Add(mgl64.Vec3{0, math.Cos(math.Pi / 4), math.Sin(math.Pi / 4)}.Mul(0.01))
	require.True(t, geom.ApproxEqualVec(want, moved, 1e-12), "got %v", moved)
}

func TestRatioOverride(t *testing.T) {
	s := initialized(t, WithSettings(Settings{Ratios: map[string]float64{"propeller": 2}, Phases: map[string]float64{"gear": math.Pi}}))
	rest := byName(s.BuildDefaultPose())

	pose := byName(s.SolveForAngle(math.Pi))
	require.True(t, geom.ApproxEqual(rest["propeller"], pose["propeller"], poseTolerance))
	require.True(t, geom.ApproxEqual(rest["gear"], pose["gear"], poseTolerance))
	require.False(t, geom.ApproxEqual(rest["driving_gear"], pose["driving_gear"], 1e-3))
}

func TestRotatingFallbackWithoutConstraint(t *testing.T) {
	anchors := []assembly.Anchor{{Name: "propeller", DefaultTransform: geom.Translate(mgl64.Vec3{0, 1, 0})}}
	s := New()
	require.True(t, s.Initialize(anchors, nil))

	pose := s.SolveForAngle(math.Pi / 2)
	want := geom.Translate(mgl64.Vec3{0, 1, 0}).Mul4(geom.AxisAngle(geom.AxisX, math.Pi/2))
	require.True(t, geom.ApproxEqual(want, pose[0].Transform, 1e-12))
}

func TestValidationConsistentAssembly(t *testing.T) {
	events := bus.New()
	var violations []Violation
	_, err := events.Subscribe(EventConstraintViolation, func(e bus.Event) error {
		violations = append(violations, e.Data().(Violation))
		return nil
	})
	require.NoError(t, err)

	s := initialized(t, WithEventBus(events))
	sweep(0, 4*math.Pi, 0.05, func(theta float64) {
		require.Empty(t, s.Validate(s.SolveForAngle(theta)), "theta %v", theta)
	})
	require.Empty(t, violations)
}

func TestValidationFlagsPerturbedAnchor(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	events := bus.New()
	var published []Violation
	_, _ = events.Subscribe(EventConstraintViolation, func(e bus.Event) error {
		published = append(published, e.Data().(Violation))
		return nil
	})

	anchors, constraints := fixture(t)
	for i := range anchors {
		if anchors[i].Name == "pin" {
			anchors[i].DefaultTransform = geom.Translate(mgl64.Vec3{0, 0, 0.01}).Mul4(anchors[i].DefaultTransform)
		}
	}

	s := New(WithLogger(log.NewWithCore(core, log.LevelDebug)), WithEventBus(events))
	require.True(t, s.Initialize(anchors, constraints))

	pose := s.SolveForAngle(0.3)
	found := s.Validate(pose)
	require.Len(t, found, 1)
	require.Equal(t, "pin_seat", found[0].Constraint)
	require.ElementsMatch(t, []string{"pin", "piston"}, []string{found[0].PartA, found[0].PartB})
	require.InDelta(t, 0.01, found[0].Distance, 1e-9)
	require.Greater(t, found[0].Distance, 1e-3)

	require.Len(t, published, 1)
	require.InDelta(t, 0.3, published[0].Angle, 0)
	require.Equal(t, 1, logs.FilterMessage("Constraint violated").Len())

	// The pose itself is not corrected.
	rod := byName(pose)["connecting_rod"]
	pin := byName(pose)["pin"]
	require.InDelta(t, 0.01, geom.Translation(pin).Sub(geom.Translation(rod)).Len(), 1e-9)
}

func TestAxisMisalignmentFlagged(t *testing.T) {
	anchors, constraints := fixture(t)
	for i := range anchors {
		if anchors[i].Name == "retainer" {
			anchors[i].DefaultTransform = anchors[i].DefaultTransform.Mul4(geom.AxisAngle(geom.AxisZ, 0.5))
		}
	}
	s := New()
	s.Initialize(anchors, constraints)
	found := s.Validate(s.BuildDefaultPose())
	require.Len(t, found, 1)
	require.Equal(t, "retainer_seat", found[0].Constraint)
	require.InDelta(t, math.Cos(0.5), found[0].Alignment, 1e-9)
}

func TestDegenerateCrankInvalidates(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	events := bus.New()
	var invalid []MechanismInvalid
	_, _ = events.Subscribe(EventMechanismInvalid, func(e bus.Event) error {
		invalid = append(invalid, e.Data().(MechanismInvalid))
		return nil
	})

	anchors, constraints := fixture(t)
	for i := range constraints {
		if constraints[i].Name != "crank_pin" {
			continue
		}
		geoms := append([]assembly.ConstraintGeometry(nil), constraints[i].Geometries...)
		// put the big end on the crank axis
		geoms[0].Position = mgl64.Vec3{0, -0.15, 0}
		constraints[i].Geometries = geoms
	}

	s := New(WithLogger(log.NewWithCore(core, log.LevelDebug)), WithEventBus(events))
	require.True(t, s.Initialize(anchors, constraints))
	require.False(t, s.Summary().SliderCrank)
	require.Len(t, invalid, 1)
	require.Equal(t, "slider_crank", invalid[0].Mechanism)
	require.Equal(t, "crank radius is zero", invalid[0].Reason)
	require.Equal(t, 1, logs.FilterMessage("Mechanism disabled").Len())

	rest := byName(s.BuildDefaultPose())
	pose := byName(s.SolveForAngle(1.1))
	for _, name := range []string{"crankshaft", "connecting_rod", "piston", "pin"} {
		require.Equal(t, rest[name], pose[name], name)
	}
	// Other mechanisms keep working.
	require.NotEqual(t, rest["gear"], pose["gear"])
}

func TestMissingConstraintInvalidates(t *testing.T) {
	anchors, constraints := fixture(t)
	kept := constraints[:0:0]
	for _, c := range constraints {
		if c.Name != "bore" && c.Name != "valve_tip_2" {
			kept = append(kept, c)
		}
	}

	s := New()
	require.True(t, s.Initialize(anchors, kept))
	sum := s.Summary()
	require.False(t, sum.SliderCrank)
	require.Equal(t, []string{"intake"}, sum.Valvetrains)
	require.Len(t, sum.Invalid, 2)
	require.Equal(t, []string{"slider_crank.piston_axis"}, sum.Invalid[0].Missing)
	require.Equal(t, []string{"valvetrain.exhaust.valve_contact"}, sum.Invalid[1].Missing)
}

func TestMissingAnchorInvalidates(t *testing.T) {
	anchors, constraints := fixture(t)
	kept := anchors[:0:0]
	for _, a := range anchors {
		if a.Name != "piston" {
			kept = append(kept, a)
		}
	}
	s := New()
	require.True(t, s.Initialize(kept, constraints))
	sum := s.Summary()
	require.False(t, sum.SliderCrank)
	require.Equal(t, []string{"piston"}, sum.Invalid[0].Missing)
	require.Len(t, s.SolveForAngle(0.5), len(kept))
}

func TestNonFiniteAngleReturnsRestPose(t *testing.T) {
	s := initialized(t)
	rest := s.BuildDefaultPose()
	require.Equal(t, rest, s.SolveForAngle(math.NaN()))
	require.Equal(t, rest, s.SolveForAngle(math.Inf(1)))
}

func TestLiftProfiles(t *testing.T) {
	require.InDelta(t, 0.0, LiftRaisedCosine.normalizedLift(0), 0)
	require.InDelta(t, 0.5, LiftRaisedCosine.normalizedLift(math.Pi/2), 1e-12)
	require.InDelta(t, 1.0, LiftRaisedCosine.normalizedLift(math.Pi-1e-9), 1e-9)
	require.InDelta(t, 0.0, LiftRaisedCosine.normalizedLift(math.Pi), 0)
	require.InDelta(t, 0.0, LiftRaisedCosine.normalizedLift(1.5*math.Pi), 0)

	require.InDelta(t, 1.0, LiftSymmetric.normalizedLift(math.Pi/2), 1e-12)
	require.InDelta(t, 0.0, LiftSymmetric.normalizedLift(math.Pi-1e-9), 1e-9)
	require.InDelta(t, 0.0, LiftSymmetric.normalizedLift(math.Pi), 0)
}

func TestSymmetricProfilePeaksMidCycle(t *testing.T) {
	s := initialized(t, WithSettings(Settings{LiftProfile: LiftSymmetric, TargetValveLift: 0.01}))
	rest := byName(s.BuildDefaultPose())
	vt := s.Valvetrains()[0]

	// intake cam at pi/2 when the crank is at pi
	pose := byName(s.SolveForAngle(math.Pi))
	lift := geom.Translation(pose[vt.Valve]).Sub(geom.Translation(rest[vt.Valve])).Dot(vt.ValveAxis)
	require.InDelta(t, 0.01, lift, 0.001)
}

func TestSettingsValidate(t *testing.T) {
	require.NoError(t, DefaultSettings().Validate())
	require.Error(t, Settings{TargetValveLift: -1}.Validate())
	require.Error(t, Settings{AxisTolerance: 1.5}.Validate())
	require.Error(t, Settings{LiftProfile: "square"}.Validate())
	require.Error(t, Settings{Ratios: map[string]float64{"gear": math.Inf(1)}}.Validate())
}

func TestReinitializeWhileSolving(t *testing.T) {
	anchors, constraints := fixture(t)
	s := New()
	require.True(t, s.Initialize(anchors, constraints))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		theta := 0.0
		for {
			select {
			case <-stop:
				return
			default:
			}
			pose := s.SolveForAngle(theta)
			if len(pose) != 0 && len(pose) != len(anchors) {
				t.Errorf("partial pose of %d parts", len(pose))
				return
			}
			theta += 0.01
		}
	}()

	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			s.Initialize(nil, nil)
		} else {
			s.Initialize(anchors, constraints)
		}
	}
	close(stop)
	wg.Wait()
}
