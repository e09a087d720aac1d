package check

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/stretchr/testify/require"

	"github.com/cylinderworks/cylinderworks/internal/core/assembly"
	"github.com/cylinderworks/cylinderworks/internal/core/assembly/assemblytest"
	"github.com/cylinderworks/cylinderworks/internal/core/geom"
)

type staticAssembly struct {
	anchors     []assembly.Anchor
	constraints []assembly.Constraint
}

func (s staticAssembly) Anchors() []assembly.Anchor         { return s.anchors }
func (s staticAssembly) Constraints() []assembly.Constraint { return s.constraints }
func (s staticAssembly) Fingerprint() uint64 {
	return assembly.Fingerprint(s.anchors, s.constraints)
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.Step = 0.05
	return opts
}

func TestSweepFixture(t *testing.T) {
	a := assemblytest.Engine(t)

	report, err := Sweep(context.Background(), "engine", a, fastOptions())
	require.NoError(t, err)
	require.True(t, report.OK(), "%+v", report.Failures)
	require.Equal(t, 252, report.Samples)
	require.Equal(t, a.Fingerprint(), report.Fingerprint)
	require.ElementsMatch(t, []Property{
		PropertyPeriodicity, PropertyConstraints, PropertyRodLength, PropertyValveLift, PropertyFollowers,
	}, report.Checked)
	require.True(t, report.Summary.SliderCrank)
	// The bore passes through the crank axis, so the stroke is the crank diameter.
	require.InDelta(t, 2*assemblytest.CrankRadius, report.Stroke, 1e-4)
}

func TestSweepTwoCycles(t *testing.T) {
	opts := fastOptions()
	opts.Cycles = 2

	report, err := Sweep(context.Background(), "engine", assemblytest.Engine(t), opts)
	require.NoError(t, err)
	require.True(t, report.OK())
	require.Equal(t, 503, report.Samples)
}

func TestSweepFlagsPerturbedPin(t *testing.T) {
	a := assemblytest.Engine(t)
	anchors := a.Anchors()
	for i := range anchors {
		if anchors[i].Name == "pin" {
			anchors[i].DefaultTransform = geom.Translate(mgl64.Vec3{0, 0, 0.01}).Mul4(anchors[i].DefaultTransform)
		}
	}

	report, err := Sweep(context.Background(), "perturbed", staticAssembly{anchors, a.Constraints()}, fastOptions())
	require.NoError(t, err)
	require.False(t, report.OK())
	require.Len(t, report.Failures, maxFailures)
	require.Positive(t, report.Truncated)
	for _, f := range report.Failures {
		require.Equal(t, PropertyConstraints, f.Property)
		require.InDelta(t, 0.01, f.Value, 1e-9)
	}
}

func TestSweepEmpty(t *testing.T) {
	_, err := Sweep(context.Background(), "empty", staticAssembly{}, Options{})
	require.ErrorIs(t, err, ErrEmptyAssembly)
}

func TestSweepCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := Sweep(ctx, "engine", assemblytest.Engine(t), fastOptions())
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, report.Samples)
}

func TestSweepAll(t *testing.T) {
	dir := t.TempDir()
	paths := []string{filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json")}
	for _, p := range paths {
		require.NoError(t, os.WriteFile(p, assemblytest.EngineJSON(), 0o644))
	}

	reports, err := SweepAll(context.Background(), paths, fastOptions(), 0)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	for i, r := range reports {
		require.Equal(t, paths[i], r.Source)
		require.True(t, r.OK())
	}
	require.Equal(t, reports[0].Fingerprint, reports[1].Fingerprint)

	_, err = SweepAll(context.Background(), append(paths, filepath.Join(dir, "missing.json")), fastOptions(), 1)
	require.Error(t, err)
}
