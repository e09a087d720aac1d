package server

import (
	"fmt"
	"sync"

	"github.com/cylinderworks/cylinderworks/internal/core/assembly"
	"github.com/cylinderworks/cylinderworks/internal/core/observability/log"
	"github.com/cylinderworks/cylinderworks/internal/core/systems/drive"
	"github.com/cylinderworks/cylinderworks/internal/core/systems/kinematics"
)

const (
	MessageTypeScene = "scene"
	MessageTypeFrame = "frame"
)

// PartFrame is one part's column-major world transform.
type PartFrame struct {
	Name   string      `json:"name"`
	Matrix [16]float64 `json:"matrix"`
}

// Frame is one solved pose as streamed to clients.
type Frame struct {
	Type         string      `json:"type"`
	Seq          uint64      `json:"seq"`
	Angle        float64     `json:"angle"`
	RPM          float64     `json:"rpm"`
	State        drive.State `json:"state"`
	Displacement float64     `json:"displacement"`
	Fingerprint  string      `json:"fingerprint"`
	Parts        []PartFrame `json:"parts"`
}

// ScenePart carries the static render data of a part.
type ScenePart struct {
	Name  string     `json:"name"`
	Mesh  string     `json:"mesh"`
	Color [3]float64 `json:"color"`
}

// Scene is sent once per client before any frame, and again after a reload.
type Scene struct {
	Type        string             `json:"type"`
	Fingerprint string             `json:"fingerprint"`
	Parts       []ScenePart        `json:"parts"`
	Summary     kinematics.Summary `json:"summary"`
}

// Engine couples the drive to the solver. The streaming solver is guarded by
// mu; ad hoc poses use a separate probe so they never disturb the piston
// branch tracking of the stream.
type Engine struct {
	logger log.Log
	driver *drive.Driver

	mu     sync.Mutex
	asm    *assembly.Assembly
	sys    *kinematics.System
	seq    uint64
	scene  Scene
	latest Frame

	probeMu sync.Mutex
	probe   *kinematics.System
}

// NewEngine initializes sys for asm and poses the assembly at rest.
func NewEngine(asm *assembly.Assembly, sys *kinematics.System, driver *drive.Driver, logger log.Log) *Engine {
	if logger == nil {
		logger = log.NewNop()
	}
	e := &Engine{
		logger: logger.With(log.String("component", "engine")),
		driver: driver,
		sys:    sys,
		probe: kinematics.New(
			kinematics.WithSettings(sys.Settings()),
			kinematics.WithTemplates(sys.Templates()),
		),
	}
	e.Load(asm)
	return e
}

// Load swaps in a new assembly. It returns false and keeps the current state
// when asm has the same fingerprint as the loaded one.
func (e *Engine) Load(asm *assembly.Assembly) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.asm != nil && e.asm.Fingerprint() == asm.Fingerprint() {
		e.logger.Debug("Assembly unchanged, skipping initialize",
			log.String("fingerprint", fingerprint(asm.Fingerprint())))
		return false
	}

	anchors, constraints := asm.Anchors(), asm.Constraints()
	e.sys.Initialize(anchors, constraints)
	e.probeMu.Lock()
	e.probe.Initialize(anchors, constraints)
	e.probeMu.Unlock()

	e.asm = asm
	e.scene = buildScene(asm, e.sys.Summary())
	e.solveLocked(e.driver.Angle())

	e.logger.Info("Assembly loaded",
		log.Int("parts", len(e.scene.Parts)),
		log.String("fingerprint", e.scene.Fingerprint))
	return true
}

// Step advances the drive by dt seconds and solves the resulting angle. A
// rejected step re-solves the current angle.
func (e *Engine) Step(dt float64) Frame {
	if err := e.driver.Update(dt); err != nil {
		e.logger.Debug("Drive step skipped", log.Float64("dt", dt), log.Error(err))
	}
	angle := e.driver.Angle()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.solveLocked(angle)
}

func (e *Engine) solveLocked(angle float64) Frame {
	pose := e.sys.SolveForAngle(angle)
	e.asm.ApplyTransforms(pose)
	e.seq++
	e.latest = Frame{
		Type:         MessageTypeFrame,
		Seq:          e.seq,
		Angle:        angle,
		RPM:          e.driver.RPM(),
		State:        e.driver.State(),
		Displacement: e.sys.PistonDisplacement(),
		Fingerprint:  e.scene.Fingerprint,
		Parts:        partFrames(e.asm.CurrentTransforms()),
	}
	return e.latest
}

// PoseAt solves a single angle on the probe solver. The stream is untouched.
func (e *Engine) PoseAt(angle float64) Frame {
	e.probeMu.Lock()
	pose := e.probe.SolveForAngle(angle)
	displacement := e.probe.PistonDisplacement()
	e.probeMu.Unlock()

	e.mu.Lock()
	fp := e.scene.Fingerprint
	e.mu.Unlock()

	return Frame{
		Type:         MessageTypeFrame,
		Angle:        angle,
		Displacement: displacement,
		Fingerprint:  fp,
		Parts:        partFrames(pose),
	}
}

// Latest returns the last streamed frame.
func (e *Engine) Latest() Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest
}

func (e *Engine) Scene() Scene {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scene
}

func (e *Engine) Summary() kinematics.Summary {
	return e.sys.Summary()
}

func (e *Engine) Driver() *drive.Driver {
	return e.driver
}

func buildScene(asm *assembly.Assembly, summary kinematics.Summary) Scene {
	names := asm.Parts()
	scene := Scene{
		Type:        MessageTypeScene,
		Fingerprint: fingerprint(asm.Fingerprint()),
		Parts:       make([]ScenePart, 0, len(names)),
		Summary:     summary,
	}
	for _, name := range names {
		part, ok := asm.Part(name)
		if !ok {
			continue
		}
		scene.Parts = append(scene.Parts, ScenePart{
			Name:  part.Name,
			Mesh:  part.Mesh,
			Color: [3]float64(part.Color),
		})
	}
	return scene
}

func partFrames(pose []assembly.PartTransform) []PartFrame {
	out := make([]PartFrame, len(pose))
	for i, p := range pose {
		out[i] = PartFrame{Name: p.Name, Matrix: [16]float64(p.Transform)}
	}
	return out
}

// fingerprint renders a digest as fixed-width hex; JSON numbers lose
// precision past 2^53.
func fingerprint(fp uint64) string {
	return fmt.Sprintf("%016x", fp)
}
