// Package drive turns operator controls into a crank angle. It owns the
// engine speed model; pose solving stays in the kinematics package.
package drive

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cylinderworks/cylinderworks/internal/core/events/bus"
	"github.com/cylinderworks/cylinderworks/internal/core/observability/log"
	"github.com/cylinderworks/cylinderworks/internal/core/systems"
)

var _ systems.System = (*Driver)(nil)

const (
	EventStateChanged = "drive.state_changed"
	eventSource       = "drive"
)

// ControlInputs is what the operator sets: throttle in [0, 1] plus the
// starter and ignition switches.
type ControlInputs struct {
	Throttle        float64 `json:"throttle" yaml:"throttle"`
	StarterEngaged  bool    `json:"starter_engaged" yaml:"starter_engaged"`
	IgnitionEnabled bool    `json:"ignition_enabled" yaml:"ignition_enabled"`
}

// State is the coarse engine condition derived from speed and inputs.
type State string

const (
	StateStopped  State = "stopped"
	StateCranking State = "cranking"
	StateRunning  State = "running"
	StateTest     State = "test"
)

// StateChange is published on EventStateChanged.
type StateChange struct {
	From State   `json:"from"`
	To   State   `json:"to"`
	RPM  float64 `json:"rpm"`
}

type Settings struct {
	IdleRPM     float64       `json:"idle_rpm" yaml:"idle_rpm"`
	MaxRPM      float64       `json:"max_rpm" yaml:"max_rpm"`
	CrankingRPM float64       `json:"cranking_rpm" yaml:"cranking_rpm"`
	Response    time.Duration `json:"response" yaml:"response"`
}

func DefaultSettings() Settings {
	return Settings{
		IdleRPM:     800,
		MaxRPM:      6000,
		CrankingRPM: 250,
		Response:    350 * time.Millisecond,
	}
}

func (s Settings) Validate() error {
	switch {
	case s.CrankingRPM <= 0:
		return fmt.Errorf("%w: cranking rpm must be positive", ErrInvalidSettings)
	case s.IdleRPM <= s.CrankingRPM:
		return fmt.Errorf("%w: idle rpm %v must exceed cranking rpm %v", ErrInvalidSettings, s.IdleRPM, s.CrankingRPM)
	case s.MaxRPM < s.IdleRPM:
		return fmt.Errorf("%w: max rpm %v is below idle rpm %v", ErrInvalidSettings, s.MaxRPM, s.IdleRPM)
	case s.Response <= 0:
		return fmt.Errorf("%w: response must be positive", ErrInvalidSettings)
	}
	return nil
}

type Option func(*Driver)

func WithLogger(logger log.Log) Option {
	return func(d *Driver) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithEventBus(b bus.EventBus) Option {
	return func(d *Driver) { d.events = b }
}

// Driver integrates engine speed into an unwrapped crank angle. All methods
// are safe for concurrent use.
type Driver struct {
	settings Settings
	logger   log.Log
	events   bus.EventBus
	metrics  systems.Tracker

	mu      sync.Mutex
	inputs  ControlInputs
	rpm     float64
	testRPM float64
	angle   float64
	state   State
	enabled bool
}

// New returns a stopped driver. Invalid settings are replaced by defaults.
func New(settings Settings, opts ...Option) *Driver {
	d := &Driver{
		settings: settings,
		logger:   log.NewNop(),
		state:    StateStopped,
		enabled:  true,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(log.String("system", "drive"))
	if err := settings.Validate(); err != nil {
		d.logger.Warn("Using default drive settings", log.Error(err))
		d.settings = DefaultSettings()
	}
	return d
}

func (d *Driver) Name() string { return "drive" }

// SetInputs replaces the control inputs. Throttle is clamped to [0, 1].
func (d *Driver) SetInputs(in ControlInputs) {
	if math.IsNaN(in.Throttle) {
		in.Throttle = 0
	}
	in.Throttle = math.Max(0, math.Min(1, in.Throttle))

	d.mu.Lock()
	d.inputs = in
	d.mu.Unlock()
}

func (d *Driver) Inputs() ControlInputs {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inputs
}

// SetTestRPM pins the engine speed, bypassing the controls. Zero or a
// negative value returns control to the speed model.
func (d *Driver) SetTestRPM(rpm float64) {
	if math.IsNaN(rpm) || math.IsInf(rpm, 0) || rpm < 0 {
		rpm = 0
	}
	d.mu.Lock()
	d.testRPM = rpm
	d.mu.Unlock()
}

// Advance steps the speed model by dt seconds and returns the accumulated
// crank angle in radians. The angle is never wrapped.
func (d *Driver) Advance(dt float64) float64 {
	d.mu.Lock()
	change, changed := d.step(dt)
	angle := d.angle
	d.mu.Unlock()

	if changed {
		d.logger.Info("Engine state changed",
			log.String("from", string(change.From)),
			log.String("to", string(change.To)),
			log.Float64("rpm", change.RPM))
		if d.events != nil {
			_ = d.events.Publish(bus.NewEvent(EventStateChanged, eventSource, change, nil))
		}
	}
	return angle
}

// Update implements systems.System.
func (d *Driver) Update(deltaTime float64) (err error) {
	start := time.Now()
	defer func() { d.metrics.Record(start, err) }()

	if math.IsNaN(deltaTime) || math.IsInf(deltaTime, 0) || deltaTime < 0 {
		return ErrInvalidDelta
	}
	if !d.IsEnabled() {
		return ErrDisabled
	}
	d.Advance(deltaTime)
	return nil
}

func (d *Driver) step(dt float64) (StateChange, bool) {
	if math.IsNaN(dt) || math.IsInf(dt, 0) || dt <= 0 {
		return StateChange{}, false
	}

	target, next := d.target()
	if next == StateTest {
		d.rpm = d.testRPM
	} else {
		tau := d.settings.Response.Seconds()
		d.rpm += (target - d.rpm) * (1 - math.Exp(-dt/tau))
		if d.rpm < 1e-3 && target == 0 {
			d.rpm = 0
		}
	}
	d.angle += d.rpm * 2 * math.Pi / 60 * dt

	if next == d.state {
		return StateChange{}, false
	}
	change := StateChange{From: d.state, To: next, RPM: d.rpm}
	d.state = next
	return change, true
}

// target picks the speed the model converges to. The engine keeps running on
// ignition once it has passed half the cranking speed.
func (d *Driver) target() (float64, State) {
	in := d.inputs
	s := d.settings
	switch {
	case d.testRPM > 0:
		return d.testRPM, StateTest
	case in.IgnitionEnabled && (d.state == StateRunning || (in.StarterEngaged && d.rpm >= s.CrankingRPM*0.5)):
		return s.IdleRPM + in.Throttle*(s.MaxRPM-s.IdleRPM), StateRunning
	case in.StarterEngaged:
		return s.CrankingRPM, StateCranking
	default:
		return 0, StateStopped
	}
}

func (d *Driver) RPM() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rpm
}

// Angle is the accumulated crank angle in radians.
func (d *Driver) Angle() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.angle
}

func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) Settings() Settings { return d.settings }

// Reset stops the engine and rewinds the crank to zero. Inputs are kept.
func (d *Driver) Reset() error {
	d.mu.Lock()
	d.rpm, d.angle, d.testRPM = 0, 0, 0
	d.state = StateStopped
	d.mu.Unlock()
	d.metrics.Reset()
	return nil
}

func (d *Driver) IsEnabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

func (d *Driver) SetEnabled(enabled bool) {
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
}

func (d *Driver) GetMetrics() systems.Metrics {
	return d.metrics.Snapshot()
}
