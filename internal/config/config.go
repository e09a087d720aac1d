// Package config loads the service configuration from YAML or JSON.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cylinderworks/cylinderworks/internal/core/observability/log"
	"github.com/cylinderworks/cylinderworks/internal/core/systems/drive"
	"github.com/cylinderworks/cylinderworks/internal/core/systems/kinematics"
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrUnknownFormat = errors.New("unknown configuration format")
)

type Config struct {
	Log        LogConfig        `json:"log" yaml:"log"`
	Kinematics KinematicsConfig `json:"kinematics" yaml:"kinematics"`
	Drive      drive.Settings   `json:"drive" yaml:"drive"`
	Server     ServerConfig     `json:"server" yaml:"server"`
}

type LogConfig struct {
	Level       string   `json:"level" yaml:"level"`
	Encoding    string   `json:"encoding,omitempty" yaml:"encoding,omitempty"`
	OutputPaths []string `json:"output_paths,omitempty" yaml:"output_paths,omitempty"`
}

type KinematicsConfig struct {
	TargetValveLift   float64            `json:"target_valve_lift" yaml:"target_valve_lift"`
	PositionTolerance float64            `json:"position_tolerance" yaml:"position_tolerance"`
	AxisTolerance     float64            `json:"axis_tolerance" yaml:"axis_tolerance"`
	CamRatio          float64            `json:"cam_ratio" yaml:"cam_ratio"`
	LiftProfile       string             `json:"lift_profile" yaml:"lift_profile"`
	Ratios            map[string]float64 `json:"ratios,omitempty" yaml:"ratios,omitempty"`
	Phases            map[string]float64 `json:"phases,omitempty" yaml:"phases,omitempty"`
}

type ServerConfig struct {
	HTTPAddr     string        `json:"http_addr" yaml:"http_addr"`
	QUICAddr     string        `json:"quic_addr,omitempty" yaml:"quic_addr,omitempty"`
	Mapping      string        `json:"mapping" yaml:"mapping"`
	FrameRate    int           `json:"frame_rate" yaml:"frame_rate"`
	MaxClients   int           `json:"max_clients" yaml:"max_clients"`
	SendBuffer   int           `json:"send_buffer" yaml:"send_buffer"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	// DiagnosticsHistory caps the events kept for GET /diagnostics.
	DiagnosticsHistory int `json:"diagnostics_history" yaml:"diagnostics_history"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	ks := kinematics.DefaultSettings()
	return Config{
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
		Kinematics: KinematicsConfig{
			TargetValveLift:   ks.TargetValveLift,
			PositionTolerance: ks.PositionTolerance,
			AxisTolerance:     ks.AxisTolerance,
			CamRatio:          ks.CamRatio,
			LiftProfile:       string(ks.LiftProfile),
		},
		Drive: drive.DefaultSettings(),
		Server: ServerConfig{
			HTTPAddr:           "127.0.0.1:8080",
			Mapping:            "assets/engine.json",
			FrameRate:          60,
			MaxClients:         64,
			SendBuffer:         16,
			WriteTimeout:       5 * time.Second,
			DiagnosticsHistory: 256,
		},
	}
}

func (c Config) Validate() error {
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch c.Log.Encoding {
	case "", "json", "console":
	default:
		return fmt.Errorf("%w: log encoding %q", ErrInvalidConfig, c.Log.Encoding)
	}
	if err := c.Kinematics.Settings().Validate(); err != nil {
		return fmt.Errorf("%w: kinematics: %w", ErrInvalidConfig, err)
	}
	if err := c.Drive.Validate(); err != nil {
		return fmt.Errorf("%w: drive: %w", ErrInvalidConfig, err)
	}

	s := c.Server
	switch {
	case s.HTTPAddr == "":
		return fmt.Errorf("%w: server http_addr is required", ErrInvalidConfig)
	case s.Mapping == "":
		return fmt.Errorf("%w: server mapping is required", ErrInvalidConfig)
	case s.FrameRate <= 0 || s.FrameRate > 1000:
		return fmt.Errorf("%w: frame rate %d out of range (1..1000)", ErrInvalidConfig, s.FrameRate)
	case s.MaxClients <= 0:
		return fmt.Errorf("%w: max clients must be positive", ErrInvalidConfig)
	case s.SendBuffer <= 0:
		return fmt.Errorf("%w: send buffer must be positive", ErrInvalidConfig)
	case s.WriteTimeout <= 0:
		return fmt.Errorf("%w: write timeout must be positive", ErrInvalidConfig)
	case s.DiagnosticsHistory < 0:
		return fmt.Errorf("%w: diagnostics history must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Settings converts to solver settings.
func (k KinematicsConfig) Settings() kinematics.Settings {
	return kinematics.Settings{
		TargetValveLift:   k.TargetValveLift,
		PositionTolerance: k.PositionTolerance,
		AxisTolerance:     k.AxisTolerance,
		CamRatio:          k.CamRatio,
		LiftProfile:       kinematics.LiftProfile(k.LiftProfile),
		Ratios:            k.Ratios,
		Phases:            k.Phases,
	}
}

// Logger builds the zap-backed logger described by c.
func (c LogConfig) Logger() (*log.Logger, error) {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	return log.NewWithConfig(log.Config{
		Level:       level,
		Encoding:    c.Encoding,
		OutputPaths: c.OutputPaths,
	}), nil
}

// Decode reads a document over the defaults. JSON is decoded by the YAML
// parser too, so durations may be written as "5s" in either format.
// Unknown keys are rejected.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()
	data, err := io.ReadAll(r)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err = dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Load decodes and validates the file at path. A relative mapping path is
// resolved against the file's directory.
func Load(path string) (Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return Config{}, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.Server.Mapping != "" && !filepath.IsAbs(cfg.Server.Mapping) {
		cfg.Server.Mapping = filepath.Join(filepath.Dir(path), cfg.Server.Mapping)
	}
	if err = cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
