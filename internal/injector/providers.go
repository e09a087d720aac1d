package injector

import (
	"github.com/google/wire"

	"github.com/cylinderworks/cylinderworks/internal/config"
	"github.com/cylinderworks/cylinderworks/internal/core/assembly"
	"github.com/cylinderworks/cylinderworks/internal/core/events/bus"
	"github.com/cylinderworks/cylinderworks/internal/core/observability/log"
	"github.com/cylinderworks/cylinderworks/internal/core/systems/drive"
	"github.com/cylinderworks/cylinderworks/internal/core/systems/kinematics"
	"github.com/cylinderworks/cylinderworks/internal/server"
)

// ServerSet builds a pose server from a loaded config.
var ServerSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
	bus.New,
	ProvideAssembly,
	ProvideKinematics,
	ProvideDriver,
	ProvideRecorder,
	ProvideEngine,
	ProvideServer,
)

func ProvideLogger(cfg config.Config) (*log.Logger, func(), error) {
	logger, err := cfg.Log.Logger()
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { _ = logger.Sync() }, nil
}

func ProvideAssembly(cfg config.Config, logger log.Log) (*assembly.Assembly, error) {
	return assembly.LoadFile(cfg.Server.Mapping, logger)
}

func ProvideKinematics(cfg config.Config, events bus.EventBus, logger log.Log) *kinematics.System {
	return kinematics.New(
		kinematics.WithSettings(cfg.Kinematics.Settings()),
		kinematics.WithEventBus(events),
		kinematics.WithLogger(logger),
	)
}

func ProvideDriver(cfg config.Config, events bus.EventBus, logger log.Log) *drive.Driver {
	return drive.New(cfg.Drive, drive.WithEventBus(events), drive.WithLogger(logger))
}

func ProvideRecorder(cfg config.Config, events bus.EventBus) (*server.Recorder, error) {
	return server.NewRecorder(events, cfg.Server.DiagnosticsHistory)
}

// ProvideEngine takes the recorder only so that it subscribes before the
// first Initialize publishes.
func ProvideEngine(
	asm *assembly.Assembly,
	sys *kinematics.System,
	driver *drive.Driver,
	_ *server.Recorder,
	logger log.Log,
) *server.Engine {
	return server.NewEngine(asm, sys, driver, logger)
}

func ProvideServer(
	cfg config.Config,
	engine *server.Engine,
	events bus.EventBus,
	recorder *server.Recorder,
	logger log.Log,
) (*server.Server, func()) {
	srv := server.NewServer(cfg.Server, engine, events, recorder, logger)
	return srv, func() { _ = srv.Close() }
}
