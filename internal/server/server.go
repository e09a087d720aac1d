package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cylinderworks/cylinderworks/internal/config"
	"github.com/cylinderworks/cylinderworks/internal/core/assembly"
	"github.com/cylinderworks/cylinderworks/internal/core/events/bus"
	"github.com/cylinderworks/cylinderworks/internal/core/observability/log"
)

// Server streams engine poses over websocket and, optionally, QUIC.
type Server struct {
	config   config.ServerConfig
	logger   log.Log
	engine   *Engine
	events   bus.EventBus
	recorder *Recorder

	hub      *Hub
	quic     *QUICSink
	http     *http.Server
	listener net.Listener

	// Server state
	running atomic.Bool
	closed  atomic.Bool
	cancel  context.CancelFunc
	workers *errgroup.Group

	statsMu sync.Mutex
	stats   FrameStats
}

// NewServer wires the stream endpoints around engine. Nothing listens until
// Start.
func NewServer(cfg config.ServerConfig, engine *Engine, events bus.EventBus, recorder *Recorder, logger log.Log) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	logger = logger.With(log.String("component", "server"))

	s := &Server{
		config:   cfg,
		logger:   logger,
		engine:   engine,
		events:   events,
		recorder: recorder,
		hub:      NewHub(engine, cfg.MaxClients, cfg.SendBuffer, cfg.WriteTimeout, logger),
	}
	if cfg.QUICAddr != "" {
		s.quic = NewQUICSink(engine, cfg.MaxClients, cfg.SendBuffer, logger)
	}
	s.http = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("Server created",
		log.String("http_addr", cfg.HTTPAddr),
		log.String("quic_addr", cfg.QUICAddr),
		log.Int("frame_rate", cfg.FrameRate))
	return s
}

// Start starts the server. A server runs once; Start after Stop returns
// ErrServerClosed.
func (s *Server) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrServerAlreadyRunning
	}
	if s.workers != nil {
		s.running.Store(false)
		return ErrServerClosed
	}

	listener, err := net.Listen("tcp", s.config.HTTPAddr)
	if err != nil {
		s.running.Store(false)
		s.logger.Error("Failed to create listener", log.Error(err))
		return errors.Join(ErrListenerFailed, err)
	}
	s.listener = listener

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if s.quic != nil {
		if err = s.quic.Start(runCtx, s.config.QUICAddr, nil); err != nil {
			cancel()
			_ = listener.Close()
			s.running.Store(false)
			s.logger.Error("Failed to start QUIC stream", log.Error(err))
			return err
		}
	}

	g, gctx := errgroup.WithContext(runCtx)
	s.workers = g
	g.Go(func() error {
		if serveErr := s.http.Serve(listener); !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	})
	g.Go(func() error {
		s.frameLoop(gctx)
		return nil
	})

	s.logger.Info("Server listening", log.String("addr", listener.Addr().String()))
	return nil
}

// Stop stops the server
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return ErrServerNotRunning
	}
	s.logger.Info("Stopping server")

	s.cancel()
	// Hijacked websocket connections are not closed by Shutdown.
	s.hub.Close()
	err := s.http.Shutdown(ctx)
	if s.quic != nil {
		err = errors.Join(err, s.quic.Stop())
	}
	err = errors.Join(err, s.workers.Wait())

	s.logger.Info("Server stopped")
	return err
}

// Close closes the server and releases all resources
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if s.running.Load() {
		err = s.Stop(context.Background())
	}
	if s.recorder != nil {
		err = errors.Join(err, s.recorder.Close())
	}
	s.logger.Info("Server closed")
	return err
}

// Addr is the HTTP listen address once started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// QUICAddr is the QUIC listen address, or nil when QUIC is disabled.
func (s *Server) QUICAddr() net.Addr {
	if s.quic == nil {
		return nil
	}
	return s.quic.Addr()
}

// Reload re-reads the mapping file. It reports false when the assembly is
// unchanged.
func (s *Server) Reload() (bool, error) {
	asm, err := assembly.LoadFile(s.config.Mapping, s.logger)
	if err != nil {
		s.logger.Warn("Reload failed", log.String("mapping", s.config.Mapping), log.Error(err))
		return false, err
	}
	if !s.engine.Load(asm) {
		return false, nil
	}
	if data, err := json.Marshal(s.engine.Scene()); err == nil {
		s.broadcast(data)
	}
	return true, nil
}

func (s *Server) Diagnostics() Diagnostics {
	s.statsMu.Lock()
	stats := s.stats
	s.statsMu.Unlock()

	d := Diagnostics{
		Frame: stats,
		Drive: s.engine.Driver().GetMetrics(),
	}
	d.Frame.Dropped = s.hub.Dropped()
	d.Clients.WebSocket = s.hub.Count()
	if s.quic != nil {
		d.Frame.Dropped += s.quic.Dropped()
		d.Clients.QUIC = s.quic.Count()
	}
	if s.events != nil {
		d.Bus = s.events.GetMetrics()
	}
	if s.recorder != nil {
		d.EventsTotal = s.recorder.Total()
		d.Events = s.recorder.Events()
	}
	return d
}

func (s *Server) frameLoop(ctx context.Context) {
	s.logger.Debug("Frame loop started")
	defer s.logger.Debug("Frame loop stopped")

	ticker := time.NewTicker(time.Second / time.Duration(s.config.FrameRate))
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now.Sub(last))
			last = now
		}
	}
}

func (s *Server) tick(dt time.Duration) {
	frame := s.engine.Step(dt.Seconds())
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("Failed to encode frame", log.Error(err))
		return
	}
	s.broadcast(data)

	ms := float64(dt) / float64(time.Millisecond)
	s.statsMu.Lock()
	s.stats.Frames++
	s.stats.FrameTimeMs = ms
	if ms > 0 {
		s.stats.FPS = 1000 / ms
	}
	s.statsMu.Unlock()
}

func (s *Server) broadcast(data []byte) {
	s.hub.Broadcast(data)
	if s.quic != nil {
		s.quic.Broadcast(data)
	}
}
