package client

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cylinderworks/cylinderworks/internal/config"
	"github.com/cylinderworks/cylinderworks/internal/core/assembly/assemblytest"
	"github.com/cylinderworks/cylinderworks/internal/injector"
	"github.com/cylinderworks/cylinderworks/internal/server"
)

func startServer(t *testing.T) *server.Server {
	t.Helper()
	mapping := filepath.Join(t.TempDir(), "engine.json")
	require.NoError(t, os.WriteFile(mapping, assemblytest.EngineJSON(), 0o644))

	cfg := config.Default()
	cfg.Log.Level = "error"
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.QUICAddr = "127.0.0.1:0"
	cfg.Server.Mapping = mapping
	cfg.Server.FrameRate = 100

	srv, cleanup, err := injector.InitializeServer(cfg)
	require.NoError(t, err)
	t.Cleanup(cleanup)
	require.NoError(t, srv.Start(context.Background()))
	return srv
}

func TestClientReceivesSceneAndFrames(t *testing.T) {
	srv := startServer(t)

	cfg := DefaultClientConfig()
	cfg.ServerAddr = srv.QUICAddr().String()
	cfg.InsecureSkipVerify = true
	c := NewClient(cfg)
	defer c.Close()

	scenes := make(chan server.Scene, 1)
	c.OnScene(func(s server.Scene) error {
		scenes <- s
		return nil
	})
	connected := make(chan struct{})
	c.OnEvent(EventTypeConnected, func(Event) error {
		close(connected)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	require.ErrorIs(t, c.Connect(ctx), ErrAlreadyConnected)

	select {
	case scene := <-scenes:
		require.NotEmpty(t, scene.Parts)
		require.Len(t, scene.Fingerprint, 16)
	case <-ctx.Done():
		t.Fatal("no scene received")
	}
	<-connected

	require.Eventually(t, func() bool { return c.Frames() >= 3 }, 3*time.Second, 5*time.Millisecond)
	latest := c.Latest()
	require.Equal(t, server.MessageTypeFrame, latest.Type)
	require.Equal(t, c.Scene().Fingerprint, latest.Fingerprint)
	require.Len(t, latest.Parts, len(c.Scene().Parts))

	require.NoError(t, c.Disconnect())
	require.False(t, c.IsConnected())
	require.ErrorIs(t, c.Disconnect(), ErrNotConnected)
}

func TestClientSeesServerStop(t *testing.T) {
	srv := startServer(t)

	cfg := DefaultClientConfig()
	cfg.ServerAddr = srv.QUICAddr().String()
	cfg.InsecureSkipVerify = true
	c := NewClient(cfg)
	defer c.Close()

	disconnected := make(chan Event, 1)
	c.OnEvent(EventTypeDisconnected, func(e Event) error {
		disconnected <- e
		return nil
	})
	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return c.Frames() > 0 }, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, srv.Stop(context.Background()))
	select {
	case e := <-disconnected:
		require.Error(t, e.Error)
	case <-time.After(5 * time.Second):
		t.Fatal("client did not notice the server stopping")
	}
	require.False(t, c.IsConnected())
}

func TestClientConfigErrors(t *testing.T) {
	c := NewClient(Config{})
	require.ErrorIs(t, c.Connect(context.Background()), ErrInvalidConfig)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Connect(context.Background()), ErrClientClosed)
	<-c.Done()
}

func TestHandleMessageRejectsUnknownType(t *testing.T) {
	c := NewClient(DefaultClientConfig())
	require.ErrorIs(t, c.handleMessage([]byte(`{"type":"chat"}`)), ErrInvalidMessage)
	require.ErrorIs(t, c.handleMessage([]byte(`nope`)), ErrInvalidMessage)
	require.NoError(t, c.handleMessage([]byte(`{"type":"frame","seq":7}`)))
	require.Equal(t, uint64(7), c.Latest().Seq)
}
