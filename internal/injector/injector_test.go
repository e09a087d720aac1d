package injector

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cylinderworks/cylinderworks/internal/config"
	"github.com/cylinderworks/cylinderworks/internal/core/assembly/assemblytest"
	"github.com/cylinderworks/cylinderworks/internal/core/systems/kinematics"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	mapping := filepath.Join(t.TempDir(), "engine.json")
	require.NoError(t, os.WriteFile(mapping, assemblytest.EngineJSON(), 0o644))

	cfg := config.Default()
	cfg.Log.Level = "error"
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Server.Mapping = mapping
	return cfg
}

func TestInitializeServer(t *testing.T) {
	srv, cleanup, err := InitializeServer(testConfig(t))
	require.NoError(t, err)
	defer cleanup()

	// The recorder is subscribed before the first Initialize.
	events := srv.Diagnostics().Events
	require.NotEmpty(t, events)
	require.Equal(t, kinematics.EventInitialized, events[0].Type)

	require.NoError(t, srv.Start(context.Background()))
	resp, err := http.Get("http://" + srv.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, srv.Stop(context.Background()))
}

func TestInitializeServerErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Mapping = filepath.Join(t.TempDir(), "missing.json")
	_, _, err := InitializeServer(cfg)
	require.Error(t, err)

	cfg = testConfig(t)
	cfg.Log.Level = "loud"
	_, _, err = InitializeServer(cfg)
	require.Error(t, err)
}
