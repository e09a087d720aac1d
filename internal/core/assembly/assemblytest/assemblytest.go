// Package assemblytest ships a single-cylinder engine mapping for tests.
package assemblytest

import (
	"bytes"
	_ "embed"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cylinderworks/cylinderworks/internal/core/assembly"
	"github.com/cylinderworks/cylinderworks/internal/core/observability/log"
)

//go:embed engine.json
var engineJSON []byte

// Crank and rod geometry baked into engine.json.
const (
	CrankRadius = 0.04
	RodLength   = 0.13
)

// EngineJSON returns a copy of the mapping document.
func EngineJSON() []byte {
	return bytes.Clone(engineJSON)
}

// Engine loads the mapping into a fresh assembly.
func Engine(t testing.TB) *assembly.Assembly {
	t.Helper()
	a, err := assembly.LoadJSON(bytes.NewReader(engineJSON), log.NewNop())
	require.NoError(t, err)
	return a
}
