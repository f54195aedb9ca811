// File: cmd/analyze_test.go
package cmd

import (
	"context"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/printforge/gcode-triage/internal/config"
	"github.com/printforge/gcode-triage/internal/jobs"
	"github.com/printforge/gcode-triage/internal/pipeline"
)

const sampleGcode = `; generated by PrusaSlicer
M140 S60
M190 S60
M109 S210
;LAYER:0
G1 Z0.2 F600
G1 X10 E0.5 F1800
;LAYER:1
G1 X20 E1.0
M104 S0
M140 S0
M84
`

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.NewConfigFromViper(v)
	require.NoError(t, err)
	return cfg
}

// A cancelled context must still yield a terminal snapshot, never a
// still-running one with an empty error.
func TestWaitForJobCancelledContext(t *testing.T) {
	cfg := newTestConfig(t)
	logger := zap.NewNop()
	analyzer := pipeline.NewAnalyzer(cfg, logger)
	manager := jobs.NewManager(cfg.Engine(), analyzer, logger)
	defer manager.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	id, err := manager.Submit(ctx, jobs.SubmitRequest{Raw: sampleGcode, FilePath: "sample.gcode"})
	require.NoError(t, err)

	cancel()

	snap, err := waitForJob(ctx, manager, id)
	require.NoError(t, err)
	assert.True(t, snap.Status.Terminal(), "status %q is not terminal", snap.Status)
}

func TestWaitForJobCompletes(t *testing.T) {
	cfg := newTestConfig(t)
	logger := zap.NewNop()
	analyzer := pipeline.NewAnalyzer(cfg, logger)
	manager := jobs.NewManager(cfg.Engine(), analyzer, logger)
	defer manager.Wait()

	id, err := manager.Submit(context.Background(), jobs.SubmitRequest{Raw: sampleGcode, FilePath: "sample.gcode"})
	require.NoError(t, err)

	snap, err := waitForJob(context.Background(), manager, id)
	require.NoError(t, err)
	assert.True(t, snap.Status.Terminal())
	require.NotNil(t, snap.Result)
	assert.Equal(t, 100, snap.Progress)
}
