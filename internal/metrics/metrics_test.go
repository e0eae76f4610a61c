package metrics

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleRun() *RunMetrics {
	m := New("run-1234", "http://localhost:6333")
	m.Source = CollectionStats{Name: "cities", VectorSize: 4, Distance: "Dot", Points: 2}
	m.Snapshot = SnapshotStats{Name: "cities-1.snapshot", Bytes: 2048}
	m.AddStep("wait_ready", "WaitingReady", 5*time.Millisecond, nil)
	m.AddStep("create_snapshot", "SnapshotCreated", 9*time.Millisecond, nil)
	m.SetTarget(TargetStats{Name: "cities_r1", Method: "location"})
	m.SetTarget(TargetStats{Name: "cities_r1", Method: "location", Verified: true, Points: 2})
	return m
}

func TestFinish_Passed(t *testing.T) {
	m := sampleRun()
	m.Finish("", nil)

	assert.True(t, m.Passed)
	assert.Empty(t, m.Errors)
	assert.False(t, m.FinishedAt.IsZero())
	require.Len(t, m.Targets, 1)
	assert.True(t, m.Targets[0].Verified)
}

func TestFinish_Failed(t *testing.T) {
	m := sampleRun()
	m.AddStep("recover", "RecoveringBoth", time.Millisecond, errors.New("status 500"))
	m.Finish("recover", errors.New("recover: status 500"))

	assert.False(t, m.Passed)
	assert.Equal(t, "recover", m.FailedStep)
	assert.Equal(t, StatusFailed, m.Steps[2].Status)
	assert.Equal(t, "status 500", m.Steps[2].Error)
}

func TestPrintSummary(t *testing.T) {
	m := sampleRun()
	m.Finish("recover", errors.New("boom"))

	var buf bytes.Buffer
	m.PrintSummary(&buf)
	out := buf.String()
	assert.Contains(t, out, "FAIL")
	assert.Contains(t, out, "cities_r1")
	assert.Contains(t, out, "2.0 KB")
	assert.Contains(t, out, "failed step: recover")
}

func TestWriteFile_JSONAndYAML(t *testing.T) {
	m := sampleRun()
	m.AddStep("recover", "RecoveringBoth", 1500*time.Millisecond, nil)
	m.Finish("", nil)
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "reports", "run.json")
	require.NoError(t, m.WriteFile(jsonPath))
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "run-1234", decoded["run_id"])
	assert.Equal(t, true, decoded["passed"])
	steps := decoded["steps"].([]any)
	require.Len(t, steps, 3)
	assert.Equal(t, 5.0, steps[0].(map[string]any)["duration_ms"])
	assert.Equal(t, 1500.0, steps[2].(map[string]any)["duration_ms"])

	yamlPath := filepath.Join(dir, "run.yaml")
	require.NoError(t, m.WriteFile(yamlPath))
	data, err = os.ReadFile(yamlPath)
	require.NoError(t, err)
	var fromYAML map[string]any
	require.NoError(t, yaml.Unmarshal(data, &fromYAML))
	assert.Equal(t, "cities", fromYAML["source"].(map[string]any)["name"])
	yamlSteps := fromYAML["steps"].([]any)
	assert.Equal(t, 1500, yamlSteps[2].(map[string]any)["duration_ms"])
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2<<20))
}
