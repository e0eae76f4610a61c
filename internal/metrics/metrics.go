package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Step outcomes.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// RunMetrics is the pass/fail report of one round-trip run.
type RunMetrics struct {
	mu sync.Mutex

	RunID      string          `json:"run_id" yaml:"run_id"`
	Endpoint   string          `json:"endpoint" yaml:"endpoint"`
	StartedAt  time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time       `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Duration   time.Duration   `json:"-" yaml:"-"`
	DurationMS int64           `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
	Source     CollectionStats `json:"source" yaml:"source"`
	Snapshot   SnapshotStats   `json:"snapshot" yaml:"snapshot"`
	Targets    []TargetStats   `json:"targets" yaml:"targets"`
	Steps      []StepResult    `json:"steps" yaml:"steps"`
	Passed     bool            `json:"passed" yaml:"passed"`
	FailedStep string          `json:"failed_step,omitempty" yaml:"failed_step,omitempty"`
	Errors     []string        `json:"errors,omitempty" yaml:"errors,omitempty"`
}

type CollectionStats struct {
	Name       string `json:"name" yaml:"name"`
	VectorSize int    `json:"vector_size" yaml:"vector_size"`
	Distance   string `json:"distance" yaml:"distance"`
	Points     int    `json:"points" yaml:"points"`
}

type SnapshotStats struct {
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Bytes    int64  `json:"bytes,omitempty" yaml:"bytes,omitempty"`
	Checksum string `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	Archived string `json:"archived,omitempty" yaml:"archived,omitempty"`
}

type TargetStats struct {
	Name     string `json:"name" yaml:"name"`
	Method   string `json:"method" yaml:"method"`
	Verified bool   `json:"verified" yaml:"verified"`
	Points   uint64 `json:"points" yaml:"points"`
}

type StepResult struct {
	Name       string        `json:"name" yaml:"name"`
	State      string        `json:"state" yaml:"state"`
	Duration   time.Duration `json:"-" yaml:"-"`
	DurationMS int64         `json:"duration_ms" yaml:"duration_ms"`
	Status     string        `json:"status" yaml:"status"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// New starts tracking a run.
func New(runID, endpoint string) *RunMetrics {
	return &RunMetrics{RunID: runID, Endpoint: endpoint, StartedAt: time.Now()}
}

// AddStep records a single step's timing and outcome.
func (m *RunMetrics) AddStep(name, state string, d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	step := StepResult{Name: name, State: state, Duration: d, DurationMS: d.Milliseconds(), Status: StatusOK}
	if err != nil {
		step.Status = StatusFailed
		step.Error = err.Error()
	}
	m.Steps = append(m.Steps, step)
}

// SetTarget records or replaces the outcome for one recovery target.
func (m *RunMetrics) SetTarget(t TargetStats) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.Targets {
		if m.Targets[i].Name == t.Name {
			m.Targets[i] = t
			return
		}
	}
	m.Targets = append(m.Targets, t)
}

// Finish marks the run as complete. A nil err means the run passed.
func (m *RunMetrics) Finish(failedStep string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FinishedAt = time.Now()
	m.Duration = m.FinishedAt.Sub(m.StartedAt)
	m.DurationMS = m.Duration.Milliseconds()
	m.Passed = err == nil
	m.FailedStep = failedStep
	if err != nil {
		m.Errors = append(m.Errors, err.Error())
	}
}

// PrintSummary writes a human-readable summary.
func (m *RunMetrics) PrintSummary(w io.Writer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := "PASS"
	if !m.Passed {
		result = "FAIL"
	}
	fmt.Fprintf(w, "\n╔══════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║      SNAPSHOT ROUND-TRIP REPORT      ║\n")
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ Result:      %-23s║\n", result)
	fmt.Fprintf(w, "║ Duration:    %-23s║\n", m.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "║ Run:         %-23s║\n", truncate(m.RunID, 23))
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ SOURCE %s\n", m.Source.Name)
	fmt.Fprintf(w, "║   Vectors:     %d x %s\n", m.Source.VectorSize, m.Source.Distance)
	fmt.Fprintf(w, "║   Points:      %d\n", m.Source.Points)
	if m.Snapshot.Name != "" {
		fmt.Fprintf(w, "║ SNAPSHOT %s\n", m.Snapshot.Name)
		fmt.Fprintf(w, "║   Size:        %s\n", formatBytes(m.Snapshot.Bytes))
	}
	if len(m.Targets) > 0 {
		fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
		fmt.Fprintf(w, "║ TARGETS\n")
		for _, t := range m.Targets {
			status := "OK"
			if !t.Verified {
				status = "NOT VERIFIED"
			}
			fmt.Fprintf(w, "║   %-18s [%s] %s\n", t.Name, t.Method, status)
		}
	}
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ STEPS\n")
	for _, s := range m.Steps {
		fmt.Fprintf(w, "║   %-22s %8s  %s\n", s.Name, s.Duration.Round(time.Millisecond), s.Status)
	}
	if len(m.Errors) > 0 {
		fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
		fmt.Fprintf(w, "║ ERRORS\n")
		if m.FailedStep != "" {
			fmt.Fprintf(w, "║   failed step: %s\n", m.FailedStep)
		}
		for _, e := range m.Errors {
			fmt.Fprintf(w, "║   • %s\n", e)
		}
	}
	fmt.Fprintf(w, "╚══════════════════════════════════════╝\n")
}

// JSON returns the metrics as formatted JSON.
func (m *RunMetrics) JSON() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return json.MarshalIndent(m, "", "  ")
}

// YAML returns the metrics as YAML.
func (m *RunMetrics) YAML() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return yaml.Marshal(m)
}

// WriteFile writes the report, choosing YAML for .yaml/.yml paths and JSON
// otherwise.
func (m *RunMetrics) WriteFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = m.YAML()
	default:
		data, err = m.JSON()
	}
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func formatBytes(b int64) string {
	switch {
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
