// Package provision launches a disposable service instance for a run.
package provision

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Environment variables the service reads its storage layout from.
const (
	EnvTempPath    = "QDRANT__STORAGE__TEMP_PATH"
	EnvStoragePath = "QDRANT__STORAGE__STORAGE_PATH"
	EnvHTTPPort    = "QDRANT__SERVICE__HTTP_PORT"
	EnvGRPCPort    = "QDRANT__SERVICE__GRPC_PORT"
	EnvAPIKey      = "QDRANT__SERVICE__API_KEY"
)

// ErrNotStarted is returned when stopping a process that never started.
var ErrNotStarted = errors.New("process not started")

// TempStorage is a throwaway directory tree holding the service's data.
type TempStorage struct {
	Root        string
	StoragePath string
	TempPath    string
}

// NewTempStorage creates the directory tree under base, or under the system
// temp dir when base is empty.
func NewTempStorage(base string) (*TempStorage, error) {
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return nil, fmt.Errorf("create storage base: %w", err)
		}
	}
	root, err := os.MkdirTemp(base, "snapcheck-")
	if err != nil {
		return nil, fmt.Errorf("create temp storage: %w", err)
	}
	ts := &TempStorage{
		Root:        root,
		StoragePath: filepath.Join(root, "storage"),
		TempPath:    filepath.Join(root, "tmp"),
	}
	for _, dir := range []string{ts.StoragePath, ts.TempPath} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			_ = os.RemoveAll(root)
			return nil, fmt.Errorf("create temp storage: %w", err)
		}
	}
	return ts, nil
}

// Env returns the variables pointing the service at this storage.
func (ts *TempStorage) Env() []string {
	return []string{
		EnvStoragePath + "=" + ts.StoragePath,
		EnvTempPath + "=" + ts.TempPath,
	}
}

// Release removes the directory tree.
func (ts *TempStorage) Release(context.Context) error {
	if err := os.RemoveAll(ts.Root); err != nil {
		return fmt.Errorf("remove temp storage %s: %w", ts.Root, err)
	}
	return nil
}

// ProcessConfig describes how to launch the service.
type ProcessConfig struct {
	Executable  string
	Args        []string
	HTTPPort    int
	GRPCPort    int
	APIKey      string
	Environment map[string]string
	// StopTimeout is how long Stop waits after SIGINT before killing.
	StopTimeout time.Duration
	// Output receives the process's stdout and stderr. Nil discards it.
	Output io.Writer
}

// Process is a launched service instance.
type Process struct {
	cfg     ProcessConfig
	storage *TempStorage
	logger  *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	exited chan struct{}
	err    error
}

// NewProcess prepares a process that will use storage.
func NewProcess(cfg ProcessConfig, storage *TempStorage, logger *slog.Logger) *Process {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Process{cfg: cfg, storage: storage, logger: logger}
}

// Start launches the process. It does not wait for readiness.
func (p *Process) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil {
		return fmt.Errorf("process already running")
	}
	if p.cfg.Executable == "" {
		return fmt.Errorf("no executable configured")
	}

	cmd := exec.Command(p.cfg.Executable, p.cfg.Args...)
	cmd.Env = append(os.Environ(), p.env()...)
	if p.storage != nil {
		cmd.Dir = p.storage.Root
	}
	if p.cfg.Output != nil {
		cmd.Stdout = p.cfg.Output
		cmd.Stderr = p.cfg.Output
	}
	cmd.WaitDelay = p.cfg.StopTimeout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.cfg.Executable, err)
	}
	p.cmd = cmd
	p.exited = make(chan struct{})
	go p.wait(cmd, p.exited)

	p.logger.Info("service process started", "executable", p.cfg.Executable, "pid", cmd.Process.Pid)
	return nil
}

func (p *Process) env() []string {
	var env []string
	if p.storage != nil {
		env = append(env, p.storage.Env()...)
	}
	if p.cfg.HTTPPort > 0 {
		env = append(env, EnvHTTPPort+"="+strconv.Itoa(p.cfg.HTTPPort))
	}
	if p.cfg.GRPCPort > 0 {
		env = append(env, EnvGRPCPort+"="+strconv.Itoa(p.cfg.GRPCPort))
	}
	if p.cfg.APIKey != "" {
		env = append(env, EnvAPIKey+"="+p.cfg.APIKey)
	}
	for k, v := range p.cfg.Environment {
		env = append(env, k+"="+v)
	}
	return env
}

func (p *Process) wait(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	if err != nil {
		p.logger.Debug("service process exited", "pid", cmd.Process.Pid, "error", err)
	}
	close(exited)
}

// ExitErr returns the result of the process's Wait once it has exited.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Running reports whether the process has been started and not yet exited.
func (p *Process) Running() bool {
	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	if exited == nil {
		return false
	}
	select {
	case <-exited:
		return false
	default:
		return true
	}
}

// Stop interrupts the process and kills it if it outlives StopTimeout or ctx.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	cmd, exited := p.cmd, p.exited
	p.mu.Unlock()
	if cmd == nil {
		return ErrNotStarted
	}

	select {
	case <-exited:
		return nil
	default:
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.logger.Warn("interrupt failed, killing", "pid", cmd.Process.Pid, "error", err)
		_ = cmd.Process.Kill()
	}

	timer := time.NewTimer(p.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-exited:
	case <-timer.C:
		_ = cmd.Process.Kill()
		<-exited
		return fmt.Errorf("process %d did not exit within %s", cmd.Process.Pid, p.cfg.StopTimeout)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-exited
		return fmt.Errorf("stop process %d: %w", cmd.Process.Pid, ctx.Err())
	}
	p.logger.Info("service process stopped", "pid", cmd.Process.Pid)
	return nil
}
