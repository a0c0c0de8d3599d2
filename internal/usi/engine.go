// Package usi drives an external shogi engine over the USI protocol.
package usi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrEngineClosed is returned when a command is sent after Close
var ErrEngineClosed = errors.New("engine is closed")

// quitGrace is how long Close waits for the process to exit before killing it
const quitGrace = 3 * time.Second

// Engine is a running engine process with its stdin, stdout and stderr
// pipes. Sends are serialized.
type Engine struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Start runs the engine binary at path from its own directory, where mate
// solvers expect their evaluation files.
func Start(ctx context.Context, logger *zap.Logger, path string, args ...string) (*Engine, error) {
	if path == "" {
		return nil, errors.New("engine path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = filepath.Dir(path)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open engine stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open engine stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open engine stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start engine %s: %w", path, err)
	}
	logger.Info("Engine started", zap.String("path", path), zap.Int("pid", cmd.Process.Pid))
	return &Engine{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr, logger: logger}, nil
}

// Reader wraps the engine's stdout
func (e *Engine) Reader() *Reader {
	return NewReader(e.stdout)
}

// Stderr is the engine's raw stderr
func (e *Engine) Stderr() io.Reader {
	return e.stderr
}

// Send writes one command line, adding the newline if missing
func (e *Engine) Send(line string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	e.logger.Debug("usi >", zap.String("line", strings.TrimSpace(line)))
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	_, err := io.WriteString(e.stdin, line)
	return err
}

// Close asks the engine to quit and kills it if it is still running after
// quitGrace. Calling Close again is a no-op.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	_ = e.Send("quit")
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	_ = e.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- e.cmd.Wait() }()
	select {
	case err := <-done:
		e.logger.Info("Engine exited")
		return err
	case <-time.After(quitGrace):
		_ = e.cmd.Process.Kill()
		e.logger.Warn("Engine killed after quit timeout")
		return errors.New("engine did not exit in time")
	}
}
