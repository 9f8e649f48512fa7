// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mia-platform/normalizer/internal/logger"
)

const (
	loggerName = "normalizer:process"

	// DefaultStopGracePeriod is how long a terminated process is given before being killed.
	DefaultStopGracePeriod = 10 * time.Second
)

var (
	// ErrStart wraps every failure happening before the process is running.
	ErrStart = errors.New("cannot start process")
)

var _ Factory = &LocalFactory{}

// LocalFactory starts tools as child processes of the current one.
type LocalFactory struct {
	// Env is appended to the environment inherited from the current process.
	Env []string
	// StopGracePeriod is the delay between SIGTERM and SIGKILL when terminating.
	StopGracePeriod time.Duration
}

// NewLocalFactory returns a LocalFactory using gracePeriod between SIGTERM and SIGKILL.
func NewLocalFactory(gracePeriod time.Duration) *LocalFactory {
	if gracePeriod <= 0 {
		gracePeriod = DefaultStopGracePeriod
	}

	return &LocalFactory{StopGracePeriod: gracePeriod}
}

// Start implements Factory.
func (f *LocalFactory) Start(ctx context.Context, tool string, args []string, workingDir string) (Handle, error) {
	log := logger.FromContext(ctx).WithName(loggerName)
	if tool == "" {
		return nil, fmt.Errorf("%w: empty command", ErrStart)
	}

	if workingDir != "" {
		if err := os.MkdirAll(workingDir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: working directory: %w", ErrStart, err)
		}
	}

	stdoutReader, stdoutWriter, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %w", ErrStart, err)
	}
	stderrReader, stderrWriter, err := os.Pipe()
	if err != nil {
		closeAll(stdoutReader, stdoutWriter)
		return nil, fmt.Errorf("%w: stderr pipe: %w", ErrStart, err)
	}

	cmd := exec.Command(tool, args...)
	cmd.Dir = workingDir
	cmd.Env = append(os.Environ(), f.Env...)
	cmd.Stdout = stdoutWriter
	cmd.Stderr = stderrWriter
	setProcessGroup(cmd)

	err = cmd.Start()
	// the child owns its copies of the write ends, ours must be closed to observe EOF
	closeAll(stdoutWriter, stderrWriter)
	if err != nil {
		closeAll(stdoutReader, stderrReader)
		return nil, fmt.Errorf("%w: %w", ErrStart, err)
	}

	log.Debug("process started", "tool", tool, "args", args, "pid", cmd.Process.Pid, "workingDir", workingDir)
	return &localHandle{
		cmd:         cmd,
		stdout:      newPipeReader(stdoutReader),
		stderr:      newPipeReader(stderrReader),
		gracePeriod: f.StopGracePeriod,
		log:         log.With("pid", cmd.Process.Pid),
		exited:      make(chan struct{}),
	}, nil
}

func closeAll(files ...*os.File) {
	for _, file := range files {
		_ = file.Close()
	}
}

// pipeReader is the read end of an output pipe. It records when the end of the stream has
// been read, and reads after a forced close report the end of the stream.
type pipeReader struct {
	file *os.File

	eofOnce sync.Once
	eof     chan struct{}
	closed  atomic.Bool
}

func newPipeReader(file *os.File) *pipeReader {
	return &pipeReader{file: file, eof: make(chan struct{})}
}

func (p *pipeReader) Read(buffer []byte) (int, error) {
	n, err := p.file.Read(buffer)
	if err != nil && p.closed.Load() {
		err = io.EOF
	}
	if errors.Is(err, io.EOF) {
		p.eofOnce.Do(func() { close(p.eof) })
	}
	return n, err
}

func (p *pipeReader) close() {
	if p.closed.CompareAndSwap(false, true) {
		_ = p.file.Close()
	}
}

// localHandle is the Handle of an os/exec process running in its own process group.
type localHandle struct {
	cmd         *exec.Cmd
	stdout      *pipeReader
	stderr      *pipeReader
	gracePeriod time.Duration
	log         logger.Logger

	waitOnce sync.Once
	exitCode int
	waitErr  error
	exited   chan struct{}

	terminateOnce sync.Once
	terminateErr  error
}

func (h *localHandle) Stdout() io.Reader {
	return h.stdout
}

func (h *localHandle) Stderr() io.Reader {
	return h.stderr
}

// Wait waits for the process to exit, then for its output to be read to the end. Output
// still open once the grace period has elapsed, usually held by a child of the process, is
// closed after killing what is left of the process group.
func (h *localHandle) Wait() (int, error) {
	h.waitOnce.Do(func() {
		err := h.cmd.Wait()
		close(h.exited)

		var exitErr *exec.ExitError
		switch {
		case err == nil:
			h.exitCode = 0
		case errors.As(err, &exitErr):
			h.exitCode = exitErr.ExitCode()
			if code, signaled := signaledExitCode(exitErr.ProcessState); signaled {
				h.exitCode = code
			}
		default:
			h.exitCode = -1
			h.waitErr = err
		}

		h.drain()
	})

	return h.exitCode, h.waitErr
}

func (h *localHandle) drain() {
	timer := time.NewTimer(h.gracePeriod)
	defer timer.Stop()

drain:
	for _, pipe := range []*pipeReader{h.stdout, h.stderr} {
		select {
		case <-pipe.eof:
		case <-timer.C:
			h.log.Warn("process output still open after exit, closing it", "gracePeriod", h.gracePeriod)
			if err := killGroup(h.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
				h.log.Warn("failed to kill remaining processes", "error", err)
			}
			break drain
		}
	}

	h.stdout.close()
	h.stderr.close()
}

// Terminate sends SIGTERM to the process group and escalates to SIGKILL once the grace
// period is over.
func (h *localHandle) Terminate() error {
	h.terminateOnce.Do(func() {
		if err := terminateGroup(h.cmd.Process); err != nil {
			if !errors.Is(err, os.ErrProcessDone) {
				h.terminateErr = fmt.Errorf("sending SIGTERM: %w", err)
			}
			return
		}

		go func() {
			timer := time.NewTimer(h.gracePeriod)
			defer timer.Stop()

			select {
			case <-h.exited:
			case <-timer.C:
				_ = killGroup(h.cmd.Process)
			}
		}()
	})

	return h.terminateErr
}
