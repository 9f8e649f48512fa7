// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package fake

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mia-platform/normalizer/internal/process"
)

// TerminatedExitCode is the exit code reported by a Handle stopped through Terminate.
const TerminatedExitCode = 143

// Script describes how every process started by a Factory behaves.
type Script struct {
	Stdout   []string
	Stderr   []string
	ExitCode int

	// StartErr makes Start fail without creating a Handle.
	StartErr error
	// HoldOpen keeps the process alive after its output has been written until Terminate is called.
	HoldOpen bool
	// TerminateErr is returned by every Terminate call.
	TerminateErr error
}

// Start records the arguments of a Factory.Start call.
type Start struct {
	Tool       string
	Args       []string
	WorkingDir string
}

var _ process.Factory = &Factory{}

// Factory is a process.Factory returning scripted processes.
type Factory struct {
	tb     testing.TB
	script Script

	lock    sync.Mutex
	starts  []Start
	handles []*Handle
}

// NewFactory returns a Factory whose processes follow script.
func NewFactory(tb testing.TB, script Script) *Factory {
	tb.Helper()
	return &Factory{tb: tb, script: script}
}

// Start implements process.Factory.
func (f *Factory) Start(_ context.Context, tool string, args []string, workingDir string) (process.Handle, error) {
	f.tb.Helper()

	f.lock.Lock()
	defer f.lock.Unlock()

	f.starts = append(f.starts, Start{Tool: tool, Args: args, WorkingDir: workingDir})
	if f.script.StartErr != nil {
		return nil, f.script.StartErr
	}

	handle := newHandle(f.script)
	f.handles = append(f.handles, handle)
	return handle, nil
}

// Starts returns every recorded Start call.
func (f *Factory) Starts() []Start {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]Start(nil), f.starts...)
}

// LastHandle returns the most recently started Handle or nil.
func (f *Factory) LastHandle() *Handle {
	f.lock.Lock()
	defer f.lock.Unlock()
	if len(f.handles) == 0 {
		return nil
	}
	return f.handles[len(f.handles)-1]
}

var _ process.Handle = &Handle{}

// Handle is a scripted process.Handle.
type Handle struct {
	script Script

	stdoutReader *io.PipeReader
	stdoutWriter *io.PipeWriter
	stderrReader *io.PipeReader
	stderrWriter *io.PipeWriter

	terminateOnce  sync.Once
	terminated     chan struct{}
	terminateCalls atomic.Int32
	exited         chan struct{}
	exitCode       int
}

func newHandle(script Script) *Handle {
	stdoutReader, stdoutWriter := io.Pipe()
	stderrReader, stderrWriter := io.Pipe()
	h := &Handle{
		script:       script,
		stdoutReader: stdoutReader,
		stdoutWriter: stdoutWriter,
		stderrReader: stderrReader,
		stderrWriter: stderrWriter,
		terminated:   make(chan struct{}),
		exited:       make(chan struct{}),
	}

	go h.run()
	return h
}

func (h *Handle) run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		writeLines(h.stdoutWriter, h.script.Stdout)
	}()
	go func() {
		defer wg.Done()
		writeLines(h.stderrWriter, h.script.Stderr)
	}()
	wg.Wait()

	if h.script.HoldOpen {
		<-h.terminated
	}

	h.stdoutWriter.Close()
	h.stderrWriter.Close()

	h.exitCode = h.script.ExitCode
	select {
	case <-h.terminated:
		h.exitCode = TerminatedExitCode
	default:
	}
	close(h.exited)
}

func writeLines(w io.Writer, lines []string) {
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return
		}
	}
}

func (h *Handle) Stdout() io.Reader {
	return h.stdoutReader
}

func (h *Handle) Stderr() io.Reader {
	return h.stderrReader
}

func (h *Handle) Wait() (int, error) {
	<-h.exited
	return h.exitCode, nil
}

func (h *Handle) Terminate() error {
	h.terminateCalls.Add(1)
	h.terminateOnce.Do(func() {
		close(h.terminated)
		h.stdoutWriter.CloseWithError(io.EOF)
		h.stderrWriter.CloseWithError(io.EOF)
	})
	return h.script.TerminateErr
}

// TerminateCalls reports how many times Terminate has been called.
func (h *Handle) TerminateCalls() int {
	return int(h.terminateCalls.Load())
}

// Terminated reports whether Terminate has been called at least once.
func (h *Handle) Terminated() bool {
	select {
	case <-h.terminated:
		return true
	default:
		return false
	}
}
