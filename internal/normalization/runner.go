// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package normalization

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mia-platform/normalizer/internal/consumer"
	"github.com/mia-platform/normalizer/internal/logger"
	"github.com/mia-platform/normalizer/internal/process"
)

const (
	loggerName = "normalizer:normalization"

	destinationConfigFile  = "destination_config.json"
	destinationCatalogFile = "destination_catalog.json"
	normalizeDir           = "normalize"

	// DefaultImageTag is the normalization image version used when none is configured.
	DefaultImageTag = "0.1.61"
	// DefaultDiagnosticLines is how many error stream lines are kept for a failed run.
	DefaultDiagnosticLines = 50

	maxLineSize = 1024 * 1024
)

// State is the lifecycle position of a runner.
//
//go:generate ${TOOLS_BIN}/stringer -type=State -trimprefix State
type State int

const (
	StateCreated State = iota
	StateConfigured
	StateRunning
	StateSucceeded
	StateFailed
)

// Input carries everything the normalization tool needs for one run.
type Input struct {
	JobID             string
	Attempt           int
	DestinationConfig map[string]any
	Catalog           map[string]any
}

// Runner executes one normalization pass. Implementations belong to this package only.
type Runner interface {
	// DestinationType returns the back-end this runner normalizes for.
	DestinationType() DestinationType
	// Configure prepares the workspace for the run.
	Configure(ctx context.Context, input Input) error
	// Run starts the normalization and hands every output line to output, in order.
	Run(ctx context.Context, output consumer.Consumer[Line]) error
	// Close releases the workspace and any process still running. It can be called many times.
	Close() error

	sealed()
}

var _ Runner = &DefaultRunner{}

// DefaultRunner runs a normalization image through a process.Factory.
type DefaultRunner struct {
	identifier      Identifier
	destinationType DestinationType
	image           string
	processFactory  process.Factory
	workspaceRoot   string
	diagnosticLines int
	keepWorkspace   bool

	log logger.Logger

	runLock     sync.Mutex
	lock        sync.Mutex
	state       State
	jobRoot     string
	handle      process.Handle
	closed      bool
	releaseOnce sync.Once
}

// Option customizes a DefaultRunner built by Create.
type Option func(*DefaultRunner)

// WithImageTag sets the tag of the normalization image.
func WithImageTag(tag string) Option {
	return func(r *DefaultRunner) {
		if tag != "" {
			r.image = imageName(r.image, tag)
		}
	}
}

// WithDiagnosticLines sets how many error stream lines a failed run reports.
func WithDiagnosticLines(lines int) Option {
	return func(r *DefaultRunner) {
		if lines > 0 {
			r.diagnosticLines = lines
		}
	}
}

// WithKeepWorkspace leaves the job workspace on disk when the runner is closed.
func WithKeepWorkspace(keep bool) Option {
	return func(r *DefaultRunner) {
		r.keepWorkspace = keep
	}
}

func imageName(image, tag string) string {
	if repository, _, found := strings.Cut(image, ":"); found {
		image = repository
	}
	return image + ":" + tag
}

func (r *DefaultRunner) sealed() {}

// DestinationType implements Runner.
func (r *DefaultRunner) DestinationType() DestinationType {
	return r.destinationType
}

// Identifier returns the destination identifier the runner was created for.
func (r *DefaultRunner) Identifier() Identifier {
	return r.identifier
}

// Image returns the normalization image the runner starts.
func (r *DefaultRunner) Image() string {
	return r.image
}

// State returns the current lifecycle state.
func (r *DefaultRunner) State() State {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.state
}

// WorkspacePath returns the job workspace once Configure has created it.
func (r *DefaultRunner) WorkspacePath() string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.jobRoot
}

// Configure validates input and writes the tool configuration files in the job workspace
// <workspaceRoot>/<jobID>/<attempt>/normalize.
func (r *DefaultRunner) Configure(ctx context.Context, input Input) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.log = logger.FromContext(ctx).WithName(loggerName).With(
		"destination", r.identifier.String(),
		"jobId", input.JobID,
		"attempt", input.Attempt,
	)

	if r.closed || r.state != StateCreated {
		return fmt.Errorf("%w: cannot configure a runner in state %s", ErrInvalidState, r.state)
	}

	if err := validateInput(input); err != nil {
		return err
	}

	jobRoot := filepath.Join(r.workspaceRoot, input.JobID, strconv.Itoa(input.Attempt), normalizeDir)
	if err := os.MkdirAll(jobRoot, 0o755); err != nil {
		return fmt.Errorf("%w: creating workspace: %w", ErrConfiguration, err)
	}
	r.jobRoot = jobRoot

	if err := writeJSONFile(filepath.Join(jobRoot, destinationConfigFile), input.DestinationConfig); err != nil {
		return err
	}
	if err := writeJSONFile(filepath.Join(jobRoot, destinationCatalogFile), input.Catalog); err != nil {
		return err
	}

	r.log.Debug("normalization workspace configured", "workspace", jobRoot)
	r.state = StateConfigured
	return nil
}

func validateInput(input Input) error {
	problems := make([]string, 0)
	switch {
	case input.JobID == "":
		problems = append(problems, "missing job id")
	case input.JobID == "." || input.JobID == ".." || strings.ContainsAny(input.JobID, `/\`):
		problems = append(problems, fmt.Sprintf("job id %q is not a valid path element", input.JobID))
	}
	if input.Attempt < 0 {
		problems = append(problems, "attempt must not be negative")
	}
	if input.DestinationConfig == nil {
		problems = append(problems, "missing destination config")
	}
	if input.Catalog == nil {
		problems = append(problems, "missing catalog")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, ", "))
	}
	return nil
}

func writeJSONFile(path string, content map[string]any) error {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %w", ErrConfiguration, filepath.Base(path), err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("%w: writing %s: %w", ErrConfiguration, filepath.Base(path), err)
	}
	return nil
}

// Run starts the normalization tool and delivers its output lines to output in emission order.
// An error returned by output stops the run, terminates the tool and is returned unchanged.
// A tool exiting with a non zero status yields a *ProcessExecutionError, a done ctx yields an
// error matching ErrCancelled.
func (r *DefaultRunner) Run(ctx context.Context, output consumer.Consumer[Line]) error {
	if !r.runLock.TryLock() {
		return fmt.Errorf("%w: run already in progress", ErrInvalidState)
	}
	defer r.runLock.Unlock()

	r.lock.Lock()
	if r.closed || r.state != StateConfigured {
		state := r.state
		r.lock.Unlock()
		return fmt.Errorf("%w: cannot run a runner in state %s", ErrInvalidState, state)
	}
	jobRoot := r.jobRoot
	log := r.log
	r.lock.Unlock()

	if output == nil {
		output = consumer.Discard[Line]()
	}

	if ctx.Err() != nil {
		r.finish(StateFailed)
		return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	}

	log.Info("starting normalization", "image", r.image, "destinationType", r.destinationType)
	handle, err := r.processFactory.Start(ctx, r.image, r.args(), jobRoot)
	if err != nil {
		r.finish(StateFailed)
		log.Error("normalization process failed to start", "error", err)
		return &ProcessExecutionError{ExitCode: -1, Err: err}
	}

	r.lock.Lock()
	r.handle = handle
	r.state = StateRunning
	r.lock.Unlock()

	err = r.stream(ctx, log, handle, output)
	if err != nil {
		r.finish(StateFailed)
		log.Error("normalization failed", "error", err)
		return err
	}

	r.finish(StateSucceeded)
	log.Info("normalization succeeded")
	return nil
}

func (r *DefaultRunner) args() []string {
	return []string{
		"run",
		"--integration-type", r.destinationType.IntegrationType(),
		"--config", destinationConfigFile,
		"--catalog", destinationCatalogFile,
	}
}

// stream pumps the process output into output and collects the run result. The process is
// waited for while its output is read, so that output held open by its children cannot
// outlive it.
func (r *DefaultRunner) stream(ctx context.Context, log logger.Logger, handle process.Handle, output consumer.Consumer[Line]) error {
	lines := make(chan string)
	stop := make(chan struct{})
	diagnostics := newTail(r.diagnosticLines)

	exited := make(chan struct{})
	var exitCode int
	var waitErr error
	go func() {
		defer close(exited)
		exitCode, waitErr = handle.Wait()
	}()

	readers := new(errgroup.Group)
	readers.Go(func() error {
		defer close(lines)
		err := scanLines(handle.Stdout(), func(text string) {
			select {
			case lines <- text:
			case <-stop:
			}
		})
		if err != nil {
			// the remaining output cannot be delivered in order
			r.terminate(log, handle)
			_, _ = io.Copy(io.Discard, handle.Stdout())
		}
		return err
	})
	readers.Go(func() error {
		err := scanLines(handle.Stderr(), func(text string) {
			diagnostics.add(text)
			log.Debug("normalization stderr", "line", text)
		})
		if err != nil {
			diagnostics.add(fmt.Sprintf("error stream not readable: %s", err))
			_, _ = io.Copy(io.Discard, handle.Stderr())
		}
		return nil
	})

	stopOnCancel := context.AfterFunc(ctx, func() {
		r.terminate(log, handle)
	})
	defer stopOnCancel()

	var consumerErr error
	traceErrors := make([]string, 0)
	number := 0
	aborted := false

consume:
	for {
		select {
		case <-ctx.Done():
			aborted = true
			break consume
		case text, ok := <-lines:
			if !ok {
				break consume
			}

			number++
			line := Line{Number: number, Text: text, Message: parseMessage(text)}
			if message := line.Message.errorMessage(); message != "" {
				traceErrors = append(traceErrors, message)
			}
			logMessage(log, line.Message)

			if err := output.Accept(line); err != nil {
				consumerErr = err
				aborted = true
				break consume
			}
		}
	}
	close(stop)

	if aborted {
		r.terminate(log, handle)
	}
	<-exited
	readErr := readers.Wait()

	switch {
	case consumerErr != nil:
		return consumerErr
	case aborted:
		return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	case readErr != nil:
		return &ProcessExecutionError{
			ExitCode:    exitCode,
			Diagnostics: diagnostics.lines(),
			TraceErrors: traceErrors,
			Err:         fmt.Errorf("reading process output: %w", readErr),
		}
	case waitErr == nil && exitCode == 0:
		return nil
	case ctx.Err() != nil:
		// the process was killed on cancellation after its output was drained
		return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	default:
		return &ProcessExecutionError{
			ExitCode:    exitCode,
			Diagnostics: diagnostics.lines(),
			TraceErrors: traceErrors,
			Err:         waitErr,
		}
	}
}

func scanLines(reader io.Reader, handle func(string)) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		handle(scanner.Text())
	}

	return scanner.Err()
}

func logMessage(log logger.Logger, message *Message) {
	if message == nil {
		return
	}

	switch message.Type {
	case MessageTypeLog:
		log.Debug("normalization log", "level", message.Log.Level, "message", message.Log.Message)
	case MessageTypeTrace:
		if errMessage := message.errorMessage(); errMessage != "" {
			log.Error("normalization error trace", "message", errMessage, "failureType", message.Trace.Error.FailureType)
		}
	}
}

// terminate stops handle, a failure is only logged so it never hides the error being returned.
func (r *DefaultRunner) terminate(log logger.Logger, handle process.Handle) {
	if err := handle.Terminate(); err != nil {
		log.Warn("failed to terminate normalization process", "error", err)
	}
}

// finish moves the runner into a terminal state and releases the workspace if Close was
// called while the run was in progress.
func (r *DefaultRunner) finish(state State) {
	r.lock.Lock()
	r.state = state
	r.handle = nil
	closed := r.closed
	r.lock.Unlock()

	if closed {
		r.release()
	}
}

// Close implements Runner. A running process is terminated and the workspace is removed as
// soon as Run returns.
func (r *DefaultRunner) Close() error {
	r.lock.Lock()
	if r.closed {
		r.lock.Unlock()
		return nil
	}
	r.closed = true
	handle := r.handle
	running := r.state == StateRunning
	log := r.log
	r.lock.Unlock()

	if running && handle != nil {
		r.terminate(log, handle)
		return nil
	}

	return r.release()
}

func (r *DefaultRunner) release() error {
	var err error
	r.releaseOnce.Do(func() {
		r.lock.Lock()
		jobRoot := r.jobRoot
		log := r.log
		r.lock.Unlock()

		if jobRoot == "" || r.keepWorkspace {
			return
		}

		if err = os.RemoveAll(jobRoot); err != nil {
			log.Warn("failed to remove normalization workspace", "workspace", jobRoot, "error", err)
			return
		}
		log.Debug("normalization workspace removed", "workspace", jobRoot)
	})

	return err
}

// tail keeps the most recent lines added to it.
type tail struct {
	lock    sync.Mutex
	size    int
	entries []string
}

func newTail(size int) *tail {
	if size <= 0 {
		size = DefaultDiagnosticLines
	}
	return &tail{size: size}
}

func (t *tail) add(line string) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.entries = append(t.entries, line)
	if len(t.entries) > t.size {
		t.entries = t.entries[len(t.entries)-t.size:]
	}
}

func (t *tail) lines() []string {
	t.lock.Lock()
	defer t.lock.Unlock()
	return append([]string(nil), t.entries...)
}
