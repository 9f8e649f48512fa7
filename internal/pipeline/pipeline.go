// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/mia-platform/normalizer/internal/archive"
	"github.com/mia-platform/normalizer/internal/consumer"
	"github.com/mia-platform/normalizer/internal/logger"
	"github.com/mia-platform/normalizer/internal/normalization"
	"github.com/mia-platform/normalizer/internal/notify"
	"github.com/mia-platform/normalizer/internal/process"
)

const (
	loggerName = "normalizer:pipeline"

	defaultReportTimeout = 30 * time.Second
)

// Status is the outcome of a finished job.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job is a normalization request for a single destination.
type Job struct {
	Destination string
	Input       normalization.Input
}

// Result summarizes a finished job.
type Result struct {
	Status   Status
	ExitCode int
	Lines    int
	// ArchivedLog is the name of the stored run log, empty when archiving is disabled or failed.
	ArchivedLog string
	Err         error
}

// Pipeline drives normalization jobs from runner creation to the release of their workspace,
// reporting every state change to the notifier and storing run logs with the archiver.
type Pipeline struct {
	processFactory process.Factory
	workspaceRoot  string
	notifier       notify.Notifier
	archiver       archive.Archiver
	archiving      bool
	maxLogBytes    int
	runTimeout     time.Duration
	reportTimeout  time.Duration
	runnerOptions  []normalization.Option
	disabled       map[string]struct{}
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithNotifier sets where run events are published.
func WithNotifier(notifier notify.Notifier) Option {
	return func(p *Pipeline) {
		if notifier != nil {
			p.notifier = notifier
		}
	}
}

// WithArchiver sets where run logs are stored. Run output is only recorded when archiver
// actually stores it.
func WithArchiver(archiver archive.Archiver) Option {
	return func(p *Pipeline) {
		if archiver == nil {
			return
		}
		p.archiver = archiver
		_, noop := archiver.(archive.NoOpArchiver)
		p.archiving = !noop
	}
}

// WithMaxLogBytes bounds the size of every archived run log, the oldest lines are dropped first.
func WithMaxLogBytes(maxLogBytes int) Option {
	return func(p *Pipeline) {
		if maxLogBytes > 0 {
			p.maxLogBytes = maxLogBytes
		}
	}
}

// WithNormalizationDisabled turns normalization off for the destination families listed.
// Their jobs are still validated and reported, but no process is started.
func WithNormalizationDisabled(families ...string) Option {
	return func(p *Pipeline) {
		for _, family := range families {
			if family != "" {
				p.disabled[family] = struct{}{}
			}
		}
	}
}

// WithRunTimeout bounds the duration of every run, zero means no limit.
func WithRunTimeout(timeout time.Duration) Option {
	return func(p *Pipeline) {
		p.runTimeout = timeout
	}
}

// WithRunnerOptions sets the options used to create every runner.
func WithRunnerOptions(opts ...normalization.Option) Option {
	return func(p *Pipeline) {
		p.runnerOptions = append(p.runnerOptions, opts...)
	}
}

func New(processFactory process.Factory, workspaceRoot string, opts ...Option) *Pipeline {
	p := &Pipeline{
		processFactory: processFactory,
		workspaceRoot:  workspaceRoot,
		notifier:       notify.NoOpNotifier{},
		archiver:       archive.NoOpArchiver{},
		maxLogBytes:    archive.DefaultMaxLogBytes,
		reportTimeout:  defaultReportTimeout,
		disabled:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Execution is a prepared job waiting to be run.
type Execution struct {
	pipeline *Pipeline
	job      Job
	runner   normalization.Runner
	disabled bool
}

// Prepare creates and configures the runner for job. The returned errors match
// normalization.ErrMalformedIdentifier, normalization.ErrUnsupportedDestination or
// normalization.ErrConfiguration and no process has been started.
func (p *Pipeline) Prepare(ctx context.Context, job Job) (*Execution, error) {
	ctx = runContext(ctx, job)
	log := logger.FromContext(ctx).WithName(loggerName)
	defaultRunner, err := normalization.Create(job.Destination, p.processFactory, p.workspaceRoot, p.runnerOptions...)
	if err != nil {
		return nil, err
	}

	destinationVersion := "unversioned"
	if version, err := defaultRunner.Identifier().SemVer(); err == nil {
		destinationVersion = version.String()
	}

	if _, disabled := p.disabled[defaultRunner.Identifier().Family]; disabled {
		runner := normalization.NewNoOpRunner(defaultRunner.DestinationType())
		if err := runner.Configure(ctx, job.Input); err != nil {
			return nil, err
		}

		log.Debug("normalization disabled for destination", "destinationVersion", destinationVersion)
		return &Execution{pipeline: p, job: job, runner: runner, disabled: true}, nil
	}

	if err := defaultRunner.Configure(ctx, job.Input); err != nil {
		_ = defaultRunner.Close()
		return nil, err
	}

	log.Debug("normalization prepared",
		"destinationVersion", destinationVersion,
		"image", defaultRunner.Image(),
		"workspace", defaultRunner.WorkspacePath(),
	)

	return &Execution{pipeline: p, job: job, runner: defaultRunner}, nil
}

// Execute prepares and runs job, streaming its output lines to output.
func (p *Pipeline) Execute(ctx context.Context, job Job, output consumer.Consumer[normalization.Line]) (Result, error) {
	execution, err := p.Prepare(ctx, job)
	if err != nil {
		return Result{Status: StatusFailed, ExitCode: -1, Err: err}, err
	}
	defer execution.Close()

	result := execution.Run(ctx, output)
	return result, result.Err
}

// DestinationType returns the back-end the execution normalizes for.
func (e *Execution) DestinationType() normalization.DestinationType {
	return e.runner.DestinationType()
}

// Run runs the normalization and reports its outcome. The run log is archived even when
// the run fails or ctx is cancelled.
func (e *Execution) Run(ctx context.Context, output consumer.Consumer[normalization.Line]) Result {
	ctx = runContext(ctx, e.job)
	log := logger.FromContext(ctx).WithName(loggerName)

	startedCtx, cancelStarted := context.WithTimeout(ctx, e.pipeline.reportTimeout)
	e.report(startedCtx, log, e.event(notify.EventStarted, nil))
	cancelStarted()

	runCtx := ctx
	if e.pipeline.runTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.pipeline.runTimeout)
		defer cancel()
	}

	lines := 0
	consumers := []consumer.Consumer[normalization.Line]{
		consumer.Func[normalization.Line](func(normalization.Line) error {
			lines++
			return nil
		}),
	}

	var recorder *archive.Recorder
	if e.pipeline.archiving && !e.disabled {
		recorder = archive.NewRecorder(e.pipeline.maxLogBytes)
		consumers = append(consumers, recorder)
	}
	consumers = append(consumers, output)

	err := e.runner.Run(runCtx, consumer.Chain[normalization.Line](consumers...))
	result := Result{Status: StatusSucceeded, Lines: lines, Err: err}
	if err != nil {
		result.Status = StatusFailed
		result.ExitCode = exitCode(err)
	}

	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.pipeline.reportTimeout)
	defer cancel()

	if recorder != nil {
		if blobName, archiveErr := e.pipeline.archiver.Archive(reportCtx, e.job.Input.JobID, e.job.Input.Attempt, recorder.Bytes()); archiveErr != nil {
			log.Warn("failed to archive run log", "error", archiveErr)
		} else {
			result.ArchivedLog = blobName
		}
	}

	if err != nil {
		e.report(reportCtx, log, e.event(notify.EventFailed, &result))
	} else {
		e.report(reportCtx, log, e.event(notify.EventSucceeded, &result))
	}

	return result
}

// Close releases the runner and its workspace.
func (e *Execution) Close() error {
	return e.runner.Close()
}

func (e *Execution) event(eventType notify.EventType, result *Result) notify.Event {
	event := notify.Event{
		Type:            eventType,
		Destination:     e.job.Destination,
		DestinationType: e.runner.DestinationType().String(),
		JobID:           e.job.Input.JobID,
		Attempt:         e.job.Input.Attempt,
	}

	if result != nil {
		exitCode := result.ExitCode
		event.ExitCode = &exitCode
		if result.Err != nil {
			event.Error = result.Err.Error()
		}
	}
	return event
}

// report publishes event, a delivery failure never changes the outcome of the job.
func (e *Execution) report(ctx context.Context, log logger.Logger, event notify.Event) {
	if err := e.pipeline.notifier.Notify(ctx, event); err != nil {
		log.Warn("failed to publish run event", "type", event.Type, "error", err)
	}
}

// runContext attaches the job coordinates to the logger carried by ctx.
func runContext(ctx context.Context, job Job) context.Context {
	return logger.WithFields(ctx,
		"destination", job.Destination,
		"jobId", job.Input.JobID,
		"attempt", job.Input.Attempt,
	)
}

// exitCode extracts the process exit code from a run error, -1 when no process exit is known.
func exitCode(err error) int {
	var execErr *normalization.ProcessExecutionError
	if errors.As(err, &execErr) {
		return execErr.ExitCode
	}
	return -1
}
