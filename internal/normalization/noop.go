// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package normalization

import (
	"context"

	"github.com/mia-platform/normalizer/internal/consumer"
	"github.com/mia-platform/normalizer/internal/logger"
)

var _ Runner = &NoOpRunner{}

// NoOpRunner is the runner used when normalization is disabled for a destination.
// It validates its input like DefaultRunner, but never starts a process and every run
// succeeds without output.
type NoOpRunner struct {
	destinationType DestinationType
}

// NewNoOpRunner returns a NoOpRunner reporting destinationType.
func NewNoOpRunner(destinationType DestinationType) *NoOpRunner {
	return &NoOpRunner{destinationType: destinationType}
}

func (r *NoOpRunner) sealed() {}

func (r *NoOpRunner) DestinationType() DestinationType {
	return r.destinationType
}

func (r *NoOpRunner) Configure(_ context.Context, input Input) error {
	return validateInput(input)
}

func (r *NoOpRunner) Run(ctx context.Context, _ consumer.Consumer[Line]) error {
	logger.FromContext(ctx).WithName(loggerName).Debug("normalization disabled, nothing to run")
	return nil
}

func (r *NoOpRunner) Close() error {
	return nil
}
