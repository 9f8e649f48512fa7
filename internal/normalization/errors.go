// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package normalization

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedIdentifier reports an identifier not in the "<family>:<version>" form.
	ErrMalformedIdentifier = errors.New("malformed destination identifier")
	// ErrUnsupportedDestination reports a well formed identifier whose family has no normalization.
	ErrUnsupportedDestination = errors.New("destination does not support normalization")
	// ErrConfiguration reports invalid run inputs or a workspace that cannot be prepared.
	ErrConfiguration = errors.New("normalization configuration error")
	// ErrProcessExecution is matched by every *ProcessExecutionError.
	ErrProcessExecution = errors.New("normalization process failed")
	// ErrCancelled reports a run stopped because its context was done.
	ErrCancelled = errors.New("normalization cancelled")
	// ErrInvalidState reports an operation not allowed in the current runner state.
	ErrInvalidState = errors.New("invalid runner state")
)

// ProcessExecutionError describes a normalization process that could not start or that
// exited with a non zero status.
type ProcessExecutionError struct {
	// ExitCode is the process exit code, -1 when the process never ran. A process killed by a
	// signal reports 128 plus the signal number.
	ExitCode int
	// Diagnostics holds the last lines written by the process on its error stream.
	Diagnostics []string
	// TraceErrors holds the messages of the error traces emitted by the tool.
	TraceErrors []string
	// Err is the underlying failure, if any.
	Err error
}

func (e *ProcessExecutionError) Error() string {
	builder := new(strings.Builder)
	fmt.Fprintf(builder, "%s with exit code %d", ErrProcessExecution, e.ExitCode)
	if e.Err != nil {
		builder.WriteString(": " + e.Err.Error())
	}
	if len(e.TraceErrors) > 0 {
		builder.WriteString(": " + strings.Join(e.TraceErrors, "; "))
	}

	return builder.String()
}

func (e *ProcessExecutionError) Unwrap() error {
	return e.Err
}

func (e *ProcessExecutionError) Is(target error) bool {
	return target == ErrProcessExecution
}
