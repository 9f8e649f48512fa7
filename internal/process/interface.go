// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package process

import (
	"context"
	"io"
)

// Factory starts external processes.
type Factory interface {
	// Start launches tool with args inside workingDir. The returned Handle is already running.
	Start(ctx context.Context, tool string, args []string, workingDir string) (Handle, error)
}

// Handle controls a single running process.
type Handle interface {
	// Stdout returns the process standard output stream.
	Stdout() io.Reader
	// Stderr returns the process standard error stream.
	Stderr() io.Reader
	// Wait blocks until the process exits and returns its exit code. A process killed by a
	// signal reports 128 plus the signal number. The error is reserved to failures of the wait
	// itself, a non zero exit code is not an error.
	// Wait also bounds how long the output streams stay open after the exit: once it returns,
	// reads from Stdout and Stderr reach the end of the stream.
	// Wait can be called more than once and always returns the same result.
	Wait() (int, error)
	// Terminate asks the process to stop. It is safe to call after the process has exited.
	Terminate() error
}
