// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package normalization

import (
	"context"
	"fmt"

	"github.com/mia-platform/normalizer/internal/logger"
	"github.com/mia-platform/normalizer/internal/process"
)

// Create returns the runner normalizing for the destination identified by identifier.
// It performs no I/O: the runner only starts a process when Run is called.
func Create(identifier string, processFactory process.Factory, workspaceRoot string, opts ...Option) (*DefaultRunner, error) {
	parsed, err := ParseIdentifier(identifier)
	if err != nil {
		return nil, err
	}

	mapping, ok := Lookup(parsed.Family)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDestination, parsed.Family)
	}

	runner := &DefaultRunner{
		identifier:      parsed,
		destinationType: mapping.Type,
		image:           imageName(mapping.Tool, DefaultImageTag),
		processFactory:  processFactory,
		workspaceRoot:   workspaceRoot,
		diagnosticLines: DefaultDiagnosticLines,
		log:             logger.FromContext(context.Background()),
		state:           StateCreated,
	}

	for _, opt := range opts {
		opt(runner)
	}

	return runner, nil
}
