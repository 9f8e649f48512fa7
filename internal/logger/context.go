// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package logger

import (
	"context"
)

// contextKey is the key used for the context to store the logger.
type contextKey struct{}

// WithContext returns a new context with the provided logger.
func WithContext(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// WithFields returns a new context whose logger always emits the given key/value pairs
// together with the ones already attached to the logger found in ctx.
func WithFields(ctx context.Context, args ...any) context.Context {
	return WithContext(ctx, FromContext(ctx).With(args...))
}

// FromContext retrieves the logger stored in ctx. Without one, a logger that discards everything is returned.
func FromContext(ctx context.Context) Logger {
	if ctx == nil {
		return nullLogger
	}

	if logger, ok := ctx.Value(contextKey{}).(Logger); ok {
		return logger
	}
	return nullLogger
}
