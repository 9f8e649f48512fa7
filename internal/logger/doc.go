// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package logger wraps hclog behind a small interface shared by every normalizer package.
// Loggers travel through context.Context so a run, a request or a command can attach its own
// name and fields without threading a logger argument everywhere.
package logger
