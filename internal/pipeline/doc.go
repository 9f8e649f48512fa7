// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package pipeline provides the building blocks to run a normalization job end to end.
// A job goes through runner creation, workspace configuration, the run itself, the archive
// of its output and the publication of its state changes.
package pipeline
