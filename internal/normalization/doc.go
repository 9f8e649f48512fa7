// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package normalization resolves destination identifiers to the normalization tool that
// reshapes their raw tables and drives that tool as an external process.
//
// Create parses a "<family>:<version>" identifier, looks the family up in a static dispatch
// table and returns a Runner bound to the matching DestinationType. A Runner is used for a
// single run: Configure prepares its workspace, Run starts the tool and streams every output
// line to a consumer.Consumer, Close releases whatever the runner still holds.
//
// Errors returned by the output consumer are handed back by Run unchanged, while failures of
// the tool itself surface as *ProcessExecutionError.
package normalization
