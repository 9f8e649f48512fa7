// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package output implements line consumers that write the output of a normalization run to
// the given io.Writer instance, either as plain text or as newline delimited JSON records.
package output
