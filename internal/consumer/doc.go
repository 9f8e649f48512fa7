// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package consumer defines the contract used to push a lazily produced sequence, one item at a
// time, into logic that is allowed to fail.
// Producers must stop at the first failing Accept and hand the returned error back to their own
// caller untouched, so callers can always tell their own failures apart from producer failures.
package consumer
