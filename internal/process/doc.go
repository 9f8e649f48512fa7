// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package process defines how normalizer starts the external tools it drives.
// A Factory starts a tool and returns a Handle exposing its output streams, its exit status
// and a way to terminate it. The package ships a factory running local executables and one
// wrapping every tool in a docker container.
package process
