// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package server contains the HTTP interface of the normalizer.
// It sets up the HTTP server using the Fiber framework, configures middleware for logging,
// defines routes for health checks and service status, and exposes the normalization runs
// as streaming endpoints.
package server
