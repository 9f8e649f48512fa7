// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package notify publishes normalization run events on Google Cloud Pub/Sub or Azure Event Hubs
// so that other systems can follow the progress of a job without polling.
package notify
