// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

// Package archive stores the output of normalization runs in Azure Blob Storage.
package archive
