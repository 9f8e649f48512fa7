// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package normalization

import "strings"

// DestinationType identifies one normalization back-end integration.
//
//go:generate ${TOOLS_BIN}/stringer -type=DestinationType -trimprefix Destination
type DestinationType int

const (
	DestinationUnknown DestinationType = iota
	DestinationBigQuery
	DestinationClickHouse
	DestinationMSSQL
	DestinationMySQL
	DestinationOracle
	DestinationPostgres
	DestinationRedshift
	DestinationSnowflake
)

// IntegrationType returns the value the normalization tool expects for --integration-type.
func (t DestinationType) IntegrationType() string {
	return strings.ToLower(t.String())
}

// MarshalText encodes the type with its display name.
func (t DestinationType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}
