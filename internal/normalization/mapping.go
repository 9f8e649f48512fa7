// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package normalization

import (
	"maps"
	"slices"
)

const (
	normalizationImage           = "airbyte/normalization"
	normalizationClickHouseImage = "airbyte/normalization-clickhouse"
	normalizationMSSQLImage      = "airbyte/normalization-mssql"
	normalizationMySQLImage      = "airbyte/normalization-mysql"
	normalizationOracleImage     = "airbyte/normalization-oracle"
	normalizationSnowflakeImage  = "airbyte/normalization-snowflake"
)

// Mapping binds a destination family to its normalization tool.
type Mapping struct {
	Family string          `json:"family"`
	Tool   string          `json:"tool"`
	Type   DestinationType `json:"destinationType"`
}

// normalizationMapping is the dispatch table. It is never written after package init.
var normalizationMapping = map[string]Mapping{}

func init() {
	for _, mapping := range []Mapping{
		{Family: "airbyte/destination-bigquery", Tool: normalizationImage, Type: DestinationBigQuery},
		{Family: "airbyte/destination-bigquery-denormalized", Tool: normalizationImage, Type: DestinationBigQuery},
		{Family: "airbyte/destination-clickhouse", Tool: normalizationClickHouseImage, Type: DestinationClickHouse},
		{Family: "airbyte/destination-clickhouse-strict-encrypt", Tool: normalizationClickHouseImage, Type: DestinationClickHouse},
		{Family: "airbyte/destination-mssql", Tool: normalizationMSSQLImage, Type: DestinationMSSQL},
		{Family: "airbyte/destination-mssql-strict-encrypt", Tool: normalizationMSSQLImage, Type: DestinationMSSQL},
		{Family: "airbyte/destination-mysql", Tool: normalizationMySQLImage, Type: DestinationMySQL},
		{Family: "airbyte/destination-mysql-strict-encrypt", Tool: normalizationMySQLImage, Type: DestinationMySQL},
		{Family: "airbyte/destination-oracle", Tool: normalizationOracleImage, Type: DestinationOracle},
		{Family: "airbyte/destination-oracle-strict-encrypt", Tool: normalizationOracleImage, Type: DestinationOracle},
		{Family: "airbyte/destination-postgres", Tool: normalizationImage, Type: DestinationPostgres},
		{Family: "airbyte/destination-postgres-strict-encrypt", Tool: normalizationImage, Type: DestinationPostgres},
		{Family: "airbyte/destination-redshift", Tool: normalizationImage, Type: DestinationRedshift},
		{Family: "airbyte/destination-snowflake", Tool: normalizationSnowflakeImage, Type: DestinationSnowflake},
	} {
		normalizationMapping[mapping.Family] = mapping
	}
}

// Lookup returns the mapping registered for family. Only exact matches are found.
func Lookup(family string) (Mapping, bool) {
	mapping, ok := normalizationMapping[family]
	return mapping, ok
}

// Mappings returns a copy of the dispatch table sorted by family.
func Mappings() []Mapping {
	mappings := make([]Mapping, 0, len(normalizationMapping))
	for _, family := range slices.Sorted(maps.Keys(normalizationMapping)) {
		mappings = append(mappings, normalizationMapping[family])
	}

	return mappings
}
