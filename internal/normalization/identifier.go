// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package normalization

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const identifierDelimiter = ":"

// Identifier is a parsed "<family>:<version>" destination reference.
type Identifier struct {
	Family  string
	Version string
}

// ParseIdentifier splits value on its single ':' delimiter. Both parts must be non empty.
func ParseIdentifier(value string) (Identifier, error) {
	if strings.Count(value, identifierDelimiter) != 1 {
		return Identifier{}, fmt.Errorf("%w %q: expected exactly one %q", ErrMalformedIdentifier, value, identifierDelimiter)
	}

	family, version, _ := strings.Cut(value, identifierDelimiter)
	if family == "" || version == "" {
		return Identifier{}, fmt.Errorf("%w %q: family and version must not be empty", ErrMalformedIdentifier, value)
	}

	return Identifier{Family: family, Version: version}, nil
}

func (i Identifier) String() string {
	return i.Family + identifierDelimiter + i.Version
}

// SemVer parses the version part. The version never affects routing, so callers only use
// this to enrich logs and listings.
func (i Identifier) SemVer() (*semver.Version, error) {
	return semver.NewVersion(i.Version)
}
