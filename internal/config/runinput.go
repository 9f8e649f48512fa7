// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	JobIDField             = "jobId"
	DestinationConfigField = "destinationConfig"
	CatalogField           = "catalog"
)

var (
	// ErrParsing reports failures that occur while decoding run input files.
	ErrParsing = errors.New("error parsing")
)

// RunInput is the content of a run input file. JSON files are accepted as well, being valid YAML.
type RunInput struct {
	JobID             string         `json:"jobId" yaml:"jobId"`
	Attempt           int            `json:"attempt" yaml:"attempt"`
	DestinationConfig map[string]any `json:"destinationConfig" yaml:"destinationConfig"`
	Catalog           map[string]any `json:"catalog" yaml:"catalog"`
}

// NewRunInputFromPath parses the run input file at path.
func NewRunInputFromPath(path string) (*RunInput, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	input, err := NewRunInput(file)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrParsing, path, err)
	}
	return input, nil
}

// NewRunInput decodes a single run input document from reader and checks its required fields.
func NewRunInput(reader io.Reader) (*RunInput, error) {
	decoder := yaml.NewDecoder(reader)
	decoder.KnownFields(true)

	input := new(RunInput)
	if err := decoder.Decode(input); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty run input")
		}
		return nil, err
	}

	missingFields := []string{}
	if input.JobID == "" {
		missingFields = append(missingFields, JobIDField)
	}
	if input.DestinationConfig == nil {
		missingFields = append(missingFields, DestinationConfigField)
	}
	if input.Catalog == nil {
		missingFields = append(missingFields, CatalogField)
	}

	if len(missingFields) > 0 {
		return nil, fmt.Errorf("missing required fields: %s", strings.Join(missingFields, ", "))
	}

	return input, nil
}
