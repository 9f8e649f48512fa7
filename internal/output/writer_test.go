// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package output

import (
	"bufio"
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mia-platform/normalizer/internal/normalization"
)

var errBrokenPipe = errors.New("broken pipe")

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) {
	return 0, errBrokenPipe
}

func TestTextWriter(t *testing.T) {
	t.Parallel()

	buffer := new(bytes.Buffer)
	output := NewTextWriter(buffer)

	require.NoError(t, output.Accept(normalization.Line{Number: 1, Text: "first"}))
	require.NoError(t, output.Accept(normalization.Line{Number: 2, Text: `{"type":"LOG"}`}))

	assert.Equal(t, "first\n{\"type\":\"LOG\"}\n", buffer.String())
}

func TestJSONWriter(t *testing.T) {
	t.Parallel()

	buffer := new(bytes.Buffer)
	output := NewJSONWriter(buffer)

	require.NoError(t, output.Accept(normalization.Line{Number: 1, Text: "first"}))
	require.NoError(t, output.Accept(normalization.Line{
		Number:  2,
		Text:    "log",
		Message: &normalization.Message{Type: normalization.MessageTypeLog, Log: &normalization.LogMessage{Level: "INFO", Message: "log"}},
	}))

	expectedOutput := `{"line":{"number":1,"text":"first"}}
{"line":{"number":2,"text":"log","message":{"type":"LOG","log":{"level":"INFO","message":"log"}}}}
`
	assert.Equal(t, expectedOutput, buffer.String())
}

func TestBufferedWriterIsFlushed(t *testing.T) {
	t.Parallel()

	buffer := new(bytes.Buffer)
	output := NewTextWriter(bufio.NewWriter(buffer))

	require.NoError(t, output.Accept(normalization.Line{Number: 1, Text: "first"}))
	assert.Equal(t, "first\n", buffer.String())
}

func TestWriteFailure(t *testing.T) {
	t.Parallel()

	testCases := map[string]func() error{
		"text writer": func() error {
			return NewTextWriter(brokenWriter{}).Accept(normalization.Line{Number: 1, Text: "a"})
		},
		"json writer": func() error {
			return NewJSONWriter(brokenWriter{}).Accept(normalization.Line{Number: 1, Text: "a"})
		},
		"buffered writer": func() error {
			return NewTextWriter(bufio.NewWriter(brokenWriter{})).Accept(normalization.Line{Number: 1, Text: "a"})
		},
	}

	for name, accept := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, accept(), errBrokenPipe)
		})
	}
}
