// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package output

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/mia-platform/normalizer/internal/consumer"
	"github.com/mia-platform/normalizer/internal/normalization"
)

var _ consumer.Consumer[normalization.Line] = &writerOutput{}

// flusher is implemented by buffered writers such as *bufio.Writer.
type flusher interface {
	Flush() error
}

// LineRecord is the JSON representation of an output line.
type LineRecord struct {
	Line normalization.Line `json:"line"`
}

type writerOutput struct {
	writer io.Writer
	encode func(normalization.Line) error

	lock sync.Mutex
}

// NewTextWriter returns a consumer writing the raw text of every line to w.
func NewTextWriter(w io.Writer) consumer.Consumer[normalization.Line] {
	output := &writerOutput{writer: w}
	output.encode = func(line normalization.Line) error {
		_, err := io.WriteString(w, line.Text+"\n")
		return err
	}
	return output
}

// NewJSONWriter returns a consumer writing every line to w as a newline delimited LineRecord.
func NewJSONWriter(w io.Writer) consumer.Consumer[normalization.Line] {
	encoder := json.NewEncoder(w)
	output := &writerOutput{writer: w}
	output.encode = func(line normalization.Line) error {
		return encoder.Encode(LineRecord{Line: line})
	}
	return output
}

// Accept writes line and flushes the writer when it is buffered. A write failure is returned
// so that the run producing the lines is stopped.
func (o *writerOutput) Accept(line normalization.Line) error {
	o.lock.Lock()
	defer o.lock.Unlock()

	if err := o.encode(line); err != nil {
		return err
	}

	if f, ok := o.writer.(flusher); ok {
		return f.Flush()
	}
	return nil
}
