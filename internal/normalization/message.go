// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package normalization

import (
	"encoding/json"
	"strings"
)

// MessageType is the type of a structured message printed by the normalization tool.
type MessageType string

const (
	MessageTypeLog   MessageType = "LOG"
	MessageTypeTrace MessageType = "TRACE"

	traceTypeError = "ERROR"
)

// Line is a single line printed by the normalization tool on its standard output.
type Line struct {
	// Number is the 1-based position of the line in the output.
	Number int `json:"number"`
	// Text is the raw line without its trailing newline.
	Text string `json:"text"`
	// Message is set when Text is a structured LOG or TRACE message.
	Message *Message `json:"message,omitempty"`
}

// Message is the subset of the protocol messages the normalization tool can emit.
type Message struct {
	Type  MessageType   `json:"type"`
	Log   *LogMessage   `json:"log,omitempty"`
	Trace *TraceMessage `json:"trace,omitempty"`
}

type LogMessage struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type TraceMessage struct {
	Type      string      `json:"type"`
	EmittedAt float64     `json:"emitted_at"`
	Error     *TraceError `json:"error,omitempty"`
}

type TraceError struct {
	Message         string `json:"message"`
	InternalMessage string `json:"internal_message,omitempty"`
	StackTrace      string `json:"stack_trace,omitempty"`
	FailureType     string `json:"failure_type,omitempty"`
}

// parseMessage returns the structured message encoded in text, or nil for plain lines.
func parseMessage(text string) *Message {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}

	message := new(Message)
	if err := json.Unmarshal([]byte(trimmed), message); err != nil {
		return nil
	}

	switch {
	case message.Type == MessageTypeLog && message.Log != nil:
		return message
	case message.Type == MessageTypeTrace && message.Trace != nil:
		return message
	default:
		return nil
	}
}

// errorMessage returns the message of an error trace, or "" for any other message.
func (m *Message) errorMessage() string {
	if m == nil || m.Type != MessageTypeTrace || m.Trace.Type != traceTypeError || m.Trace.Error == nil {
		return ""
	}

	return m.Trace.Error.Message
}
