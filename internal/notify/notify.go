// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"google.golang.org/api/option"

	"github.com/mia-platform/normalizer/internal/logger"
)

const (
	loggerName = "normalizer:notify"

	eventTypeAttribute   = "eventType"
	destinationAttribute = "destination"
)

var (
	// ErrNotify wraps every failure to deliver a run event.
	ErrNotify = errors.New("run event not delivered")
)

// EventType is the run state change described by an Event.
type EventType string

const (
	EventStarted   EventType = "started"
	EventSucceeded EventType = "succeeded"
	EventFailed    EventType = "failed"
)

// Event describes a state change of a normalization run.
type Event struct {
	Type            EventType `json:"type"`
	Destination     string    `json:"destination"`
	DestinationType string    `json:"destinationType"`
	JobID           string    `json:"jobId"`
	Attempt         int       `json:"attempt"`
	ExitCode        *int      `json:"exitCode,omitempty"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Notifier delivers run events.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
	Close() error
}

var _ Notifier = NoOpNotifier{}

// NoOpNotifier drops every event.
type NoOpNotifier struct{}

func (NoOpNotifier) Notify(context.Context, Event) error { return nil }

func (NoOpNotifier) Close() error { return nil }

var _ Notifier = &PubSubNotifier{}

// PubSubNotifier publishes run events as JSON messages on a Pub/Sub topic.
type PubSubNotifier struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	now       func() time.Time
}

// NewPubSubNotifier connects to projectID and publishes on topicName.
func NewPubSubNotifier(ctx context.Context, projectID, topicName string, opts ...option.ClientOption) (*PubSubNotifier, error) {
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating pub/sub client: %w", ErrNotify, err)
	}

	return &PubSubNotifier{
		client:    client,
		publisher: client.Publisher(fmt.Sprintf("projects/%s/topics/%s", projectID, topicName)),
		now:       time.Now,
	}, nil
}

// Notify publishes event and waits for the server acknowledgement.
func (n *PubSubNotifier) Notify(ctx context.Context, event Event) error {
	log := logger.FromContext(ctx).WithName(loggerName)
	if event.Timestamp.IsZero() {
		event.Timestamp = n.now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotify, err)
	}

	result := n.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			eventTypeAttribute:   string(event.Type),
			destinationAttribute: event.Destination,
		},
	})

	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotify, err)
	}

	log.Trace("run event published", "messageId", id, "type", event.Type)
	return nil
}

// Close flushes pending messages and releases the client.
func (n *PubSubNotifier) Close() error {
	n.publisher.Stop()
	return n.client.Close()
}
