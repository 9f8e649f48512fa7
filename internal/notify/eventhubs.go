// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azeventhubs/v2"

	"github.com/mia-platform/normalizer/internal/logger"
)

const (
	eventHubsCloseTimeout = 10 * time.Second
)

// eventSender sends a single event to an event hub.
type eventSender interface {
	Send(ctx context.Context, event *azeventhubs.EventData) error
	Close(ctx context.Context) error
}

var _ Notifier = &EventHubsNotifier{}

// EventHubsNotifier sends run events as JSON bodies to an Azure Event Hub.
type EventHubsNotifier struct {
	sender eventSender
	now    func() time.Time
}

// NewEventHubsNotifier sends to eventHubName using connectionString when set, or the
// default Azure credential on namespace otherwise.
func NewEventHubsNotifier(connectionString, namespace, eventHubName string) (*EventHubsNotifier, error) {
	var producer *azeventhubs.ProducerClient
	var err error

	if connectionString != "" {
		producer, err = azeventhubs.NewProducerClientFromConnectionString(connectionString, eventHubName, nil)
	} else {
		var credentials *azidentity.DefaultAzureCredential
		credentials, err = azidentity.NewDefaultAzureCredential(nil)
		if err == nil {
			producer, err = azeventhubs.NewProducerClient(fullyQualifiedNamespace(namespace), eventHubName, credentials, nil)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: creating event hubs client: %w", ErrNotify, err)
	}

	return newEventHubsNotifier(&producerSender{client: producer}), nil
}

func newEventHubsNotifier(sender eventSender) *EventHubsNotifier {
	return &EventHubsNotifier{
		sender: sender,
		now:    time.Now,
	}
}

func fullyQualifiedNamespace(namespace string) string {
	if strings.Contains(namespace, ".servicebus.windows.net") {
		return namespace
	}
	return namespace + ".servicebus.windows.net"
}

// Notify sends event and waits for the event hub to accept it.
func (n *EventHubsNotifier) Notify(ctx context.Context, event Event) error {
	log := logger.FromContext(ctx).WithName(loggerName)
	if event.Timestamp.IsZero() {
		event.Timestamp = n.now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotify, err)
	}

	contentType := "application/json"
	if err := n.sender.Send(ctx, &azeventhubs.EventData{
		Body:        data,
		ContentType: &contentType,
		Properties: map[string]any{
			eventTypeAttribute:   string(event.Type),
			destinationAttribute: event.Destination,
		},
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrNotify, err)
	}

	log.Trace("run event sent", "type", event.Type)
	return nil
}

// Close releases the event hub connection.
func (n *EventHubsNotifier) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), eventHubsCloseTimeout)
	defer cancel()
	return n.sender.Close(ctx)
}

// producerSender sends every event in its own batch.
type producerSender struct {
	client *azeventhubs.ProducerClient
}

func (s *producerSender) Send(ctx context.Context, event *azeventhubs.EventData) error {
	batch, err := s.client.NewEventDataBatch(ctx, nil)
	if err != nil {
		return err
	}

	if err := batch.AddEventData(event, nil); err != nil {
		return fmt.Errorf("event of %d bytes not added to batch: %w", len(event.Body), err)
	}

	return s.client.SendEventDataBatch(ctx, batch, nil)
}

func (s *producerSender) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}
