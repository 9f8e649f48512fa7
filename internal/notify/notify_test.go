// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	testProject = "normalizer-test"
	testTopic   = "normalization-runs"
)

func fakeServerOptions(srv *pstest.Server) []option.ClientOption {
	return []option.ClientOption{
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		option.WithTelemetryDisabled(),
	}
}

func newFakePubSubServer(t *testing.T, createTopic bool) *pstest.Server {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })

	if createTopic {
		client, err := pubsub.NewClient(t.Context(), testProject, fakeServerOptions(srv)...)
		require.NoError(t, err)
		defer client.Close()

		_, err = client.TopicAdminClient.CreateTopic(t.Context(), &pubsubpb.Topic{
			Name: fmt.Sprintf("projects/%s/topics/%s", testProject, testTopic),
		})
		require.NoError(t, err)
	}

	return srv
}

func TestPubSubNotifier(t *testing.T) {
	t.Parallel()

	srv := newFakePubSubServer(t, true)
	notifier, err := NewPubSubNotifier(t.Context(), testProject, testTopic, fakeServerOptions(srv)...)
	require.NoError(t, err)
	notifier.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	exitCode := 1
	require.NoError(t, notifier.Notify(t.Context(), Event{
		Type:            EventFailed,
		Destination:     "airbyte/destination-postgres:0.3.5",
		DestinationType: "Postgres",
		JobID:           "42",
		Attempt:         2,
		ExitCode:        &exitCode,
		Error:           "normalization process failed with exit code 1",
	}))
	require.NoError(t, notifier.Close())

	messages := srv.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, map[string]string{
		"eventType":   "failed",
		"destination": "airbyte/destination-postgres:0.3.5",
	}, messages[0].Attributes)

	expected := `{
		"type": "failed",
		"destination": "airbyte/destination-postgres:0.3.5",
		"destinationType": "Postgres",
		"jobId": "42",
		"attempt": 2,
		"exitCode": 1,
		"error": "normalization process failed with exit code 1",
		"timestamp": "2026-01-02T03:04:05Z"
	}`
	assert.JSONEq(t, expected, string(messages[0].Data))

	event := new(Event)
	require.NoError(t, json.Unmarshal(messages[0].Data, event))
	assert.Equal(t, EventFailed, event.Type)
}

func TestPubSubNotifierMissingTopic(t *testing.T) {
	t.Parallel()

	srv := newFakePubSubServer(t, false)
	notifier, err := NewPubSubNotifier(t.Context(), testProject, testTopic, fakeServerOptions(srv)...)
	require.NoError(t, err)
	defer notifier.Close()

	err = notifier.Notify(t.Context(), Event{Type: EventStarted, JobID: "42"})
	assert.ErrorIs(t, err, ErrNotify)
}

func TestNoOpNotifier(t *testing.T) {
	t.Parallel()

	var notifier Notifier = NoOpNotifier{}
	assert.NoError(t, notifier.Notify(t.Context(), Event{Type: EventStarted}))
	assert.NoError(t, notifier.Close())
}

type countingNotifier struct {
	notified int
	closed   int
	err      error
}

func (n *countingNotifier) Notify(context.Context, Event) error {
	n.notified++
	return n.err
}

func (n *countingNotifier) Close() error {
	n.closed++
	return n.err
}

func TestMulti(t *testing.T) {
	t.Parallel()

	assert.Equal(t, NoOpNotifier{}, Multi())

	single := &countingNotifier{}
	assert.Same(t, single, Multi(single))

	failing := &countingNotifier{err: assert.AnError}
	working := &countingNotifier{}
	notifier := Multi(failing, working)

	assert.ErrorIs(t, notifier.Notify(t.Context(), Event{Type: EventStarted}), assert.AnError)
	assert.ErrorIs(t, notifier.Close(), assert.AnError)
	assert.Equal(t, 1, working.notified)
	assert.Equal(t, 1, working.closed)
	assert.Equal(t, 1, failing.notified)
}
