// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mia-platform/normalizer/internal/config"
	"github.com/mia-platform/normalizer/internal/normalization"
	"github.com/mia-platform/normalizer/internal/notify"
	"github.com/mia-platform/normalizer/internal/pipeline"
	"github.com/mia-platform/normalizer/internal/process"
)

func testConfig(tb testing.TB) *config.Config {
	tb.Helper()

	return &config.Config{
		WorkspaceRoot:         tb.TempDir(),
		ProcessFactory:        config.ProcessFactoryLocal,
		NormalizationImageTag: "0.1.61",
		StopGracePeriod:       time.Second,
		DiagnosticLines:       10,
	}
}

func TestProcessFactoryFromConfig(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		edit          func(*config.Config)
		expectedType  any
		expectedError bool
	}{
		"local factory": {
			edit:         func(*config.Config) {},
			expectedType: &process.LocalFactory{},
		},
		"docker factory": {
			edit: func(c *config.Config) {
				c.ProcessFactory = config.ProcessFactoryDocker
				c.DockerNetwork = "host"
				c.DockerExtraArgs = "--memory 512m"
			},
			expectedType: &process.DockerFactory{},
		},
		"docker factory with invalid arguments": {
			edit: func(c *config.Config) {
				c.ProcessFactory = config.ProcessFactoryDocker
				c.DockerExtraArgs = `--label "open`
			},
			expectedError: true,
		},
	}

	for name, test := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig(t)
			test.edit(cfg)

			factory, err := processFactoryFromConfig(cfg)
			if test.expectedError {
				assert.Error(t, err)
				assert.Nil(t, factory)
				return
			}

			require.NoError(t, err)
			assert.IsType(t, test.expectedType, factory)
		})
	}
}

func TestPipelineFromConfig(t *testing.T) {
	t.Parallel()

	p, closePipeline, err := pipelineFromConfig(t.Context(), testConfig(t))
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.NoError(t, closePipeline())
}

func TestPipelineFromConfigDisabledDestinations(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.DisabledDestinations = []string{"airbyte/destination-postgres"}
	p, closePipeline, err := pipelineFromConfig(t.Context(), cfg)
	require.NoError(t, err)
	defer closePipeline()

	// the local factory would fail to start the normalization image
	result, err := p.Execute(t.Context(), pipeline.Job{
		Destination: "airbyte/destination-postgres:0.3.5",
		Input: normalization.Input{
			JobID:             "42",
			DestinationConfig: map[string]any{},
			Catalog:           map[string]any{},
		},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusSucceeded, result.Status)
	assert.Zero(t, result.Lines)
}

func TestNotifierFromConfig(t *testing.T) {
	t.Parallel()

	t.Run("no channel enabled", func(t *testing.T) {
		t.Parallel()

		notifier, err := notifierFromConfig(t.Context(), testConfig(t))
		require.NoError(t, err)
		assert.Equal(t, notify.NoOpNotifier{}, notifier)
	})

	t.Run("event hubs channel", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(t)
		cfg.EventHubs = config.EventHubsConfig{
			ConnectionString: "Endpoint=sb://runs.servicebus.windows.net/;SharedAccessKeyName=send;SharedAccessKey=c2VjcmV0",
			EventHubName:     "runs",
		}

		notifier, err := notifierFromConfig(t.Context(), cfg)
		require.NoError(t, err)
		assert.IsType(t, &notify.EventHubsNotifier{}, notifier)
		assert.NoError(t, notifier.Close())
	})

	t.Run("invalid event hubs connection string", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig(t)
		cfg.EventHubs = config.EventHubsConfig{
			ConnectionString: "not a connection string",
			EventHubName:     "runs",
		}

		_, err := notifierFromConfig(t.Context(), cfg)
		assert.ErrorIs(t, err, notify.ErrNotify)
	})
}
