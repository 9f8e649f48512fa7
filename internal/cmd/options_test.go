// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mia-platform/normalizer/internal/config"
	"github.com/mia-platform/normalizer/internal/normalization"
	"github.com/mia-platform/normalizer/internal/output"
	"github.com/mia-platform/normalizer/internal/pipeline"
	fakeprocess "github.com/mia-platform/normalizer/internal/process/fake"
	"github.com/mia-platform/normalizer/internal/server"
	fakeserver "github.com/mia-platform/normalizer/internal/server/fake"
)

// testPipelineGetter returns a pipeline getter backed by a fake process factory.
func testPipelineGetter(tb testing.TB, processFactory *fakeprocess.Factory, closed *bool) func(context.Context, *config.Config) (*pipeline.Pipeline, func() error, error) {
	tb.Helper()

	return func(_ context.Context, _ *config.Config) (*pipeline.Pipeline, func() error, error) {
		return pipeline.New(processFactory, tb.TempDir()), func() error {
			if closed != nil {
				*closed = true
			}
			return nil
		}, nil
	}
}

func failingPipelineGetter(context.Context, *config.Config) (*pipeline.Pipeline, func() error, error) {
	return nil, nil, assert.AnError
}

func TestNormalizeOptionsValidate(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		options       *normalizeOptions
		expectedError error
	}{
		"missing destination": {
			options:       &normalizeOptions{inputPath: "input.yaml"},
			expectedError: errNoArguments,
		},
		"malformed destination": {
			options:       &normalizeOptions{destination: "airbyte/destination-postgres", inputPath: "input.yaml"},
			expectedError: normalization.ErrMalformedIdentifier,
		},
		"missing input": {
			options:       &normalizeOptions{destination: "airbyte/destination-postgres:0.3.5"},
			expectedError: errMissingInput,
		},
		"unsupported destinations are checked when the run is prepared": {
			options: &normalizeOptions{destination: "airbyte/destination-kafka:0.1.0", inputPath: "input.yaml"},
		},
		"valid options": {
			options: &normalizeOptions{destination: "airbyte/destination-postgres:0.3.5", inputPath: "input.yaml"},
		},
	}

	for name, test := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			err := test.options.validate()
			if test.expectedError != nil {
				assert.ErrorIs(t, err, test.expectedError)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNormalizeOptionsExecute(t *testing.T) {
	t.Parallel()

	processFactory := fakeprocess.NewFactory(t, fakeprocess.Script{Stdout: []string{
		"Running with dbt=0.21.0",
		`{"type":"LOG","log":{"level":"INFO","message":"Completed successfully"}}`,
	}})
	closed := false
	buffer := new(bytes.Buffer)
	opts := &normalizeOptions{
		destination:    "airbyte/destination-postgres:0.3.5",
		inputPath:      filepath.Join("testdata", "input.yaml"),
		output:         newOutput(buffer, false),
		pipelineGetter: testPipelineGetter(t, processFactory, &closed),
	}

	require.NoError(t, opts.validate())
	require.NoError(t, opts.execute(t.Context()))

	assert.Equal(t, "Running with dbt=0.21.0\n"+`{"type":"LOG","log":{"level":"INFO","message":"Completed successfully"}}`+"\n", buffer.String())
	assert.True(t, closed)
	require.Len(t, processFactory.Starts(), 1)
	assert.True(t, strings.HasPrefix(processFactory.Starts()[0].Tool, "airbyte/normalization:"))
}

func TestNormalizeOptionsExecuteJSONOutput(t *testing.T) {
	t.Parallel()

	processFactory := fakeprocess.NewFactory(t, fakeprocess.Script{Stdout: []string{"a", "b"}})
	buffer := new(bytes.Buffer)
	opts := &normalizeOptions{
		destination:    "airbyte/destination-snowflake:0.4.0",
		inputPath:      filepath.Join("testdata", "input.yaml"),
		output:         newOutput(buffer, true),
		pipelineGetter: testPipelineGetter(t, processFactory, nil),
	}

	require.NoError(t, opts.execute(t.Context()))

	decoder := json.NewDecoder(buffer)
	for i, text := range []string{"a", "b"} {
		record := output.LineRecord{}
		require.NoError(t, decoder.Decode(&record))
		assert.Equal(t, i+1, record.Line.Number)
		assert.Equal(t, text, record.Line.Text)
	}
	assert.False(t, decoder.More())
}

func TestNormalizeOptionsExecuteErrors(t *testing.T) {
	t.Parallel()

	testCases := map[string]struct {
		destination    string
		script         fakeprocess.Script
		pipelineGetter func(context.Context, *config.Config) (*pipeline.Pipeline, func() error, error)
		expectedError  error
		expectedStarts int
	}{
		"pipeline cannot be built": {
			destination:    "airbyte/destination-postgres:0.3.5",
			pipelineGetter: failingPipelineGetter,
			expectedError:  assert.AnError,
		},
		"unsupported destination": {
			destination:   "airbyte/destination-kafka:0.1.0",
			expectedError: normalization.ErrUnsupportedDestination,
		},
		"normalization process fails": {
			destination:    "airbyte/destination-postgres:0.3.5",
			script:         fakeprocess.Script{Stderr: []string{"dbt failed"}, ExitCode: 2},
			expectedError:  normalization.ErrProcessExecution,
			expectedStarts: 1,
		},
	}

	for name, test := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			processFactory := fakeprocess.NewFactory(t, test.script)
			getter := test.pipelineGetter
			if getter == nil {
				getter = testPipelineGetter(t, processFactory, nil)
			}

			opts := &normalizeOptions{
				destination:    test.destination,
				inputPath:      filepath.Join("testdata", "input.yaml"),
				output:         newOutput(new(bytes.Buffer), false),
				pipelineGetter: getter,
			}

			err := opts.execute(t.Context())
			assert.ErrorIs(t, err, test.expectedError)
			assert.Len(t, processFactory.Starts(), test.expectedStarts)
		})
	}
}

func TestServeOptionsExecute(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	fakeServer := fakeserver.NewFakeServer(t)
	closed := false
	var servedPipeline *pipeline.Pipeline
	opts := &serveOptions{
		pipelineGetter: testPipelineGetter(t, fakeprocess.NewFactory(t, fakeprocess.Script{}), &closed),
		serverGetter: func(_ context.Context, jobs *pipeline.Pipeline) (server.Server, error) {
			servedPipeline = jobs
			return fakeServer, nil
		},
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- opts.execute(ctx)
	}()

	select {
	case <-fakeServer.StartedServer():
	case <-time.After(5 * time.Second):
		require.FailNow(t, "server not started")
	}

	cancel()
	select {
	case err := <-errChan:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "serve command not stopped")
	}

	<-fakeServer.StoppedServer()
	assert.NotNil(t, servedPipeline)
	assert.True(t, closed)
}

func TestServeOptionsExecuteErrors(t *testing.T) {
	t.Parallel()

	t.Run("pipeline cannot be built", func(t *testing.T) {
		t.Parallel()

		opts := &serveOptions{
			pipelineGetter: failingPipelineGetter,
			serverGetter: func(context.Context, *pipeline.Pipeline) (server.Server, error) {
				require.FailNow(t, "server must not be created")
				return nil, nil
			},
		}
		assert.ErrorIs(t, opts.execute(t.Context()), assert.AnError)
	})

	t.Run("server cannot be created", func(t *testing.T) {
		t.Parallel()

		closed := false
		opts := &serveOptions{
			pipelineGetter: testPipelineGetter(t, fakeprocess.NewFactory(t, fakeprocess.Script{}), &closed),
			serverGetter: func(context.Context, *pipeline.Pipeline) (server.Server, error) {
				return nil, server.ErrEnvVariablesNotValid
			},
		}
		assert.ErrorIs(t, opts.execute(t.Context()), server.ErrEnvVariablesNotValid)
		assert.True(t, closed)
	})
}
