// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"context"
	"sync"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/mia-platform/normalizer/internal/config"
	"github.com/mia-platform/normalizer/internal/logger"
	"github.com/mia-platform/normalizer/internal/pipeline"
	"github.com/mia-platform/normalizer/internal/server"
)

const (
	serveCmdUsage = "serve"
	serveCmdShort = "expose the normalization as an http service"
	serveCmdLong  = `Start an http server accepting normalization requests.
	Every request starts a normalization and streams back its output lines as
	newline delimited JSON records, followed by a final status record.

	The server listens on HTTP_HOST:HTTP_PORT and stops gracefully on SIGINT or
	SIGTERM, cancelling the running normalizations.`

	serveCmdExample = `# Start the server on the default port
	normalizer serve

	# Start the server on a custom port
	HTTP_PORT=8080 normalizer serve`

	serveLoggerName = "normalizer:serve"
)

// serverGetter returns the http server exposing jobs. It can be overridden for testing purposes.
var serverGetter = func(ctx context.Context, jobs *pipeline.Pipeline) (server.Server, error) {
	return server.NewServer(ctx, jobs)
}

// ServeCmd returns the "serve" cli command for running the normalizer as a service.
func ServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     serveCmdUsage,
		Short:   heredoc.Doc(serveCmdShort),
		Long:    heredoc.Doc(serveCmdLong),
		Example: heredoc.Doc(serveCmdExample),

		SilenceErrors: true,
		SilenceUsage:  true,

		Args:              cobra.NoArgs,
		ValidArgsFunction: cobra.NoFileCompletions,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := &serveOptions{
				pipelineGetter: pipelineGetter,
				serverGetter:   serverGetter,
			}

			if err := opts.execute(cmd.Context()); err != nil {
				return handleError(cmd, err)
			}

			return nil
		},
	}
}

// serveOptions holds the collaborators used by the "serve" command.
type serveOptions struct {
	pipelineGetter func(context.Context, *config.Config) (*pipeline.Pipeline, func() error, error)
	serverGetter   func(context.Context, *pipeline.Pipeline) (server.Server, error)

	lock sync.Mutex
}

// execute starts the server and blocks until ctx is done.
func (o *serveOptions) execute(ctx context.Context) error {
	if !o.lock.TryLock() {
		return nil
	}
	defer o.lock.Unlock()

	log := logger.FromContext(ctx).WithName(serveLoggerName)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	jobs, closePipeline, err := o.pipelineGetter(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closePipeline(); err != nil {
			log.Warn("failed to release pipeline clients", "error", err)
		}
	}()

	srv, err := o.serverGetter(ctx, jobs)
	if err != nil {
		return err
	}

	srv.StartAsync(ctx)
	log.Info("normalization server started")

	<-ctx.Done()
	log.Info("stopping normalization server")
	return srv.Stop()
}
