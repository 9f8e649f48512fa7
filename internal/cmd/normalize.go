// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"context"
	"io"
	"sync"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/mia-platform/normalizer/internal/config"
	"github.com/mia-platform/normalizer/internal/consumer"
	"github.com/mia-platform/normalizer/internal/logger"
	"github.com/mia-platform/normalizer/internal/normalization"
	"github.com/mia-platform/normalizer/internal/output"
	"github.com/mia-platform/normalizer/internal/pipeline"
)

const (
	normalizeCmdUsage = "normalize DESTINATION"
	normalizeCmdShort = "run the normalization of the data loaded into a destination"
	normalizeCmdLong  = `Run the normalization of the data loaded into a destination.
	DESTINATION is the destination image in the FAMILY:VERSION form, for example
	airbyte/destination-postgres:0.3.5; the normalization tool is chosen from the
	destination family and only families supporting normalization are accepted.

	The run input file contains the job id, the attempt number, the destination
	configuration and the configured catalog, in YAML or JSON format.

	The behaviour of the command can be tuned with environment variables, please
	refer to the documentation for more details.`

	normalizeCmdExample = `# Normalize the data of a Postgres destination
	normalizer normalize airbyte/destination-postgres:0.3.5 --input run.yaml

	# Print every output line as a JSON record
	normalizer normalize airbyte/destination-bigquery:0.2.0 -i run.json --output-json`

	normalizeLoggerName = "normalizer:normalize"

	inputFlagName  = "input"
	inputFlagShort = "i"
	inputFlagUsage = "Path to the run input file"

	outputJSONFlagName  = "output-json"
	outputJSONFlagUsage = "If set, writes every output line as a JSON record instead of plain text"
	defaultOutputJSON   = false
)

// NormalizeCmd returns the "normalize" cli command for running a normalization.
func NormalizeCmd() *cobra.Command {
	flags := &normalizeFlags{}
	cmd := &cobra.Command{
		Use:     normalizeCmdUsage,
		Short:   heredoc.Doc(normalizeCmdShort),
		Long:    heredoc.Doc(normalizeCmdLong),
		Example: heredoc.Doc(normalizeCmdExample),

		SilenceErrors: true,
		SilenceUsage:  true,

		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: validDestinationsFunc,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := flags.toOptions(cmd, args)
			if err := opts.validate(); err != nil {
				return handleError(cmd, err)
			}

			if err := opts.execute(cmd.Context()); err != nil {
				return handleError(cmd, err)
			}

			return nil
		},
	}

	flags.addFlags(cmd)
	return cmd
}

// normalizeFlags holds the flags for the "normalize" command.
type normalizeFlags struct {
	inputPath  string
	outputJSON bool
}

// addFlags adds the cli flags to the cobra command.
func (f *normalizeFlags) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.inputPath, inputFlagName, inputFlagShort, "", inputFlagUsage)
	cmd.Flags().BoolVar(&f.outputJSON, outputJSONFlagName, defaultOutputJSON, outputJSONFlagUsage)
}

// toOptions converts the flags to normalizeOptions enriching them with the passed arguments.
func (f *normalizeFlags) toOptions(cmd *cobra.Command, args []string) *normalizeOptions {
	destination := ""
	if len(args) > 0 {
		destination = args[0]
	}

	return &normalizeOptions{
		destination:    destination,
		inputPath:      f.inputPath,
		output:         newOutput(cmd.OutOrStdout(), f.outputJSON),
		pipelineGetter: pipelineGetter,
	}
}

func newOutput(w io.Writer, asJSON bool) consumer.Consumer[normalization.Line] {
	if asJSON {
		return output.NewJSONWriter(w)
	}
	return output.NewTextWriter(w)
}

// normalizeOptions holds the options set for the current normalization.
type normalizeOptions struct {
	destination    string
	inputPath      string
	output         consumer.Consumer[normalization.Line]
	pipelineGetter func(context.Context, *config.Config) (*pipeline.Pipeline, func() error, error)

	lock sync.Mutex
}

// validate checks the options before anything is read or started.
func (o *normalizeOptions) validate() error {
	if o.destination == "" {
		return errNoArguments
	}

	if _, err := normalization.ParseIdentifier(o.destination); err != nil {
		return err
	}

	if o.inputPath == "" {
		return errMissingInput
	}

	return nil
}

// execute runs the normalization described by the options.
func (o *normalizeOptions) execute(ctx context.Context) error {
	if !o.lock.TryLock() {
		return nil
	}
	defer o.lock.Unlock()

	log := logger.FromContext(ctx).WithName(normalizeLoggerName)

	input, err := config.NewRunInputFromPath(o.inputPath)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	p, closePipeline, err := o.pipelineGetter(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closePipeline(); err != nil {
			log.Warn("failed to release pipeline clients", "error", err)
		}
	}()

	result, err := p.Execute(ctx, pipeline.Job{
		Destination: o.destination,
		Input: normalization.Input{
			JobID:             input.JobID,
			Attempt:           input.Attempt,
			DestinationConfig: input.DestinationConfig,
			Catalog:           input.Catalog,
		},
	}, o.output)

	log.Info("normalization finished",
		"status", result.Status,
		"exitCode", result.ExitCode,
		"lines", result.Lines,
		"archivedLog", result.ArchivedLog,
	)
	return err
}
