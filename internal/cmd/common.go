// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package cmd

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"
	"google.golang.org/api/option"

	"github.com/mia-platform/normalizer/internal/archive"
	"github.com/mia-platform/normalizer/internal/config"
	"github.com/mia-platform/normalizer/internal/info"
	"github.com/mia-platform/normalizer/internal/normalization"
	"github.com/mia-platform/normalizer/internal/notify"
	"github.com/mia-platform/normalizer/internal/pipeline"
	"github.com/mia-platform/normalizer/internal/process"
)

var (
	errNoArguments  = errors.New("no destination provided")
	errMissingInput = errors.New("no run input file provided")

	// pipelineGetter builds the pipeline used by the commands from the environment configuration.
	// It can be overridden for testing purposes.
	pipelineGetter = pipelineFromConfig
)

// handleError will do custom print error handling based on the type of error received.
// it will return nil if the command must return 0 exit code, otherwise it will return
// the original error.
func handleError(cmd *cobra.Command, err error) error {
	switch {
	case errors.Is(err, errNoArguments):
		_ = cmd.Usage() // do not check error as we cannot do much about it
		return nil
	case errors.Is(err, errMissingInput), errors.Is(err, normalization.ErrMalformedIdentifier):
		cmd.PrintErrln(err)
		_ = cmd.Usage() // do not check error as we cannot do much about it
		return err
	default:
		cmd.PrintErrln(err)
		return err
	}
}

// validDestinationsFunc completes the first argument with the destinations supporting normalization.
func validDestinationsFunc(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	var comps []string
	if len(args) == 0 {
		for _, mapping := range normalization.Mappings() {
			if strings.HasPrefix(mapping.Family, toComplete) {
				comps = append(comps, cobra.CompletionWithDesc(mapping.Family+":", mapping.Type.String()+" normalization"))
			}
		}
	}

	return comps, cobra.ShellCompDirectiveNoFileComp | cobra.ShellCompDirectiveNoSpace
}

// pipelineFromConfig assembles a pipeline from cfg. The returned function releases the
// clients opened for the pipeline.
func pipelineFromConfig(ctx context.Context, cfg *config.Config) (*pipeline.Pipeline, func() error, error) {
	processFactory, err := processFactoryFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	notifier, err := notifierFromConfig(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	var archiver archive.Archiver = archive.NoOpArchiver{}
	if cfg.Archive.Enabled() {
		archiver, err = archive.NewBlobArchiver(cfg.Archive)
		if err != nil {
			_ = notifier.Close()
			return nil, nil, err
		}
	}

	p := pipeline.New(
		processFactory,
		cfg.WorkspaceRoot,
		pipeline.WithNotifier(notifier),
		pipeline.WithArchiver(archiver),
		pipeline.WithMaxLogBytes(cfg.Archive.MaxLogBytes),
		pipeline.WithNormalizationDisabled(cfg.DisabledDestinations...),
		pipeline.WithRunTimeout(cfg.RunTimeout),
		pipeline.WithRunnerOptions(
			normalization.WithImageTag(cfg.NormalizationImageTag),
			normalization.WithDiagnosticLines(cfg.DiagnosticLines),
			normalization.WithKeepWorkspace(cfg.KeepWorkspace),
		),
	)

	return p, notifier.Close, nil
}

// notifierFromConfig returns a notifier delivering run events to every enabled channel.
func notifierFromConfig(ctx context.Context, cfg *config.Config) (notify.Notifier, error) {
	notifiers := make([]notify.Notifier, 0, 2)
	if cfg.Notify.Enabled() {
		pubsubNotifier, err := notify.NewPubSubNotifier(ctx, cfg.Notify.ProjectID, cfg.Notify.TopicName, option.WithUserAgent(info.UserAgent()))
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, pubsubNotifier)
	}

	if cfg.EventHubs.Enabled() {
		eventHubsNotifier, err := notify.NewEventHubsNotifier(cfg.EventHubs.ConnectionString, cfg.EventHubs.Namespace, cfg.EventHubs.EventHubName)
		if err != nil {
			_ = notify.Multi(notifiers...).Close()
			return nil, err
		}
		notifiers = append(notifiers, eventHubsNotifier)
	}

	return notify.Multi(notifiers...), nil
}

func processFactoryFromConfig(cfg *config.Config) (process.Factory, error) {
	localFactory := process.NewLocalFactory(cfg.StopGracePeriod)
	if cfg.ProcessFactory == config.ProcessFactoryLocal {
		return localFactory, nil
	}

	dockerFactory, err := process.NewDockerFactory(localFactory, cfg.DockerNetwork, cfg.DockerExtraArgs)
	if err != nil {
		return nil, err
	}
	return dockerFactory, nil
}
