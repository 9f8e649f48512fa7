// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/shlex"
)

const (
	ProcessFactoryLocal  = "local"
	ProcessFactoryDocker = "docker"
)

var (
	ErrEnvVariablesNotValid = errors.New("environment variables not valid")
)

// Config holds the settings shared by every normalization run.
type Config struct {
	WorkspaceRoot         string        `env:"WORKSPACE_ROOT" envDefault:"/tmp/workspace"`
	ProcessFactory        string        `env:"PROCESS_FACTORY" envDefault:"docker"`
	DockerNetwork         string        `env:"DOCKER_NETWORK"`
	DockerExtraArgs       string        `env:"DOCKER_EXTRA_ARGS"`
	NormalizationImageTag string        `env:"NORMALIZATION_IMAGE_TAG" envDefault:"0.1.61"`
	RunTimeout            time.Duration `env:"NORMALIZATION_TIMEOUT" envDefault:"0s"`
	StopGracePeriod       time.Duration `env:"PROCESS_STOP_GRACE_PERIOD" envDefault:"10s"`
	DiagnosticLines       int           `env:"DIAGNOSTIC_LINES" envDefault:"50"`
	KeepWorkspace         bool          `env:"KEEP_WORKSPACE" envDefault:"false"`

	// DisabledDestinations lists the destination families whose jobs succeed without running
	// the normalization.
	DisabledDestinations []string `env:"NORMALIZATION_DISABLED_DESTINATIONS" envSeparator:","`

	Notify    NotifyConfig
	EventHubs EventHubsConfig
	Archive   ArchiveConfig
}

// NotifyConfig enables run events on a Pub/Sub topic when both values are set.
type NotifyConfig struct {
	ProjectID string `env:"NOTIFY_PUBSUB_PROJECT"`
	TopicName string `env:"NOTIFY_PUBSUB_TOPIC"`
}

// Enabled reports whether run events must be published.
func (c NotifyConfig) Enabled() bool {
	return c.ProjectID != "" && c.TopicName != ""
}

// EventHubsConfig enables run events on an Azure Event Hub. The connection string takes
// precedence over the namespace, which is used with the default Azure credential.
type EventHubsConfig struct {
	ConnectionString string `env:"NOTIFY_AZURE_EVENT_HUB_CONNECTION_STRING"`
	Namespace        string `env:"NOTIFY_AZURE_EVENT_HUB_NAMESPACE"`
	EventHubName     string `env:"NOTIFY_AZURE_EVENT_HUB_NAME"`
}

// Enabled reports whether run events must be sent to the event hub.
func (c EventHubsConfig) Enabled() bool {
	return c.ConnectionString != "" || c.Namespace != ""
}

// ArchiveConfig enables the upload of run logs to an Azure storage container.
type ArchiveConfig struct {
	ConnectionString string `env:"ARCHIVE_AZURE_CONNECTION_STRING"`
	StorageAccount   string `env:"ARCHIVE_AZURE_STORAGE_ACCOUNT"`
	ContainerName    string `env:"ARCHIVE_AZURE_CONTAINER_NAME"`
	Prefix           string `env:"ARCHIVE_AZURE_PREFIX" envDefault:"normalization"`
	MaxRetries       uint64 `env:"ARCHIVE_AZURE_MAX_RETRIES" envDefault:"3"`
	MaxLogBytes      int    `env:"ARCHIVE_MAX_LOG_BYTES" envDefault:"8388608"`
}

// Enabled reports whether run logs must be archived.
func (c ArchiveConfig) Enabled() bool {
	return c.ConnectionString != "" || c.StorageAccount != ""
}

// Load reads Config from the environment and validates it.
func Load() (*Config, error) {
	var envVars Config
	if err := env.Parse(&envVars); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrEnvVariablesNotValid, err.Error())
	}

	if err := validateEnvironmentVariables(&envVars); err != nil {
		return nil, err
	}
	return &envVars, nil
}

func validateEnvironmentVariables(envVars *Config) error {
	envError := make([]string, 0)

	if envVars.WorkspaceRoot == "" {
		envError = append(envError, "WORKSPACE_ROOT must not be empty")
	}

	switch envVars.ProcessFactory {
	case ProcessFactoryLocal, ProcessFactoryDocker:
	default:
		envError = append(envError, fmt.Sprintf("PROCESS_FACTORY must be one of %s or %s", ProcessFactoryLocal, ProcessFactoryDocker))
	}

	if _, err := shlex.Split(envVars.DockerExtraArgs); err != nil {
		envError = append(envError, "DOCKER_EXTRA_ARGS is not a valid argument list")
	}
	if envVars.RunTimeout < 0 {
		envError = append(envError, "NORMALIZATION_TIMEOUT must not be negative")
	}
	if envVars.StopGracePeriod <= 0 {
		envError = append(envError, "PROCESS_STOP_GRACE_PERIOD must be positive")
	}
	if envVars.DiagnosticLines < 1 {
		envError = append(envError, "DIAGNOSTIC_LINES must be positive")
	}

	if (envVars.Notify.ProjectID == "") != (envVars.Notify.TopicName == "") {
		envError = append(envError, "NOTIFY_PUBSUB_PROJECT and NOTIFY_PUBSUB_TOPIC must be set together")
	}

	if envVars.EventHubs.Enabled() && envVars.EventHubs.EventHubName == "" {
		envError = append(envError, "NOTIFY_AZURE_EVENT_HUB_NAME is required when the event hub notification is enabled")
	}

	if envVars.Archive.Enabled() && envVars.Archive.ContainerName == "" {
		envError = append(envError, "ARCHIVE_AZURE_CONTAINER_NAME is required when archiving is enabled")
	}
	if envVars.Archive.Enabled() && envVars.Archive.MaxLogBytes < 1 {
		envError = append(envError, "ARCHIVE_MAX_LOG_BYTES must be positive")
	}

	if len(envError) > 0 {
		return fmt.Errorf("%w: %s", ErrEnvVariablesNotValid, strings.Join(envError, ", "))
	}
	return nil
}
