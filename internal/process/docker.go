// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

package process

import (
	"context"
	"fmt"

	"github.com/google/shlex"
	"github.com/google/uuid"

	"github.com/mia-platform/normalizer/internal/logger"
)

const (
	dockerExecutable = "docker"

	// DataMountPath is where the working directory is mounted inside the container.
	DataMountPath = "/data/job"
	containerName = "normalization-%s"
)

var _ Factory = &DockerFactory{}

// DockerFactory runs every tool as a docker image, mounting the working directory inside
// the container as its working directory.
type DockerFactory struct {
	runner    Factory
	network   string
	extraArgs []string
}

// NewDockerFactory returns a DockerFactory that spawns the docker client through runner.
// extraArgs is split with shell quoting rules and appended to every docker run invocation.
func NewDockerFactory(runner Factory, network string, extraArgs string) (*DockerFactory, error) {
	parsedArgs, err := shlex.Split(extraArgs)
	if err != nil {
		return nil, fmt.Errorf("invalid docker arguments %q: %w", extraArgs, err)
	}

	return &DockerFactory{
		runner:    runner,
		network:   network,
		extraArgs: parsedArgs,
	}, nil
}

// Start implements Factory, tool is the image reference to run.
func (f *DockerFactory) Start(ctx context.Context, tool string, args []string, workingDir string) (Handle, error) {
	log := logger.FromContext(ctx).WithName(loggerName)
	if tool == "" {
		return nil, fmt.Errorf("%w: empty image", ErrStart)
	}

	dockerArgs := f.dockerArgs(tool, args, workingDir)
	log.Trace("starting container", "image", tool, "dockerArgs", dockerArgs)
	return f.runner.Start(ctx, dockerExecutable, dockerArgs, workingDir)
}

func (f *DockerFactory) dockerArgs(image string, args []string, workingDir string) []string {
	dockerArgs := []string{
		"run", "--rm", "--init", "-i",
		"--name", fmt.Sprintf(containerName, uuid.NewString()),
		"-w", DataMountPath,
	}

	if workingDir != "" {
		dockerArgs = append(dockerArgs, "-v", workingDir+":"+DataMountPath)
	}

	if f.network != "" {
		dockerArgs = append(dockerArgs, "--network", f.network)
	}

	dockerArgs = append(dockerArgs, f.extraArgs...)
	dockerArgs = append(dockerArgs, image)
	return append(dockerArgs, args...)
}
