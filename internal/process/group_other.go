// Copyright Mia srl
// SPDX-License-Identifier: AGPL-3.0-only or Commercial

//go:build !unix

package process

import (
	"os"
	"os/exec"
)

func setProcessGroup(*exec.Cmd) {}

func terminateGroup(process *os.Process) error {
	return process.Signal(os.Interrupt)
}

func killGroup(process *os.Process) error {
	return process.Kill()
}

func signaledExitCode(*os.ProcessState) (int, bool) {
	return 0, false
}
