//go:build !unix

package worker

import "os/exec"

func setProcessGroup(*exec.Cmd) {}

func interruptGroup(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func killGroup(*exec.Cmd) {}
