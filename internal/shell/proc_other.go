//go:build !linux && !darwin

package shell

import "os/exec"

func startInGroup(cmd *exec.Cmd) {
	cmd.WaitDelay = waitDelay
}
