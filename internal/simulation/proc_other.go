//go:build !unix

package simulation

import "os/exec"

func configureProcess(cmd *exec.Cmd) {}
