//go:build !windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

var (
	stopSignal = syscall.SIGTERM
	killSignal = syscall.SIGKILL
)

// detach starts the background server in its own session so it outlives the shell.
func detach(c *exec.Cmd) {
	c.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}
}
