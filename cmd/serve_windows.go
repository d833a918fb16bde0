//go:build windows

package cmd

import (
	"os"
	"os/exec"
	"syscall"
)

// Windows has no SIGTERM delivery; both stop paths end up as a kill.
var (
	stopSignal = syscall.SIGKILL
	killSignal = syscall.SIGKILL
)

func detach(_ *exec.Cmd) {}

func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
