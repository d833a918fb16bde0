//go:build windows

package daemon

import (
	"fmt"
	"os"
	"syscall"
)

func (p *PIDFile) process() (*os.Process, int, error) {
	pid, err := p.Read()
	if err != nil {
		return nil, 0, err
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil, pid, fmt.Errorf("find process %d: %w", pid, err)
	}
	return proc, pid, nil
}

// IsRunning reports the recorded PID and whether that process is alive.
func (p *PIDFile) IsRunning() (int, bool) {
	proc, pid, err := p.process()
	if err != nil {
		return pid, false
	}
	// FindProcess opens a handle on Windows, so check it.
	return pid, proc.Signal(syscall.Signal(0)) == nil
}

// Signal sends sig to the recorded process. Only a kill is reliable on Windows.
func (p *PIDFile) Signal(sig syscall.Signal) error {
	proc, pid, err := p.process()
	if err != nil {
		if pid == 0 {
			return fmt.Errorf("read PID file: %w", err)
		}
		return err
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}
	return nil
}
