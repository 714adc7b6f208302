package memorypatch

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// HostExecutable returns the path of the executable running this code
func HostExecutable() (string, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return "", fmt.Errorf("failed to open host process: %w", err)
	}

	exe, err := proc.Exe()
	if err != nil {
		return "", fmt.Errorf("failed to resolve host executable: %w", err)
	}
	return exe, nil
}
