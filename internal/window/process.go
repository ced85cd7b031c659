package window

import (
	"context"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessChecker reports whether the process owning a window is alive
type ProcessChecker interface {
	Running(ctx context.Context, pid int) bool
}

// ProcessCheckerFunc adapts a function to ProcessChecker
type ProcessCheckerFunc func(ctx context.Context, pid int) bool

func (f ProcessCheckerFunc) Running(ctx context.Context, pid int) bool { return f(ctx, pid) }

// SystemProcesses checks liveness against the process table
type SystemProcesses struct{}

// Running treats an unknown PID (0) or a failed lookup as alive so that
// windows without _NET_WM_PID stay resolvable
func (SystemProcesses) Running(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return true
	}
	ok, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		return true
	}
	return ok
}
