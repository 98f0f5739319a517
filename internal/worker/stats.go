package worker

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// processRSS returns the resident set size of pid in bytes.
func processRSS(ctx context.Context, pid int) (uint64, error) {
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid %d", pid)
	}
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return 0, err
	}
	mi, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return mi.RSS, nil
}
