package collector

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rcourtman/healthdash/pkg/telemetry"
	gomem "github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
)

type processHandle interface {
	PercentWithContext(ctx context.Context, interval time.Duration) (float64, error)
	MemoryInfoWithContext(ctx context.Context) (*process.MemoryInfoStat, error)
}

// System call wrappers for testing
var (
	newProcess = func(ctx context.Context, pid int32) (processHandle, error) {
		return process.NewProcessWithContext(ctx, pid)
	}
	virtualMemory = gomem.VirtualMemoryWithContext
	readMemStats  = runtime.ReadMemStats
)

// ProcessReader reads CPU and memory for a process through gopsutil and the
// Go runtime. It implements both CPUReader and MemoryReader.
type ProcessReader struct {
	mu          sync.Mutex
	pid         int32
	handle      processHandle
	lastRSS     uint64
	systemTotal uint64
}

// NewProcessReader returns a reader bound to pid.
func NewProcessReader(pid int32) *ProcessReader {
	return &ProcessReader{pid: pid}
}

func (r *ProcessReader) processFor(ctx context.Context, pid int32) (processHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handle != nil && r.pid == pid {
		return r.handle, nil
	}
	h, err := newProcess(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("open process %d: %w", pid, err)
	}
	r.pid = pid
	r.handle = h
	return h, nil
}

// ReadCPU returns CPU utilisation of pid since the previous call. The first
// call for a process establishes the baseline and reports 0.
func (r *ProcessReader) ReadCPU(ctx context.Context, pid int32) (float64, error) {
	h, err := r.processFor(ctx, pid)
	if err != nil {
		return 0, err
	}
	percent, err := h.PercentWithContext(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("cpu percent: %w", err)
	}
	return percent, nil
}

// ReadMemory never fails: heap figures come from the runtime, RSS and system
// total fall back to the last good reading.
func (r *ProcessReader) ReadMemory(ctx context.Context) telemetry.Memory {
	var ms runtime.MemStats
	readMemStats(&ms)

	if h, err := r.processFor(ctx, r.currentPID()); err == nil {
		if info, err := h.MemoryInfoWithContext(ctx); err == nil && info != nil {
			r.mu.Lock()
			r.lastRSS = info.RSS
			r.mu.Unlock()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.systemTotal == 0 {
		if vm, err := virtualMemory(ctx); err == nil && vm != nil {
			r.systemTotal = vm.Total
		}
	}

	return telemetry.Memory{
		HeapUsed:    ms.HeapAlloc,
		HeapTotal:   ms.HeapSys,
		RSS:         r.lastRSS,
		SystemTotal: r.systemTotal,
	}
}

func (r *ProcessReader) currentPID() int32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pid
}
