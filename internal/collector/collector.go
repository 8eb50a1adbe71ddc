// Package collector assembles one telemetry sample per call from the
// scheduler probe, memory and CPU readings.
package collector

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"time"

	internalerrors "github.com/rcourtman/healthdash/internal/errors"
	"github.com/rcourtman/healthdash/internal/eventloop"
	"github.com/rcourtman/healthdash/pkg/telemetry"
)

// LoopReader provides scheduler latency with reset-on-read semantics.
type LoopReader interface {
	ReadAndReset() eventloop.Reading
}

// CPUReader reads CPU utilisation for a process. Implementations may block.
type CPUReader interface {
	ReadCPU(ctx context.Context, pid int32) (float64, error)
}

// MemoryReader reads memory usage. It is assumed not to fail.
type MemoryReader interface {
	ReadMemory(ctx context.Context) telemetry.Memory
}

var errNonFiniteCPU = errors.New("non-finite cpu utilization")

// Collector produces samples. At most one CPU read is outstanding at a time.
type Collector struct {
	loop LoopReader
	mem  MemoryReader
	cpu  CPUReader
	pid  int32
	now  func() time.Time

	inFlight atomic.Bool
}

// New creates a Collector for pid.
func New(loop LoopReader, mem MemoryReader, cpu CPUReader, pid int32) *Collector {
	return &Collector{
		loop: loop,
		mem:  mem,
		cpu:  cpu,
		pid:  pid,
		now:  time.Now,
	}
}

// Collect reads memory, then CPU, and on success drains the loop monitor
// into a new sample. A failed CPU read returns a collection error and leaves
// the loop monitor untouched.
func (c *Collector) Collect(ctx context.Context) (telemetry.Sample, error) {
	mem := c.mem.ReadMemory(ctx)

	utilization, err := c.cpu.ReadCPU(ctx, c.pid)
	if err != nil {
		return telemetry.Sample{}, internalerrors.WrapCollectionError("read_cpu", err)
	}
	if math.IsNaN(utilization) || math.IsInf(utilization, 0) {
		return telemetry.Sample{}, internalerrors.WrapCollectionError("read_cpu", errNonFiniteCPU)
	}

	loop := c.loop.ReadAndReset()

	return telemetry.Sample{
		Timestamp: c.now().UTC(),
		EventLoop: telemetry.EventLoop{
			Delay: eventloop.Millis(loop.Delay),
			High:  eventloop.Millis(loop.High),
		},
		Mem: mem,
		CPU: telemetry.CPU{Utilization: utilization},
	}, nil
}

// CollectAsync starts a collection on its own goroutine and returns true, or
// returns false without doing anything when the previous collection has not
// resolved yet. done is called exactly once per started collection, before
// the next collection may start.
func (c *Collector) CollectAsync(ctx context.Context, done func(telemetry.Sample, error)) bool {
	if !c.inFlight.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer c.inFlight.Store(false)
		sample, err := c.Collect(ctx)
		done(sample, err)
	}()
	return true
}

// Busy reports whether a collection is outstanding.
func (c *Collector) Busy() bool {
	return c.inFlight.Load()
}
