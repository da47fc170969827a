// Package metrics logs host resource usage while long stages run.
package metrics

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Snapshot holds one sample of system and process usage
type Snapshot struct {
	Stage          string
	CPUPercent     float64 // system-wide, 0-100
	ProcCPUPercent float64 // this process, may exceed 100 on multi-core
	ProcRSSMB      float64
	IOWaitPercent  float64
	MemoryUsedGB   float64
	MemoryPercent  float64
	DiskReadMBps   float64
	DiskWriteMBps  float64
	PeakProcRSSMB  float64
	Timestamp      time.Time
}

// Collector samples system metrics on an interval and logs them tagged with
// the current pipeline stage
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process

	lastDisk     map[string]disk.IOCountersStat
	lastDiskTime time.Time
	lastCPU      cpu.TimesStat
	hasCPU       bool

	mu      sync.RWMutex
	stage   string
	last    *Snapshot
	peakRSS float64
}

// NewCollector creates a collector. Intervals under a second fall back to 30s.
func NewCollector(interval time.Duration, logger *zap.Logger) *Collector {
	if interval < time.Second {
		interval = 30 * time.Second
	}
	proc, _ := process.NewProcess(int32(os.Getpid()))
	return &Collector{
		interval: interval,
		logger:   logger,
		proc:     proc,
	}
}

// SetStage names the stage subsequent samples are attributed to
func (c *Collector) SetStage(stage string) {
	c.mu.Lock()
	c.stage = stage
	c.mu.Unlock()
}

// Run samples until ctx is cancelled. It always returns nil so it can run
// inside an errgroup next to the work it observes.
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// first sample sets the disk and CPU baselines
	c.Collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return nil
		case <-ticker.C:
			c.log(c.Collect())
		}
	}
}

// Last returns the most recent sample, nil before the first one
func (c *Collector) Last() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// PeakRSSMB returns the largest resident set size seen so far
func (c *Collector) PeakRSSMB() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peakRSS
}

// Collect takes one sample and records it
func (c *Collector) Collect() *Snapshot {
	s := &Snapshot{Timestamp: time.Now()}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.CPUPercent = pct[0]
	}
	if c.proc != nil {
		if pct, err := c.proc.Percent(0); err == nil {
			s.ProcCPUPercent = pct
		}
		if mi, err := c.proc.MemoryInfo(); err == nil && mi != nil {
			s.ProcRSSMB = float64(mi.RSS) / (1024 * 1024)
		}
	}
	s.IOWaitPercent = c.ioWait()

	if vm, err := mem.VirtualMemory(); err == nil {
		s.MemoryPercent = vm.UsedPercent
		s.MemoryUsedGB = float64(vm.Used) / (1024 * 1024 * 1024)
	}
	s.DiskReadMBps, s.DiskWriteMBps = c.diskRates()

	c.mu.Lock()
	s.Stage = c.stage
	if s.ProcRSSMB > c.peakRSS {
		c.peakRSS = s.ProcRSSMB
	}
	s.PeakProcRSSMB = c.peakRSS
	c.last = s
	c.mu.Unlock()

	return s
}

func (c *Collector) log(s *Snapshot) {
	c.logger.Info("System metrics",
		zap.String("stage", s.Stage),
		zap.Float64("sys_cpu", round1(s.CPUPercent)),
		zap.Float64("proc_cpu", round1(s.ProcCPUPercent)),
		zap.String("proc_rss", formatFloat(s.ProcRSSMB)+" MB"),
		zap.Float64("iowait", round1(s.IOWaitPercent)),
		zap.Float64("mem_pct", round1(s.MemoryPercent)),
		zap.String("mem_used", formatFloat(s.MemoryUsedGB)+" GB"),
		zap.String("disk_r", formatFloat(s.DiskReadMBps)+" MB/s"),
		zap.String("disk_w", formatFloat(s.DiskWriteMBps)+" MB/s"),
	)
}

func (c *Collector) ioWait() float64 {
	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		return 0
	}
	cur := times[0]
	if !c.hasCPU {
		c.lastCPU = cur
		c.hasCPU = true
		return 0
	}

	last := c.lastCPU
	total := (cur.User - last.User) +
		(cur.System - last.System) +
		(cur.Idle - last.Idle) +
		(cur.Iowait - last.Iowait) +
		(cur.Irq - last.Irq) +
		(cur.Softirq - last.Softirq) +
		(cur.Steal - last.Steal)
	wait := cur.Iowait - last.Iowait
	c.lastCPU = cur

	if total <= 0 {
		return 0
	}
	return wait / total * 100
}

func (c *Collector) diskRates() (readMBps, writeMBps float64) {
	counters, err := disk.IOCounters()
	if err != nil {
		return 0, 0
	}
	now := time.Now()

	if c.lastDisk == nil {
		c.lastDisk = counters
		c.lastDiskTime = now
		return 0, 0
	}

	elapsed := now.Sub(c.lastDiskTime).Seconds()
	if elapsed < 0.1 {
		return 0, 0
	}

	var read, written uint64
	for name, cur := range counters {
		last, ok := c.lastDisk[name]
		if !ok {
			continue
		}
		// counters wrap
		if cur.ReadBytes >= last.ReadBytes {
			read += cur.ReadBytes - last.ReadBytes
		}
		if cur.WriteBytes >= last.WriteBytes {
			written += cur.WriteBytes - last.WriteBytes
		}
	}
	c.lastDisk = counters
	c.lastDiskTime = now

	return float64(read) / elapsed / (1024 * 1024), float64(written) / elapsed / (1024 * 1024)
}

func round1(f float64) float64 {
	return float64(int64(f*10+0.5)) / 10
}

// formatFloat formats with one decimal place, clamping tiny and negative values to 0.0
func formatFloat(f float64) string {
	if f < 0.05 {
		return "0.0"
	}
	return strconv.FormatFloat(f, 'f', 1, 64)
}
