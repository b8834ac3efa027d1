package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ResourceUsage is one sample of the pool's resource consumption.
type ResourceUsage struct {
	Processes  int
	RSSBytes   uint64
	CPUPercent float64 // 100 = one core

	HostMemoryUsedPercent float64
	HostCPUs              int

	SampledAt time.Time
}

// ResourceSampler samples RSS and CPU time of the worker processes.
type ResourceSampler struct {
	pids     func() []int
	interval time.Duration
	logger   *slog.Logger
	onSample func(ResourceUsage)

	mu       sync.Mutex
	last     ResourceUsage
	cpuTimes map[int32]float64 // pid -> user+system seconds at the last sample
	lastAt   time.Time
	hostCPUs int
}

// NewResourceSampler creates a sampler over the pids returned by pids.
func NewResourceSampler(pids func() []int, interval time.Duration, logger *slog.Logger, onSample func(ResourceUsage)) *ResourceSampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	hostCPUs, err := cpu.Counts(true)
	if err != nil {
		hostCPUs = 0
	}
	return &ResourceSampler{
		pids:     pids,
		interval: interval,
		logger:   logger,
		onSample: onSample,
		cpuTimes: make(map[int32]float64),
		hostCPUs: hostCPUs,
	}
}

// Run samples on the configured interval until ctx is cancelled.
func (s *ResourceSampler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			u := s.Sample(ctx)
			if s.onSample != nil {
				s.onSample(u)
			}
		}
	}
}

// Sample takes one sample. Processes that vanish mid-sample are skipped.
// CPU percent covers the time since the previous sample; the first sample
// of a process contributes no CPU.
func (s *ResourceSampler) Sample(ctx context.Context) ResourceUsage {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	u := ResourceUsage{SampledAt: now, HostCPUs: s.hostCPUs}

	var cpuDelta float64
	seen := make(map[int32]float64)
	for _, pid := range s.pids() {
		p, err := process.NewProcessWithContext(ctx, int32(pid))
		if err != nil {
			continue
		}
		memInfo, err := p.MemoryInfoWithContext(ctx)
		if err != nil {
			continue
		}
		u.Processes++
		u.RSSBytes += memInfo.RSS

		times, err := p.TimesWithContext(ctx)
		if err != nil {
			continue
		}
		total := times.User + times.System
		seen[p.Pid] = total
		if prev, ok := s.cpuTimes[p.Pid]; ok && total >= prev {
			cpuDelta += total - prev
		}
	}

	if !s.lastAt.IsZero() {
		if wall := now.Sub(s.lastAt).Seconds(); wall > 0 {
			u.CPUPercent = cpuDelta / wall * 100
		}
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		u.HostMemoryUsedPercent = vm.UsedPercent
	} else if s.logger != nil {
		s.logger.Debug("host_memory_unavailable", "error", err)
	}

	s.cpuTimes = seen
	s.lastAt = now
	s.last = u
	return u
}

// Last returns the most recent sample.
func (s *ResourceSampler) Last() ResourceUsage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
