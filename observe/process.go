package observe

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/procfs"
)

// Memory segments reported by the process memory gauge.
const (
	SegmentHeapUsed  = "heap_used"
	SegmentHeapTotal = "heap_total"
	SegmentRSS       = "rss"
	SegmentExternal  = "external"
)

// MemorySource reports process memory in bytes keyed by segment.
type MemorySource func() map[string]int64

// ReadProcessMemory reports Go heap usage from the runtime and the resident
// set size from /proc. The rss segment is omitted where /proc is unavailable.
// external is memory obtained from the OS outside the Go heap.
func ReadProcessMemory() map[string]int64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	out := map[string]int64{
		SegmentHeapUsed:  int64(ms.HeapAlloc),
		SegmentHeapTotal: int64(ms.HeapSys),
		SegmentExternal:  int64(ms.Sys - ms.HeapSys),
	}
	if p, err := procfs.Self(); err == nil {
		if stat, err := p.Stat(); err == nil {
			out[SegmentRSS] = int64(stat.ResidentMemory())
		}
	}
	return out
}

// CPUSource reports cumulative process CPU time in seconds.
type CPUSource func() (float64, error)

// ProcessCPUSeconds reads cumulative user+system CPU time from /proc.
func ProcessCPUSeconds() (float64, error) {
	p, err := procfs.Self()
	if err != nil {
		return 0, err
	}
	stat, err := p.Stat()
	if err != nil {
		return 0, err
	}
	return stat.CPUTime(), nil
}

// CPUSampler computes process CPU utilization between successive samples.
//
// Each Sample divides the CPU time consumed since the previous sample by the
// wall time elapsed since it, as a percentage clamped to [0, 100], and then
// stores the new (usage, time) pair as the next baseline. The read of the
// baseline and its replacement happen under one lock, so concurrent scrapes
// never interleave.
//
// The first sample and any sample with a non-positive interval report 0.
type CPUSampler struct {
	source CPUSource
	now    func() time.Time

	mu        sync.Mutex
	lastUsage float64
	lastTime  time.Time
	primed    bool
}

// CPUSamplerOption configures NewCPUSampler.
type CPUSamplerOption func(*CPUSampler)

// WithCPUSource replaces the CPU time source. Default: ProcessCPUSeconds.
func WithCPUSource(src CPUSource) CPUSamplerOption {
	return func(s *CPUSampler) { s.source = src }
}

// WithClock replaces the wall clock. Default: time.Now.
func WithClock(now func() time.Time) CPUSamplerOption {
	return func(s *CPUSampler) { s.now = now }
}

// NewCPUSampler creates a sampler with no baseline.
func NewCPUSampler(opts ...CPUSamplerOption) *CPUSampler {
	s := &CPUSampler{source: ProcessCPUSeconds, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sample returns the CPU percentage since the previous sample. A failing
// source reports 0 and keeps the previous baseline.
func (s *CPUSampler) Sample() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	usage, err := s.source()
	if err != nil {
		return 0
	}
	now := s.now()

	prevUsage, prevTime, primed := s.lastUsage, s.lastTime, s.primed
	s.lastUsage, s.lastTime, s.primed = usage, now, true
	if !primed {
		return 0
	}

	wall := now.Sub(prevTime).Seconds()
	if wall <= 0 {
		return 0
	}
	pct := (usage - prevUsage) / wall * 100
	return min(max(pct, 0), 100)
}
