package metrics

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

var (
	childCPUPercent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "devsrv",
			Subsystem: "child",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the current inner process.",
		},
	)
	childMemoryMB = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "devsrv",
			Subsystem: "child",
			Name:      "memory_mb",
			Help:      "Resident memory of the current inner process in MB.",
		},
	)
	childNumThreads = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "devsrv",
			Subsystem: "child",
			Name:      "num_threads",
			Help:      "Number of threads of the current inner process.",
		},
	)
)

// ProcessSample holds CPU and memory figures for a single process.
type ProcessSample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// Sampler reads process statistics through gopsutil. CPU percentages need a
// previous observation of the same pid, so handles are cached per pid.
type Sampler struct {
	mu    sync.Mutex
	procs map[int32]*process.Process
	last  ProcessSample
}

func NewSampler() *Sampler {
	return &Sampler{procs: make(map[int32]*process.Process)}
}

// Sample collects a ProcessSample for pid. Handles for other pids are dropped,
// since only one child is alive at a time.
func (s *Sampler) Sample(pid int) (ProcessSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p32 := int32(pid) // #nosec G115 pids fit in int32
	proc, ok := s.procs[p32]
	if !ok {
		var err error
		proc, err = process.NewProcess(p32)
		if err != nil {
			return ProcessSample{}, fmt.Errorf("failed to create process handle: %w", err)
		}
		s.procs = map[int32]*process.Process{p32: proc}
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		slog.Debug("Failed to get CPU percent", "pid", pid, "error", err)
		cpuPercent = 0
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return ProcessSample{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	numThreads, err := proc.NumThreads()
	if err != nil {
		slog.Debug("Failed to get thread count", "pid", pid, "error", err)
		numThreads = 0
	}

	sample := ProcessSample{
		PID:        p32,
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		MemoryVMS:  memInfo.VMS,
		NumThreads: numThreads,
		Timestamp:  time.Now(),
	}
	if runtime.GOOS != "windows" {
		if numFDs, err := proc.NumFDs(); err == nil {
			sample.NumFDs = numFDs
		}
	}
	s.last = sample
	return sample, nil
}

// Last returns the most recent successful sample.
func (s *Sampler) Last() (ProcessSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.last.PID != 0
}

// RecordChild exports a sample through the child gauges.
func RecordChild(s ProcessSample) {
	if regOK.Load() {
		childCPUPercent.Set(s.CPUPercent)
		childMemoryMB.Set(s.MemoryMB)
		childNumThreads.Set(float64(s.NumThreads))
	}
}
