package safety

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v4/process"
)

// ResourceLimits configures process-level ceilings. Zero disables a ceiling.
type ResourceLimits struct {
	MaxRSSBytes   uint64  `yaml:"max_rss_bytes" json:"max_rss_bytes"`
	MaxOpenFiles  int32   `yaml:"max_open_files" json:"max_open_files"`
	MaxCPUPercent float64 `yaml:"max_cpu_percent" json:"max_cpu_percent"`
}

// DefaultResourceLimits returns sensible defaults.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxRSSBytes:   1 << 30, // 1 GiB
		MaxOpenFiles:  512,
		MaxCPUPercent: 90,
	}
}

// Sampler reads a resource sample for the current process. It is an
// interface so tests can substitute synthetic samples.
type Sampler interface {
	Sample() (ResourceSample, error)
}

// ResourceSample is one point-in-time reading.
type ResourceSample struct {
	RSSBytes   uint64
	OpenFiles  int32
	CPUPercent float64
}

type processSampler struct {
	proc *process.Process
}

// NewProcessSampler samples the current process via gopsutil.
func NewProcessSampler() (Sampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open process handle: %w", err)
	}
	return &processSampler{proc: proc}, nil
}

func (s *processSampler) Sample() (ResourceSample, error) {
	var sample ResourceSample

	mem, err := s.proc.MemoryInfo()
	if err != nil {
		return sample, fmt.Errorf("sample memory: %w", err)
	}
	sample.RSSBytes = mem.RSS

	if fds, err := s.proc.NumFDs(); err == nil {
		sample.OpenFiles = fds
	}
	if cpu, err := s.proc.CPUPercent(); err == nil {
		sample.CPUPercent = cpu
	}

	return sample, nil
}

// ResourceChecker compares samples against ceilings. A breach is a softer
// failure than a rate breach: it recommends cleanup and does not trip the
// circuit breaker.
type ResourceChecker struct {
	limits  ResourceLimits
	sampler Sampler
}

// NewResourceChecker returns a checker over the given limits and sampler.
func NewResourceChecker(limits ResourceLimits, sampler Sampler) *ResourceChecker {
	return &ResourceChecker{limits: limits, sampler: sampler}
}

// Check samples the process and compares against the ceilings. A sampling
// error is not a safety violation; it is returned for logging and the status
// stays safe.
func (c *ResourceChecker) Check() (Status, error) {
	if c.sampler == nil {
		return OK(), nil
	}

	sample, err := c.sampler.Sample()
	if err != nil {
		return OK(), err
	}

	if c.limits.MaxRSSBytes > 0 && sample.RSSBytes > c.limits.MaxRSSBytes {
		return Status{
			Safe:              false,
			Reason:            fmt.Sprintf("memory %d bytes exceeds ceiling %d", sample.RSSBytes, c.limits.MaxRSSBytes),
			RecommendedAction: ActionCleanup,
			Severity:          SeverityWarning,
		}, nil
	}
	if c.limits.MaxOpenFiles > 0 && sample.OpenFiles > c.limits.MaxOpenFiles {
		return Status{
			Safe:              false,
			Reason:            fmt.Sprintf("%d open handles exceeds ceiling %d", sample.OpenFiles, c.limits.MaxOpenFiles),
			RecommendedAction: ActionCleanup,
			Severity:          SeverityWarning,
		}, nil
	}
	if c.limits.MaxCPUPercent > 0 && sample.CPUPercent > c.limits.MaxCPUPercent {
		return Status{
			Safe:              false,
			Reason:            fmt.Sprintf("CPU %.1f%% exceeds ceiling %.1f%%", sample.CPUPercent, c.limits.MaxCPUPercent),
			RecommendedAction: ActionCleanup,
			Severity:          SeverityWarning,
		}, nil
	}

	return OK(), nil
}
