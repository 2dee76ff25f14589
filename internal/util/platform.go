package util

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemInfo holds information about the host system.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model"`
	CPUThreads   int    `json:"cpu_threads"`
	TotalMemory  uint64 `json:"total_memory_mb"`
	GoVersion    string `json:"go_version"`
}

// GetSystemInfo gathers system information. Fields gopsutil cannot read
// stay empty.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUThreads:   runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if hostInfo, err := host.Info(); err == nil && hostInfo.Platform != "" {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}

	return info
}

// ResourceUsage is a point-in-time view of host load.
type ResourceUsage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
	DiskFreeGB    uint64  `json:"disk_free_gb"`
	DiskPercent   float64 `json:"disk_percent"`
}

// GetResourceUsage samples cpu, memory and the disk holding path. A probe
// that fails leaves its fields at zero; the first error is returned.
func GetResourceUsage(path string) (ResourceUsage, error) {
	var (
		usage    ResourceUsage
		firstErr error
	)
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	if pct, err := cpu.Percent(0, false); err != nil {
		keep(fmt.Errorf("cpu usage: %w", err))
	} else if len(pct) > 0 {
		usage.CPUPercent = pct[0]
	}

	if m, err := mem.VirtualMemory(); err != nil {
		keep(fmt.Errorf("memory usage: %w", err))
	} else {
		usage.MemoryPercent = m.UsedPercent
		usage.MemoryUsedMB = m.Used / (1024 * 1024)
	}

	if path != "" {
		if d, err := disk.Usage(path); err != nil {
			keep(fmt.Errorf("disk usage of %s: %w", path, err))
		} else {
			usage.DiskFreeGB = d.Free / (1024 * 1024 * 1024)
			usage.DiskPercent = d.UsedPercent
		}
	}

	return usage, firstErr
}

// FileExists checks if a file or directory exists at the given path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// EnsureDir creates a directory and all parent directories if they don't exist.
func EnsureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	return os.MkdirAll(path, 0755)
}
