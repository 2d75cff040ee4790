package util

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemInfo holds information about the host system.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model"`
	CPUCores     int    `json:"cpu_cores"`
	TotalMemory  uint64 `json:"total_memory_mb"`
	Uptime       uint64 `json:"uptime_sec"`
}

// GetSystemInfo gathers system information. Fields that cannot be
// determined are left empty.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}

	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
		info.Uptime = hostInfo.Uptime
	} else {
		info.OS = runtime.GOOS
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024) // Convert to MB
	}

	return info
}

// ResourceUsage is a snapshot of this process and the host.
type ResourceUsage struct {
	HostCPUPercent    float64 `json:"host_cpu_percent"`
	HostMemoryPercent float64 `json:"host_memory_percent"`
	ProcessRSSMB      uint64  `json:"process_rss_mb"`
	Goroutines        int     `json:"goroutines"`
}

// GetResourceUsage samples current resource usage without blocking.
func GetResourceUsage() ResourceUsage {
	usage := ResourceUsage{Goroutines: runtime.NumGoroutine()}

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		usage.HostCPUPercent = percentages[0]
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		usage.HostMemoryPercent = memInfo.UsedPercent
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if m, err := p.MemoryInfo(); err == nil {
			usage.ProcessRSSMB = m.RSS / (1024 * 1024)
		}
	}
	return usage
}
