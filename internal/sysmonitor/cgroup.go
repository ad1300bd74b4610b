package sysmonitor

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// cgroupCPU samples cumulative CPU time from the cgroup this process runs
// under, preferring cgroup v2. Detection happens once at construction;
// deltaSeconds is the only thing called on a ticking interval afterward.
type cgroupCPU struct {
	path          string
	version       int // 1 or 2
	quota, period int64
	lastUsec      uint64
}

func detectCgroupCPU() (*cgroupCPU, error) {
	path, version, err := detectCgroupPath()
	if err != nil {
		return nil, err
	}
	quota, period, err := readCPUQuota(path, version)
	if err != nil {
		return nil, err
	}
	usage, err := readCPUUsageUsec(path, version)
	if err != nil {
		return nil, err
	}
	return &cgroupCPU{path: path, version: version, quota: quota, period: period, lastUsec: usage}, nil
}

// allocatedCPUs returns the number of CPUs this cgroup is entitled to, or
// 0 if no quota is set (caller should fall back to runtime.NumCPU()).
func (c *cgroupCPU) allocatedCPUs() float64 {
	if c.quota <= 0 || c.period <= 0 {
		return 0
	}
	return float64(c.quota) / float64(c.period)
}

// deltaSeconds returns the CPU-seconds consumed since the previous call.
func (c *cgroupCPU) deltaSeconds() (float64, error) {
	usage, err := readCPUUsageUsec(c.path, c.version)
	if err != nil {
		return 0, err
	}
	delta := usage - c.lastUsec
	c.lastUsec = usage
	return float64(delta) / 1e6, nil
}

func detectCgroupPath() (path string, version int, err error) {
	file, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return "", 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), ":")
		if len(parts) != 3 {
			continue
		}
		if parts[0] == "0" && parts[1] == "" {
			return "/sys/fs/cgroup" + parts[2], 2, nil
		}
		if strings.Contains(parts[1], "cpu") {
			return "/sys/fs/cgroup/cpu" + parts[2], 1, nil
		}
	}
	return "", 0, fmt.Errorf("sysmonitor: could not detect cgroup path")
}

func readCPUQuota(path string, version int) (quota, period int64, err error) {
	if version == 2 {
		data, err := os.ReadFile(path + "/cpu.max")
		if err != nil {
			return 0, 0, err
		}
		fields := strings.Fields(string(data))
		if len(fields) != 2 {
			return 0, 0, fmt.Errorf("sysmonitor: unexpected cpu.max format %q", data)
		}
		if fields[0] == "max" {
			return 0, 0, nil
		}
		quota, err = strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		period, err = strconv.ParseInt(fields[1], 10, 64)
		return quota, period, err
	}

	quotaData, err := os.ReadFile(path + "/cpu.cfs_quota_us")
	if err != nil {
		return 0, 0, err
	}
	periodData, err := os.ReadFile(path + "/cpu.cfs_period_us")
	if err != nil {
		return 0, 0, err
	}
	quota, err = strconv.ParseInt(strings.TrimSpace(string(quotaData)), 10, 64)
	if err != nil {
		return 0, 0, err
	}
	period, err = strconv.ParseInt(strings.TrimSpace(string(periodData)), 10, 64)
	if err != nil {
		return 0, 0, err
	}
	if quota < 0 {
		quota, period = 0, 0
	}
	return quota, period, nil
}

func readCPUUsageUsec(path string, version int) (uint64, error) {
	if version == 2 {
		file, err := os.Open(path + "/cpu.stat")
		if err != nil {
			return 0, err
		}
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			fields := strings.Fields(scanner.Text())
			if len(fields) == 2 && fields[0] == "usage_usec" {
				return strconv.ParseUint(fields[1], 10, 64)
			}
		}
		return 0, fmt.Errorf("sysmonitor: usage_usec not found in cpu.stat")
	}

	data, err := os.ReadFile(path + "/cpuacct.usage")
	if err != nil {
		return 0, err
	}
	nsec, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, err
	}
	return nsec / 1000, nil
}
