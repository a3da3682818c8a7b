package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	gopsutilNet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

const (
	snapshotCacheTTL = 2 * time.Second
	netSampleWindow  = 6 * time.Second
	netSampleMax     = 10
	processLimit     = 20
)

// Service samples host metrics for the status endpoint. Samples are cached
// briefly so a polling client does not hammer gopsutil.
type Service struct {
	log *slog.Logger

	mu      sync.Mutex
	hasSnap bool
	snap    snapshot

	netWindow *rateWindow
}

func NewService(log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		log:       log,
		netWindow: newRateWindow(netSampleMax, netSampleWindow),
	}
}

// Status is the wire shape of one host snapshot.
type Status struct {
	CPUUsagePercent float64   `json:"cpuUsagePercent"`
	CPUCores        int       `json:"cpuCores"`
	LoadAverage     []float64 `json:"loadAverage,omitempty"`

	MemoryTotalBytes uint64  `json:"memoryTotalBytes"`
	MemoryUsedBytes  uint64  `json:"memoryUsedBytes"`
	MemoryPercent    float64 `json:"memoryPercent"`

	NetworkBytesReceived   uint64  `json:"networkBytesReceived"`
	NetworkBytesSent       uint64  `json:"networkBytesSent"`
	NetworkRecvBytesPerSec float64 `json:"networkRecvBytesPerSec"`
	NetworkSentBytesPerSec float64 `json:"networkSentBytesPerSec"`

	Platform string `json:"platform"`

	Processes   []ProcessInfo `json:"processes"`
	TimestampMs int64         `json:"timestampMs"`
}

type ProcessInfo struct {
	PID         int32   `json:"pid"`
	Name        string  `json:"name"`
	CPUPercent  float64 `json:"cpuPercent"`
	MemoryBytes uint64  `json:"memoryBytes"`
	Username    string  `json:"username"`
}

type snapshot struct {
	collectedAt time.Time
	data        Status
	procMetrics []procSample
}

type procSample struct {
	pid         int32
	name        string
	cpuPercent  float64
	memoryBytes uint64
	username    string
}

// Snapshot returns the current host status with the top processes ordered
// by sortBy ("cpu" or "memory").
func (s *Service) Snapshot(ctx context.Context, sortBy string) Status {
	if s == nil {
		return Status{}
	}
	snap := s.cachedSnapshot(ctx)
	out := snap.data
	out.Processes = topProcesses(snap.procMetrics, sortBy, processLimit)
	return out
}

func (s *Service) cachedSnapshot(ctx context.Context) snapshot {
	now := time.Now()

	s.mu.Lock()
	if s.hasSnap && now.Sub(s.snap.collectedAt) < snapshotCacheTTL {
		out := s.snap
		s.mu.Unlock()
		return out
	}
	s.mu.Unlock()

	snap := s.collect(ctx)

	s.mu.Lock()
	s.snap = snap
	s.hasSnap = true
	s.mu.Unlock()

	return snap
}

func (s *Service) collect(ctx context.Context) snapshot {
	collectedAt := time.Now()

	data := Status{
		Platform: runtime.GOOS,
	}

	// CPU usage: prefer non-blocking sampling (diff from last call); fall
	// back to a short blocking interval on the first call.
	if usage, err := readCPUUsage(ctx); err == nil {
		data.CPUUsagePercent = usage
	} else {
		s.log.Warn("monitor: get cpu percent failed", "error", err)
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		data.CPUCores = cores
	} else {
		s.log.Warn("monitor: get cpu cores failed", "error", err)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		data.LoadAverage = []float64{avg.Load1, avg.Load5, avg.Load15}
	} else if err != nil {
		s.log.Warn("monitor: get load average failed", "error", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		data.MemoryTotalBytes = vm.Total
		data.MemoryUsedBytes = vm.Used
		data.MemoryPercent = vm.UsedPercent
	} else if err != nil {
		s.log.Warn("monitor: get memory failed", "error", err)
	}

	if ioStats, err := gopsutilNet.IOCountersWithContext(ctx, false); err == nil && len(ioStats) > 0 {
		data.NetworkBytesReceived = ioStats[0].BytesRecv
		data.NetworkBytesSent = ioStats[0].BytesSent

		s.netWindow.Add(netSample{
			bytesReceived: ioStats[0].BytesRecv,
			bytesSent:     ioStats[0].BytesSent,
			at:            collectedAt,
		})

		recvRate, sentRate := s.netWindow.Rates(collectedAt)
		data.NetworkRecvBytesPerSec = recvRate
		data.NetworkSentBytesPerSec = sentRate
	} else if err != nil {
		s.log.Warn("monitor: get network io failed", "error", err)
	}

	procMetrics, err := collectProcesses(ctx)
	if err != nil {
		s.log.Warn("monitor: get process list failed", "error", err)
		procMetrics = nil
	}

	data.TimestampMs = collectedAt.UnixMilli()

	return snapshot{
		collectedAt: collectedAt,
		data:        data,
		procMetrics: procMetrics,
	}
}

func readCPUUsage(ctx context.Context) (float64, error) {
	var errs []error

	if p, err := cpu.PercentWithContext(ctx, 0, true); err == nil && len(p) > 0 {
		return average(p), nil
	} else if err != nil {
		errs = append(errs, err)
	}
	if p, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(p) > 0 {
		return p[0], nil
	} else if err != nil {
		errs = append(errs, err)
	}

	// First ever call has no prior sample to diff against.
	if p, err := cpu.PercentWithContext(ctx, 250*time.Millisecond, true); err == nil && len(p) > 0 {
		return average(p), nil
	} else if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return 0, fmt.Errorf("cpu percent unavailable")
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func collectProcesses(ctx context.Context) ([]procSample, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]procSample, 0, len(procs))
	for _, p := range procs {
		if p == nil {
			continue
		}

		name, err := p.NameWithContext(ctx)
		if err != nil || strings.TrimSpace(name) == "" {
			// Some system processes refuse name lookup; keep a readable fallback.
			name = fmt.Sprintf("[%d]", p.Pid)
		}

		cpuPercent, err := p.CPUPercentWithContext(ctx)
		if err != nil {
			cpuPercent = 0
		}

		var memBytes uint64
		if memInfo, err := p.MemoryInfoWithContext(ctx); err == nil && memInfo != nil {
			memBytes = memInfo.RSS
		}

		username, err := p.UsernameWithContext(ctx)
		if err != nil || strings.TrimSpace(username) == "" {
			username = "system"
		}

		out = append(out, procSample{
			pid:         p.Pid,
			name:        name,
			cpuPercent:  cpuPercent,
			memoryBytes: memBytes,
			username:    username,
		})
	}

	return out, nil
}

func normalizeSortBy(sortBy string) string {
	switch strings.ToLower(strings.TrimSpace(sortBy)) {
	case "memory":
		return "memory"
	default:
		return "cpu"
	}
}

func topProcesses(metrics []procSample, sortBy string, limit int) []ProcessInfo {
	if len(metrics) == 0 || limit <= 0 {
		return []ProcessInfo{}
	}

	sortBy = normalizeSortBy(sortBy)
	copied := make([]procSample, len(metrics))
	copy(copied, metrics)

	sort.Slice(copied, func(i, j int) bool {
		if sortBy == "memory" {
			return copied[i].memoryBytes > copied[j].memoryBytes
		}
		return copied[i].cpuPercent > copied[j].cpuPercent
	})

	if len(copied) > limit {
		copied = copied[:limit]
	}

	out := make([]ProcessInfo, 0, len(copied))
	for _, p := range copied {
		name := strings.TrimSpace(p.name)
		if name == "" {
			name = fmt.Sprintf("[%d]", p.pid)
		}

		out = append(out, ProcessInfo{
			PID:         p.pid,
			Name:        name,
			CPUPercent:  p.cpuPercent,
			MemoryBytes: p.memoryBytes,
			Username:    p.username,
		})
	}
	return out
}
