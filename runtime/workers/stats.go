package workers

import (
	"context"
	"log/slog"
	"os"
	"time"

	"chat-relay/observability"

	"github.com/shirou/gopsutil/process"
)

// RoomCounter is the part of the gateway the stats worker reads.
type RoomCounter interface {
	Stats() (rooms int, connections int)
}

// StatsWorker samples the gateway and the process itself at a fixed interval
// and publishes the result to the monitoring manager.
type StatsWorker struct {
	log        *slog.Logger
	gateway    RoomCounter
	monitoring *observability.MonitoringManager
	interval   time.Duration
}

func NewStatsWorker(log *slog.Logger, gateway RoomCounter,
	monitoring *observability.MonitoringManager, interval time.Duration) *StatsWorker {
	return &StatsWorker{log: log, gateway: gateway, monitoring: monitoring, interval: interval}
}

func (w *StatsWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}

	w.publish(p)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping stats worker")
			return nil
		case <-ticker.C:
			w.publish(p)
		}
	}
}

func (w *StatsWorker) publish(p *process.Process) {
	stats, err := getSelfStats(p)
	if err != nil {
		w.log.Error("Failed to collect self stats", "error", err)
	}
	rooms, connections := w.gateway.Stats()
	w.monitoring.Update(rooms, connections, stats)
}

// getSelfStats retrieves memory, CPU and OS status of the relay process.
func getSelfStats(p *process.Process) (observability.ProcessStats, error) {
	stats := observability.ProcessStats{Pid: p.Pid}

	memInfo, err := p.MemoryInfo()
	if err != nil {
		return stats, err
	}
	stats.RamBytes = memInfo.RSS

	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return stats, err
	}
	stats.CpuPercent = cpuPercent

	status, err := p.Status()
	if err != nil {
		return stats, err
	}
	stats.Status = status
	return stats, nil
}
