package observability

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// MonitoringStats is what /debug/stats returns.
type MonitoringStats struct {
	// --- GATEWAY METRICS ---
	Rooms           int    `json:"rooms"`
	Connections     int    `json:"connections"`
	Joins           uint64 `json:"joins"`
	Leaves          uint64 `json:"leaves"`
	Broadcasts      uint64 `json:"broadcasts"`
	Delivered       uint64 `json:"delivered"`
	Dropped         uint64 `json:"dropped"`
	RejectedInbound uint64 `json:"rejected_inbound"`

	// --- PROCESS METRICS ---
	Pid        int32   `json:"pid"`
	PidStatus  string  `json:"pid_status"`
	RamBytes   uint64  `json:"ram_bytes"`
	CpuPercent float64 `json:"cpu_percent"`

	// --- SYSTEM METRICS ---
	AllocMemMb uint64    `json:"alloc_mem_mb"`
	NumGC      uint32    `json:"num_gc"`
	Goroutines int       `json:"goroutines"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProcessStats is one sample of the relay process itself.
type ProcessStats struct {
	Pid        int32
	Status     string
	RamBytes   uint64
	CpuPercent float64
}

// MonitoringManager collects live counters. Increments are lock free, the
// snapshot is refreshed by the stats worker.
type MonitoringManager struct {
	log         *slog.Logger
	mu          sync.RWMutex
	latestStats MonitoringStats

	joins           uint64
	leaves          uint64
	broadcasts      uint64
	delivered       uint64
	dropped         uint64
	rejectedInbound uint64
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	return &MonitoringManager{log: log}
}

func (mm *MonitoringManager) IncrJoins()      { atomic.AddUint64(&mm.joins, 1) }
func (mm *MonitoringManager) IncrLeaves()     { atomic.AddUint64(&mm.leaves, 1) }
func (mm *MonitoringManager) IncrBroadcasts() { atomic.AddUint64(&mm.broadcasts, 1) }
func (mm *MonitoringManager) IncrRejected()   { atomic.AddUint64(&mm.rejectedInbound, 1) }

func (mm *MonitoringManager) AddDelivered(n int) {
	atomic.AddUint64(&mm.delivered, uint64(n))
}

func (mm *MonitoringManager) AddDropped(n int) {
	atomic.AddUint64(&mm.dropped, uint64(n))
}

// Update refreshes the snapshot with the gateway sizes and a process sample.
func (mm *MonitoringManager) Update(rooms, connections int, process ProcessStats) MonitoringStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.latestStats = mm.counters()
	mm.latestStats.Rooms = rooms
	mm.latestStats.Connections = connections
	mm.latestStats.Pid = process.Pid
	mm.latestStats.PidStatus = process.Status
	mm.latestStats.RamBytes = process.RamBytes
	mm.latestStats.CpuPercent = process.CpuPercent
	mm.latestStats.AllocMemMb = m.Alloc / 1024 / 1024
	mm.latestStats.NumGC = m.NumGC
	mm.latestStats.Goroutines = runtime.NumGoroutine()
	mm.latestStats.UpdatedAt = time.Now().UTC()

	mm.log.Debug("Stats updated",
		"rooms", rooms,
		"connections", connections,
		"delivered", mm.latestStats.Delivered,
		"dropped", mm.latestStats.Dropped,
		"ram_bytes", process.RamBytes,
	)
	return mm.latestStats
}

// GetLatest returns the last snapshot with fresh counters.
func (mm *MonitoringManager) GetLatest() MonitoringStats {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	stats := mm.latestStats
	counters := mm.counters()
	stats.Joins = counters.Joins
	stats.Leaves = counters.Leaves
	stats.Broadcasts = counters.Broadcasts
	stats.Delivered = counters.Delivered
	stats.Dropped = counters.Dropped
	stats.RejectedInbound = counters.RejectedInbound
	return stats
}

func (mm *MonitoringManager) counters() MonitoringStats {
	return MonitoringStats{
		Joins:           atomic.LoadUint64(&mm.joins),
		Leaves:          atomic.LoadUint64(&mm.leaves),
		Broadcasts:      atomic.LoadUint64(&mm.broadcasts),
		Delivered:       atomic.LoadUint64(&mm.delivered),
		Dropped:         atomic.LoadUint64(&mm.dropped),
		RejectedInbound: atomic.LoadUint64(&mm.rejectedInbound),
	}
}
