package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// MemoryStats is one runtime memory sample
type MemoryStats struct {
	Alloc        uint64    `json:"alloc_bytes"`
	Sys          uint64    `json:"sys_bytes"`
	HeapAlloc    uint64    `json:"heap_alloc_bytes"`
	HeapSys      uint64    `json:"heap_sys_bytes"`
	HeapInuse    uint64    `json:"heap_inuse_bytes"`
	NumGC        uint32    `json:"num_gc"`
	PauseTotalNs uint64    `json:"gc_pause_total_ns"`
	NumGoroutine int       `json:"num_goroutine"`
	Timestamp    time.Time `json:"timestamp"`
}

// HeapUtilization is the share of reserved heap in use.
func (s MemoryStats) HeapUtilization() float64 {
	if s.HeapSys == 0 {
		return 0
	}
	return float64(s.HeapInuse) / float64(s.HeapSys)
}

// MemoryMonitor samples runtime memory statistics into Metrics.
type MemoryMonitor struct {
	interval          time.Duration
	pressureThreshold float64
	metrics           *Metrics
	logger            *Logger

	mutex      sync.RWMutex
	history    []MemoryStats
	maxHistory int

	// read is swapped in tests
	read func() MemoryStats
}

// NewMemoryMonitor creates a new memory monitor. A heap utilisation above
// pressureThreshold (0..1) is logged as a system event.
func NewMemoryMonitor(interval time.Duration, pressureThreshold float64, metrics *Metrics, logger *Logger) *MemoryMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &MemoryMonitor{
		interval:          interval,
		pressureThreshold: pressureThreshold,
		metrics:           metrics,
		logger:            logger,
		maxHistory:        100,
		read:              readMemoryStats,
	}
}

func readMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return MemoryStats{
		Alloc:        m.Alloc,
		Sys:          m.Sys,
		HeapAlloc:    m.HeapAlloc,
		HeapSys:      m.HeapSys,
		HeapInuse:    m.HeapInuse,
		NumGC:        m.NumGC,
		PauseTotalNs: m.PauseTotalNs,
		NumGoroutine: runtime.NumGoroutine(),
		Timestamp:    time.Now(),
	}
}

// Run samples until ctx is done.
func (mm *MemoryMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(mm.interval)
	defer ticker.Stop()

	slog.Info("Starting memory monitoring", "interval_ms", mm.interval.Milliseconds())
	mm.Collect()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Memory monitoring stopped")
			return
		case <-ticker.C:
			mm.Collect()
		}
	}
}

// Collect takes one sample and returns it.
func (mm *MemoryMonitor) Collect() MemoryStats {
	stats := mm.read()

	mm.mutex.Lock()
	mm.history = append(mm.history, stats)
	if len(mm.history) > mm.maxHistory {
		mm.history = mm.history[1:]
	}
	mm.mutex.Unlock()

	if mm.metrics != nil {
		mm.metrics.RecordGCMetrics(int64(stats.NumGC), int64(stats.PauseTotalNs), int64(stats.HeapAlloc), int64(stats.HeapSys))
	}

	if util := stats.HeapUtilization(); mm.pressureThreshold > 0 && util > mm.pressureThreshold && mm.logger != nil {
		mm.logger.SystemLogger("memory_pressure", fmt.Sprintf(
			"utilization:%.2f inuse:%dMB sys:%dMB goroutines:%d",
			util, stats.HeapInuse/(1024*1024), stats.HeapSys/(1024*1024), stats.NumGoroutine,
		))
	}

	return stats
}

// Latest returns the most recent sample, if any.
func (mm *MemoryMonitor) Latest() (MemoryStats, bool) {
	mm.mutex.RLock()
	defer mm.mutex.RUnlock()

	if len(mm.history) == 0 {
		return MemoryStats{}, false
	}
	return mm.history[len(mm.history)-1], true
}

// History returns a copy of the retained samples, oldest first.
func (mm *MemoryMonitor) History() []MemoryStats {
	mm.mutex.RLock()
	defer mm.mutex.RUnlock()

	history := make([]MemoryStats, len(mm.history))
	copy(history, mm.history)
	return history
}
