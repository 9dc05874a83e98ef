package api

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/annel0/mmo-world/internal/logging"
)

// ServerMetrics - ресурсы процесса для /api/stats
type ServerMetrics struct {
	started time.Time
	proc    *process.Process
}

// ProcessSnapshot - срез ресурсов процесса на момент запроса
type ProcessSnapshot struct {
	Uptime     string  `json:"uptime"`
	UptimeSec  int64   `json:"uptime_sec"`
	CPUPercent float64 `json:"cpu_percent"`
	RSSMB      float64 `json:"rss_mb"`
	HeapMB     float64 `json:"heap_alloc_mb"`
	SysMB      float64 `json:"sys_mb"`
	NumGC      uint32  `json:"num_gc"`
	Goroutines int     `json:"goroutines"`
	ServerTime int64   `json:"server_time"`
}

// NewServerMetrics запоминает момент старта и открывает дескриптор процесса
func NewServerMetrics() *ServerMetrics {
	sm := &ServerMetrics{started: time.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		sm.proc = p
	} else {
		logging.Warn("⚠️ gopsutil: процесс %d недоступен: %v", os.Getpid(), err)
	}
	return sm
}

// Snapshot собирает uptime, CPU и память. Недоступные метрики остаются нулями.
func (sm *ServerMetrics) Snapshot() ProcessSnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	up := time.Since(sm.started)
	snap := ProcessSnapshot{
		Uptime:     up.Round(time.Second).String(),
		UptimeSec:  int64(up.Seconds()),
		CPUPercent: sm.cpuPercent(),
		HeapMB:     toMB(m.HeapAlloc),
		SysMB:      toMB(m.Sys),
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
		ServerTime: time.Now().Unix(),
	}
	if sm.proc != nil {
		if mem, err := sm.proc.MemoryInfo(); err == nil && mem != nil {
			snap.RSSMB = toMB(mem.RSS)
		}
	}
	return snap
}

// cpuPercent - загрузка CPU процессом; без дескриптора берётся системная за 100мс
func (sm *ServerMetrics) cpuPercent() float64 {
	if sm.proc != nil {
		if pct, err := sm.proc.CPUPercent(); err == nil {
			return pct
		}
	}
	pcts, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil || len(pcts) == 0 {
		logging.Debug("📊 CPU недоступен: %v", err)
		return 0
	}
	return pcts[0]
}

func toMB(b uint64) float64 { return float64(b) / 1024 / 1024 }
