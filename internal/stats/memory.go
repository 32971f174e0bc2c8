package stats

import (
	"math"
	"os"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/process"
)

const bytesPerMB = 1024 * 1024

// MemoryUsage is a point-in-time view of process memory, in bytes.
type MemoryUsage struct {
	RSS       uint64
	HeapTotal uint64
	HeapUsed  uint64
	External  uint64
}

// MemoryMB is MemoryUsage rounded to whole megabytes, as served over HTTP.
type MemoryMB struct {
	RSS       int64 `json:"rss"`
	HeapTotal int64 `json:"heapTotal"`
	HeapUsed  int64 `json:"heapUsed"`
	External  int64 `json:"external"`
}

// MB rounds every figure to the nearest megabyte.
func (m MemoryUsage) MB() MemoryMB {
	return MemoryMB{
		RSS:       toMB(m.RSS),
		HeapTotal: toMB(m.HeapTotal),
		HeapUsed:  toMB(m.HeapUsed),
		External:  toMB(m.External),
	}
}

func toMB(b uint64) int64 {
	return int64(math.Round(float64(b) / bytesPerMB))
}

// MemoryReader samples process memory.
type MemoryReader interface {
	ReadMemory() (MemoryUsage, error)
}

// ProcessMemory reads RSS from the OS and heap figures from the Go runtime.
type ProcessMemory struct {
	once sync.Once
	proc *process.Process
	err  error
}

// ReadMemory implements MemoryReader. Heap figures are always filled in; when
// the OS query fails, RSS falls back to the runtime's total reservation and
// the error is returned alongside the partial result.
func (p *ProcessMemory) ReadMemory() (MemoryUsage, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	usage := MemoryUsage{
		RSS:       ms.Sys,
		HeapTotal: ms.HeapSys,
		HeapUsed:  ms.HeapAlloc,
		External:  ms.Sys - ms.HeapSys,
	}

	p.once.Do(func() {
		p.proc, p.err = process.NewProcess(int32(os.Getpid()))
	})
	if p.err != nil {
		return usage, p.err
	}

	info, err := p.proc.MemoryInfo()
	if err != nil {
		return usage, err
	}
	usage.RSS = info.RSS
	return usage, nil
}
