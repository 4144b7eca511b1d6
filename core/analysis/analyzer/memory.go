package analyzer

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/cordum/cjcard/core/infra/logging"
)

// MemorySnapshot is process and host memory in bytes. Host fields are zero
// when /proc/meminfo is unavailable.
type MemorySnapshot struct {
	HeapAlloc     uint64
	Sys           uint64
	HostTotal     uint64
	HostAvailable uint64
	HostSwapFree  uint64
	Goroutines    int
}

// ReadMemory samples the Go runtime and, on Linux, /proc/meminfo.
func ReadMemory() MemorySnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap := MemorySnapshot{HeapAlloc: ms.HeapAlloc, Sys: ms.Sys, Goroutines: runtime.NumGoroutine()}
	if f, err := os.Open("/proc/meminfo"); err == nil {
		defer f.Close()
		parseMeminfo(bufio.NewScanner(f), &snap)
	}
	return snap
}

func parseMeminfo(sc *bufio.Scanner, snap *MemorySnapshot) {
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch strings.TrimSuffix(fields[0], ":") {
		case "MemTotal":
			snap.HostTotal = kb * 1024
		case "MemAvailable":
			snap.HostAvailable = kb * 1024
		case "SwapFree":
			snap.HostSwapFree = kb * 1024
		}
	}
}

// LogMemory writes a memory snapshot under component.
func LogMemory(component string) {
	s := ReadMemory()
	logging.Info(component, "memory usage",
		"heap_alloc_mb", s.HeapAlloc>>20,
		"sys_mb", s.Sys>>20,
		"host_total_mb", s.HostTotal>>20,
		"host_available_mb", s.HostAvailable>>20,
		"host_swap_free_mb", s.HostSwapFree>>20,
		"goroutines", s.Goroutines,
	)
}
