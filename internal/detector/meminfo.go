package detector

import "github.com/prometheus/procfs"

// processMemoryMB reports the process resident set size in megabytes.
// Returns false where /proc is unavailable (non-Linux hosts, restricted
// containers); the mem_mb statistic is then simply omitted.
func processMemoryMB() (float64, bool) {
	p, err := procfs.Self()
	if err != nil {
		return 0, false
	}
	stat, err := p.Stat()
	if err != nil {
		return 0, false
	}
	return float64(stat.ResidentMemory()) / (1 << 20), true
}
