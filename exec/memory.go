package exec

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// processRSS samples the resident set size of this process in bytes.
// The measurement is coarse (whole-process, sampled before and after a
// handler call) and only used for advisory memory-delta reporting.
func processRSS() (uint64, bool) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, false
	}
	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		return 0, false
	}
	return info.RSS, true
}
