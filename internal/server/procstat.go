package server

import (
	"fmt"

	"github.com/c9s/goprocinfo/linux"
)

const procRoot = "/proc"

// procStats is the /proc/<pid>/stat subset shown for a running process.
type procStats struct {
	State      string `json:"state"`
	Ppid       int64  `json:"ppid"`
	Threads    int64  `json:"threads"`
	UserTicks  uint64 `json:"utime"`
	SysTicks   uint64 `json:"stime"`
	VSizeBytes uint64 `json:"vsize"`
	RSSPages   int64  `json:"rss"`
}

func readProcStats(pid int) (*procStats, error) {
	stat, err := linux.ReadProcessStat(fmt.Sprintf("%s/%d/stat", procRoot, pid))
	if err != nil {
		return nil, err
	}
	return &procStats{
		State:      stat.State,
		Ppid:       stat.Ppid,
		Threads:    stat.NumThreads,
		UserTicks:  stat.Utime,
		SysTicks:   stat.Stime,
		VSizeBytes: stat.Vsize,
		RSSPages:   stat.Rss,
	}, nil
}

type hostLoad struct {
	Load1  float64 `json:"load1"`
	Load5  float64 `json:"load5"`
	Load15 float64 `json:"load15"`
}

func readHostLoad() (*hostLoad, error) {
	avg, err := linux.ReadLoadAvg(procRoot + "/loadavg")
	if err != nil {
		return nil, err
	}
	return &hostLoad{Load1: avg.Last1Min, Load5: avg.Last5Min, Load15: avg.Last15Min}, nil
}
