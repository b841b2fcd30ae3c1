//go:build linux

package ioengine

import (
	"syscall"
	"time"
)

func statCtime(sys *syscall.Stat_t) time.Time {
	return time.Unix(sys.Ctim.Sec, sys.Ctim.Nsec)
}
