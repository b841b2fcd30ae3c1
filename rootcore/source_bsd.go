//go:build darwin || freebsd || openbsd || netbsd || dragonfly

package rootcore

import "github.com/watchcore/watchcore/watcher/kernel"

func newDefaultKernelSource() (kernel.Source, error) {
	return kernel.NewKqueueSource()
}
