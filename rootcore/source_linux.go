//go:build linux

package rootcore

import "github.com/watchcore/watchcore/watcher/kernel"

// newDefaultKernelSource picks the platform-native kernel.Source: on
// Linux that is inotify when available.
func newDefaultKernelSource() (kernel.Source, error) {
	return kernel.NewInotifySource()
}
