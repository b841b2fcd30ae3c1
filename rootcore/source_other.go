//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly

package rootcore

import (
	"time"

	"github.com/spf13/afero"

	"github.com/watchcore/watchcore/watcher/kernel"
)

// pollingInterval is conservative enough to keep CPU use reasonable on
// a platform with no native change-notification backend.
const pollingInterval = time.Second

func newDefaultKernelSource() (kernel.Source, error) {
	return kernel.NewPollingSource(afero.NewOsFs(), pollingInterval), nil
}
