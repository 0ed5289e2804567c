//go:build govips && cgo

package story

import (
	"sync"
	"sync/atomic"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	startupOnce sync.Once
	vipsRunning atomic.Bool
)

// Startup boots libvips once per process. Renders parallelize across tasks
// rather than inside one image, so vips runs single threaded with a small
// operation cache; every source is decoded exactly once anyway.
func Startup() error {
	startupOnce.Do(func() {
		vips.LoggingSettings(nil, vips.LogLevelWarning)
		vips.Startup(&vips.Config{
			ConcurrencyLevel: 1,
			MaxCacheFiles:    0,
			MaxCacheMem:      64 * 1024 * 1024,
			MaxCacheSize:     50,
		})
		vipsRunning.Store(true)
	})
	return nil
}

func Shutdown() {
	if vipsRunning.CompareAndSwap(true, false) {
		vips.Shutdown()
	}
}

func newBackend() Backend {
	return vipsBackend{}
}
