//go:build !govips || !cgo

package story

func Startup() error {
	return nil
}

func Shutdown() {}

func newBackend() Backend {
	return stdBackend{}
}
