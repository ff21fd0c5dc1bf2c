//go:build !linux

package trace

func start(path string, args []string, o *options) (Process, error) {
	return nil, ErrUnsupported
}
