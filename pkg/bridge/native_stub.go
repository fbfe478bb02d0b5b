//go:build !(linux && cgo && ffi)

package bridge

import "fmt"

// OpenLibrary needs cgo, libffi and the ffi build tag. Without them every
// native artifact reports ErrUnavailable.
func OpenLibrary(path string) (Provider, error) {
	if path == "" {
		path = "process"
	}
	return nil, fmt.Errorf("%w: native library %s: built without the ffi tag", ErrUnavailable, path)
}
