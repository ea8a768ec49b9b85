//go:build !rnnoise

package native

import "github.com/skypro1111/denoise-service/internal/denoise"

// New reports ErrUnavailable in builds without the rnnoise tag.
func New() (denoise.Engine, error) {
	return nil, ErrUnavailable
}

// Available reports whether the rnnoise binding is compiled in.
func Available() bool {
	return false
}
