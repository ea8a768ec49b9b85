// Package native binds the denoise.Engine interface to librnnoise through cgo.
//
// The binding is compiled only with the rnnoise build tag and needs the
// rnnoise pkg-config package; without the tag New reports ErrUnavailable.
package native

import "errors"

// ErrUnavailable is returned by New when the binary was built without the rnnoise tag.
var ErrUnavailable = errors.New("native: rnnoise support not compiled in (build with -tags rnnoise)")
