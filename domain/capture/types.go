package capture

import (
	"image"

	"github.com/soocke/pixel-cast-go/domain/readback"
)

// Source is anything the readback backend can copy pixels out of. CopyTo
// must fill dst exactly and fail when the sizes disagree.
type Source interface {
	CopyTo(dst []byte) error
}

// Releaser is implemented by sources holding a temporary surface. The backend
// calls Release once the copy finished, successful or not.
type Releaser interface {
	Release()
}

// Backend issues asynchronous copies into readback entries. done is invoked
// on an unspecified goroutine. WaitAll blocks until every outstanding copy
// and its completion callback have returned.
type Backend interface {
	Request(src Source, dst *readback.Entry, done func(readback.Completion))
	WaitAll()
}

// Encoder turns a source image into a planar UYVY/UYVA buffer.
type Encoder interface {
	Encode(img *image.RGBA, keepAlpha bool) Source
}
