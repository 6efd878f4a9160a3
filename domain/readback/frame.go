package readback

import "math"

// FourCC identifies the pixel layout of a frame buffer.
type FourCC uint32

func fourCC(a, b, c, d byte) FourCC {
	return FourCC(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

var (
	FourCCUYVY = fourCC('U', 'Y', 'V', 'Y')
	FourCCUYVA = fourCC('U', 'Y', 'V', 'A')
	FourCCRGBA = fourCC('R', 'G', 'B', 'A')
	FourCCRGBX = fourCC('R', 'G', 'B', 'X')
)

func (f FourCC) String() string {
	return string([]byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)})
}

// HasAlpha reports whether the layout carries an alpha channel.
func (f FourCC) HasAlpha() bool { return f == FourCCUYVA || f == FourCCRGBA }

// Packed reports whether the layout is interleaved 4 bytes per pixel.
func (f FourCC) Packed() bool { return f == FourCCRGBA || f == FourCCRGBX }

// FourCCFor maps the entry flags onto a layout tag.
func FourCCFor(alpha, packed bool) FourCC {
	switch {
	case packed && alpha:
		return FourCCRGBA
	case packed:
		return FourCCRGBX
	case alpha:
		return FourCCUYVA
	default:
		return FourCCUYVY
	}
}

// BytesPerPixel returns the average storage cost of one pixel. Packed layouts
// use 4 bytes; the planar layout uses 2 for the UYVY plane plus 1 for an
// optional alpha plane.
func BytesPerPixel(alpha, packed bool) int {
	switch {
	case packed:
		return 4
	case alpha:
		return 3
	default:
		return 2
	}
}

// FrameDataSize is the byte size of a width x height frame.
func FrameDataSize(width, height int, alpha, packed bool) int {
	return width * BytesPerPixel(alpha, packed) * height
}

const (
	// TimecodeSynthesize asks the receiver to synthesize a timecode.
	TimecodeSynthesize int64 = math.MaxInt64

	FrameRateN = 30000
	FrameRateD = 1001
)

// Frame is a transient view over an entry built for a single transmit call.
// Data and Metadata alias the entry buffers; they stay valid until the entry
// is released.
//
// Stride is width times BytesPerPixel. For planar layouts it describes the
// whole buffer rather than one plane: UYVY rows are 2*width bytes, while a
// UYVA stride of 3*width covers the UYVY plane (2*width per row) followed by
// the alpha plane (width per row).
type Frame struct {
	Width      int
	Height     int
	Stride     int
	FourCC     FourCC
	FrameRateN int
	FrameRateD int
	Timecode   int64
	Sequence   uint64
	Data       []byte
	Metadata   []byte
}

// NewFrame builds the descriptor for a bound entry.
func NewFrame(e *Entry, seq uint64) Frame {
	return Frame{
		Width:      e.Width(),
		Height:     e.Height(),
		Stride:     e.Stride(),
		FourCC:     e.FourCC(),
		FrameRateN: FrameRateN,
		FrameRateD: FrameRateD,
		Timecode:   TimecodeSynthesize,
		Sequence:   seq,
		Data:       e.Data(),
		Metadata:   e.Metadata(),
	}
}

// MetadataString returns the metadata without its trailing NUL.
func (f Frame) MetadataString() string {
	m := f.Metadata
	if n := len(m); n > 0 && m[n-1] == 0 {
		m = m[:n-1]
	}
	return string(m)
}
