package transmit

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/soocke/pixel-cast-go/domain/readback"
)

// Wire layout of one binary WebSocket message (little endian):
//
//	magic    [4]byte "PXC1"
//	flags    uint32  bit 0: data is zstd compressed
//	fourcc   uint32
//	width    uint32
//	height   uint32
//	stride   uint32
//	rateN    uint32
//	rateD    uint32
//	timecode int64
//	sequence uint64
//	metaLen  uint32
//	dataLen  uint32  uncompressed data length
//	metadata [metaLen]byte
//	data     remaining bytes
const headerSize = 4 + 4*7 + 8 + 8 + 4 + 4

const flagCompressed = 1

var magic = [4]byte{'P', 'X', 'C', '1'}

// MaxDataSize bounds the decoded pixel data of one frame (8K packed RGBA).
const MaxDataSize = 7680 * 4320 * 4

// ErrMalformed is returned for messages that do not decode as a frame.
var ErrMalformed = errors.New("transmit: malformed frame message")

// EncodeFrame appends the wire form of f to dst. When enc is non-nil the
// pixel data is zstd compressed.
func EncodeFrame(dst []byte, f readback.Frame, enc *zstd.Encoder) []byte {
	var hdr [headerSize]byte
	copy(hdr[0:4], magic[:])
	var flags uint32
	if enc != nil {
		flags |= flagCompressed
	}
	le := binary.LittleEndian
	le.PutUint32(hdr[4:], flags)
	le.PutUint32(hdr[8:], uint32(f.FourCC))
	le.PutUint32(hdr[12:], uint32(f.Width))
	le.PutUint32(hdr[16:], uint32(f.Height))
	le.PutUint32(hdr[20:], uint32(f.Stride))
	le.PutUint32(hdr[24:], uint32(f.FrameRateN))
	le.PutUint32(hdr[28:], uint32(f.FrameRateD))
	le.PutUint64(hdr[32:], uint64(f.Timecode))
	le.PutUint64(hdr[40:], f.Sequence)
	le.PutUint32(hdr[48:], uint32(len(f.Metadata)))
	le.PutUint32(hdr[52:], uint32(len(f.Data)))
	dst = append(dst, hdr[:]...)
	dst = append(dst, f.Metadata...)
	if enc != nil {
		return enc.EncodeAll(f.Data, dst)
	}
	return append(dst, f.Data...)
}

// DecodeFrame parses a message produced by EncodeFrame. The returned frame
// owns its buffers. dec is required only for compressed messages.
func DecodeFrame(msg []byte, dec *zstd.Decoder) (readback.Frame, error) {
	if len(msg) < headerSize || [4]byte(msg[0:4]) != magic {
		return readback.Frame{}, ErrMalformed
	}
	le := binary.LittleEndian
	flags := le.Uint32(msg[4:])
	f := readback.Frame{
		FourCC:     readback.FourCC(le.Uint32(msg[8:])),
		Width:      int(le.Uint32(msg[12:])),
		Height:     int(le.Uint32(msg[16:])),
		Stride:     int(le.Uint32(msg[20:])),
		FrameRateN: int(le.Uint32(msg[24:])),
		FrameRateD: int(le.Uint32(msg[28:])),
		Timecode:   int64(le.Uint64(msg[32:])),
		Sequence:   le.Uint64(msg[40:]),
	}
	metaLen := int(le.Uint32(msg[48:]))
	dataLen := int(le.Uint32(msg[52:]))
	if dataLen > MaxDataSize {
		return readback.Frame{}, fmt.Errorf("%w: data length %d exceeds %d", ErrMalformed, dataLen, MaxDataSize)
	}
	body := msg[headerSize:]
	if metaLen > len(body) {
		return readback.Frame{}, fmt.Errorf("%w: metadata length %d", ErrMalformed, metaLen)
	}
	if metaLen > 0 {
		f.Metadata = append([]byte(nil), body[:metaLen]...)
	}
	body = body[metaLen:]
	if flags&flagCompressed != 0 {
		if dec == nil {
			return readback.Frame{}, fmt.Errorf("%w: compressed frame without decoder", ErrMalformed)
		}
		data, err := dec.DecodeAll(body, make([]byte, 0, dataLen))
		if err != nil {
			return readback.Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		body = data
	} else {
		body = append([]byte(nil), body...)
	}
	if len(body) != dataLen {
		return readback.Frame{}, fmt.Errorf("%w: data length %d, want %d", ErrMalformed, len(body), dataLen)
	}
	f.Data = body
	return f, nil
}
