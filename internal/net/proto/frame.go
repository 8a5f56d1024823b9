package proto

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Snapshot frames carry a one-byte codec prefix so clients can tell a raw
// body from a compressed one without negotiation.
const (
	codecRaw  byte = 0
	codecZstd byte = 1
)

// CompressThreshold is the body size above which snapshot frames are
// compressed. Small frames gain nothing and pay the codec startup cost.
const CompressThreshold = 256

var (
	frameEncoder *zstd.Encoder
	frameDecoder *zstd.Decoder
)

func init() {
	// Errors here are configuration mistakes in this file, not runtime
	// conditions; both constructors only fail on invalid options.
	var err error
	frameEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic(err)
	}
	frameDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
}

// FrameSnapshot wraps an encoded snapshot body for broadcast, compressing
// when it pays off. The returned bool reports whether compression was used.
func FrameSnapshot(body []byte) ([]byte, bool) {
	if len(body) < CompressThreshold {
		framed := make([]byte, 1+len(body))
		framed[0] = codecRaw
		copy(framed[1:], body)
		return framed, false
	}
	compressed := frameEncoder.EncodeAll(body, make([]byte, 1, len(body)/2+1))
	compressed[0] = codecZstd
	if len(compressed) >= 1+len(body) {
		framed := make([]byte, 1+len(body))
		framed[0] = codecRaw
		copy(framed[1:], body)
		return framed, false
	}
	return compressed, true
}

// UnframeSnapshot strips the codec prefix and decompresses when needed.
func UnframeSnapshot(framed []byte) ([]byte, error) {
	if len(framed) < 1 {
		return nil, fmt.Errorf("snapshot frame: %w", ErrShortBuffer)
	}
	switch framed[0] {
	case codecRaw:
		return framed[1:], nil
	case codecZstd:
		return frameDecoder.DecodeAll(framed[1:], nil)
	default:
		return nil, fmt.Errorf("proto: unknown snapshot codec 0x%02x", framed[0])
	}
}
