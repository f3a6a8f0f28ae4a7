// Package pcm converts floating-point capture samples into the linear16
// frames the transcription backend expects.
package pcm

import (
	"encoding/binary"
	"sync/atomic"
)

// EncodeSample converts one float sample in [-1, 1] to a 16-bit signed value.
// Scaling is asymmetric (32768 negative, 32767 positive) so that exactly -1.0
// maps to -32768 and exactly +1.0 maps to 32767 without overflow.
func EncodeSample(v float32) int16 {
	if v <= -1 {
		return -32768
	}
	if v >= 1 {
		return 32767
	}
	if v < 0 {
		return int16(v * 32768)
	}
	return int16(v * 32767)
}

// Encode converts src into dst sample by sample. dst must be at least len(src).
func Encode(dst []int16, src []float32) {
	for i, v := range src {
		dst[i] = EncodeSample(v)
	}
}

// FrameBytes serializes a frame as little-endian linear16, the backend's wire
// format for binary audio messages.
func FrameBytes(frame []int16) []byte {
	out := make([]byte, len(frame)*2)
	for i, s := range frame {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// FrameEncoder slices a continuous sample flow into fixed-size int16 frames
// and hands each frame off through a buffered channel. The producer side never
// blocks: when the consumer lags, frames are dropped and counted. Ownership of
// an emitted frame transfers to the receiver.
type FrameEncoder struct {
	frameSize int
	out       chan []int16
	cur       []int16
	fill      int
	dropped   atomic.Uint64
}

// NewFrameEncoder builds an encoder emitting frames of frameSize samples with
// a queue of queueDepth frames between producer and consumer.
func NewFrameEncoder(frameSize, queueDepth int) *FrameEncoder {
	if frameSize <= 0 {
		frameSize = 128
	}
	if queueDepth <= 0 {
		queueDepth = 32
	}
	return &FrameEncoder{
		frameSize: frameSize,
		out:       make(chan []int16, queueDepth),
		cur:       make([]int16, frameSize),
	}
}

// Push converts samples and emits every completed frame. It never blocks.
func (e *FrameEncoder) Push(samples []float32) {
	for _, v := range samples {
		e.cur[e.fill] = EncodeSample(v)
		e.fill++
		if e.fill == e.frameSize {
			e.emit(e.cur)
			e.cur = make([]int16, e.frameSize)
			e.fill = 0
		}
	}
}

// Frames is the consumer side of the hand-off channel.
func (e *FrameEncoder) Frames() <-chan []int16 {
	return e.out
}

// Close flushes nothing (partial frames are discarded, matching a suspended
// source producing no frame) and closes the channel.
func (e *FrameEncoder) Close() {
	close(e.out)
}

// Dropped reports how many completed frames were discarded because the
// consumer lagged.
func (e *FrameEncoder) Dropped() uint64 {
	return e.dropped.Load()
}

func (e *FrameEncoder) emit(frame []int16) {
	select {
	case e.out <- frame:
	default:
		e.dropped.Add(1)
	}
}
