package pcm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zaf/resample"
)

// Resampler converts mono float32 PCM from the capture-native rate down to
// the network transmission rate (16 kHz) at the pipeline boundary.
type Resampler struct {
	conv *resample.Resampler
	buf  *bytes.Buffer
	in   []byte
}

// NewResampler builds a mono float32 resampler. A no-op passthrough is
// returned when the rates already match.
func NewResampler(inRate, outRate int) (*Resampler, error) {
	if inRate <= 0 || outRate <= 0 {
		return nil, fmt.Errorf("invalid resample rates %d -> %d", inRate, outRate)
	}
	if inRate == outRate {
		return &Resampler{}, nil
	}

	buf := &bytes.Buffer{}
	conv, err := resample.New(buf, float64(inRate), float64(outRate), 1, resample.F32, resample.HighQ)
	if err != nil {
		return nil, fmt.Errorf("create resampler %d -> %d: %w", inRate, outRate, err)
	}
	return &Resampler{conv: conv, buf: buf}, nil
}

// Process resamples a block of samples. The converter buffers internally, so
// output length varies call to call; the returned slice is owned by the caller.
func (r *Resampler) Process(samples []float32) ([]float32, error) {
	if r.conv == nil {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	need := len(samples) * 4
	if cap(r.in) < need {
		r.in = make([]byte, need)
	}
	raw := r.in[:need]
	for i, v := range samples {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}

	if _, err := r.conv.Write(raw); err != nil {
		return nil, fmt.Errorf("resample write: %w", err)
	}

	converted := r.buf.Bytes()
	n := len(converted) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(converted[i*4:]))
	}
	r.buf.Reset()
	return out, nil
}

// Close releases the underlying converter.
func (r *Resampler) Close() error {
	if r.conv == nil {
		return nil
	}
	return r.conv.Close()
}

// DecodeFloat32 converts little-endian float32 PCM bytes into samples,
// the shape the capture process emits.
func DecodeFloat32(raw []byte) []float32 {
	n := len(raw) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}
