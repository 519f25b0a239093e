// Package audio provides the in-memory sample model and the segmenter that
// partitions a decoded recording at user-chosen cut points.
package audio

import (
	"errors"
	"fmt"
)

// Static errors for buffer construction and segmentation.
var (
	// ErrInvalidBuffer is returned when a SampleBuffer is built from
	// inconsistent data (mismatched channel lengths, no channels, bad rate).
	ErrInvalidBuffer = errors.New("audio: invalid sample buffer")
	// ErrEmptySource is returned when segmenting a buffer with no samples.
	ErrEmptySource = errors.New("audio: source buffer is empty")
)

// SampleBuffer is an immutable block of per-channel floating-point samples
// at a fixed sample rate. Samples are nominally in [-1, 1]; values outside
// that range are kept as-is and clamped by the encoder.
type SampleBuffer struct {
	sampleRate int
	channels   [][]float32
}

// NewSampleBuffer creates a SampleBuffer from per-channel sample slices.
// The slices are copied, so later changes by the caller are not visible
// through the buffer. All channels must have the same length.
func NewSampleBuffer(sampleRate int, channels [][]float32) (*SampleBuffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidBuffer, sampleRate)
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("%w: at least one channel is required", ErrInvalidBuffer)
	}

	length := len(channels[0])
	owned := make([][]float32, len(channels))
	for ch, data := range channels {
		if len(data) != length {
			return nil, fmt.Errorf("%w: channel %d has %d samples, channel 0 has %d",
				ErrInvalidBuffer, ch, len(data), length)
		}
		owned[ch] = append([]float32(nil), data...)
	}

	return &SampleBuffer{sampleRate: sampleRate, channels: owned}, nil
}

// FromInterleaved builds a SampleBuffer from frame-interleaved samples
// (all channels of frame 0, then frame 1, ...). A trailing partial frame
// is an error.
func FromInterleaved(sampleRate, numChannels int, data []float32) (*SampleBuffer, error) {
	if numChannels <= 0 {
		return nil, fmt.Errorf("%w: at least one channel is required", ErrInvalidBuffer)
	}
	if len(data)%numChannels != 0 {
		return nil, fmt.Errorf("%w: %d samples is not a whole number of %d-channel frames",
			ErrInvalidBuffer, len(data), numChannels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", ErrInvalidBuffer, sampleRate)
	}

	frames := len(data) / numChannels
	channels := make([][]float32, numChannels)
	for ch := range channels {
		channels[ch] = make([]float32, frames)
	}
	for f := 0; f < frames; f++ {
		for ch := 0; ch < numChannels; ch++ {
			channels[ch][f] = data[f*numChannels+ch]
		}
	}

	return &SampleBuffer{sampleRate: sampleRate, channels: channels}, nil
}

// SampleRate returns the number of samples per second.
func (b *SampleBuffer) SampleRate() int {
	if b == nil {
		return 0
	}
	return b.sampleRate
}

// NumChannels returns the number of channels. The zero value has none.
func (b *SampleBuffer) NumChannels() int {
	if b == nil {
		return 0
	}
	return len(b.channels)
}

// Len returns the number of samples per channel (the frame count).
func (b *SampleBuffer) Len() int {
	if b == nil || len(b.channels) == 0 {
		return 0
	}
	return len(b.channels[0])
}

// Duration returns the length of the buffer in seconds.
func (b *SampleBuffer) Duration() float64 {
	if b.SampleRate() == 0 {
		return 0
	}
	return float64(b.Len()) / float64(b.sampleRate)
}

// Sample returns the sample at index i of channel ch.
// It panics if either index is out of range, like a slice access.
func (b *SampleBuffer) Sample(ch, i int) float32 {
	return b.channels[ch][i]
}

// Channel returns a copy of the samples of channel ch.
func (b *SampleBuffer) Channel(ch int) []float32 {
	return append([]float32(nil), b.channels[ch]...)
}

// slice copies the sample range [start, end) of every channel into a new
// buffer. Bounds are expected to be valid.
func (b *SampleBuffer) slice(start, end int) *SampleBuffer {
	channels := make([][]float32, len(b.channels))
	for ch, data := range b.channels {
		channels[ch] = make([]float32, end-start)
		copy(channels[ch], data[start:end])
	}
	return &SampleBuffer{sampleRate: b.sampleRate, channels: channels}
}

// String returns a short description of the buffer.
func (b *SampleBuffer) String() string {
	return fmt.Sprintf("SampleBuffer{rate: %d, channels: %d, frames: %d}",
		b.SampleRate(), b.NumChannels(), b.Len())
}
