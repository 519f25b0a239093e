package wav

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/riff"
)

// ErrNotWAV is returned by ReadHeader when the input is not a RIFF/WAVE file.
var ErrNotWAV = errors.New("wav: not a RIFF/WAVE file")

// Header describes the container fields of a WAV file.
type Header struct {
	RIFFSize      uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataSize      uint32
}

// Frames returns the number of frames in the data chunk.
func (h Header) Frames() int {
	if h.BlockAlign == 0 {
		return 0
	}
	return int(h.DataSize) / int(h.BlockAlign)
}

// Duration returns the playing time of the data chunk in seconds.
func (h Header) Duration() float64 {
	if h.SampleRate == 0 {
		return 0
	}
	return float64(h.Frames()) / float64(h.SampleRate)
}

// ReadHeader parses the RIFF header, the fmt chunk and the data chunk
// header of a WAV stream. The data payload is skipped, not validated.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header

	p := riff.New(r)
	if err := p.ParseHeaders(); err != nil {
		return h, fmt.Errorf("%w: %w", ErrNotWAV, err)
	}
	if p.ID != riff.RiffID || p.Format != riff.WavFormatID {
		return h, ErrNotWAV
	}
	h.RIFFSize = p.Size

	var sawFmt, sawData bool
	for !sawData {
		chunk, err := p.NextChunk()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return h, fmt.Errorf("read chunk: %w", err)
		}

		switch chunk.ID {
		case riff.FmtID:
			fields := []any{
				&h.AudioFormat, &h.NumChannels, &h.SampleRate,
				&h.ByteRate, &h.BlockAlign, &h.BitsPerSample,
			}
			for _, f := range fields {
				if err := chunk.ReadLE(f); err != nil {
					return h, fmt.Errorf("read fmt chunk: %w", err)
				}
			}
			sawFmt = true
		case riff.DataFormatID:
			h.DataSize = uint32(chunk.Size)
			sawData = true
		}
		chunk.Done()
	}

	if !sawFmt || !sawData {
		return h, fmt.Errorf("%w: missing fmt or data chunk", ErrNotWAV)
	}
	return h, nil
}
