// Package decode turns encoded audio files into sample buffers. It is the
// input boundary of the service: bytes in, audio.SampleBuffer out.
package decode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"

	"github.com/maauso/audiocut-api/internal/audio"
)

// Static errors for decoding.
var (
	// ErrDecode is returned when the input is malformed for its format.
	ErrDecode = errors.New("decode: malformed audio")
	// ErrUnsupportedFormat is returned when no decoder handles the input.
	ErrUnsupportedFormat = errors.New("decode: unsupported audio format")
)

// Format identifies an input container.
type Format string

const (
	FormatUnknown Format = ""
	FormatWAV     Format = "wav"
	FormatAIFF    Format = "aiff"
	FormatMP3     Format = "mp3"
	FormatFLAC    Format = "flac"
)

// Decoder decodes a complete audio file into memory.
type Decoder interface {
	Decode(ctx context.Context, r io.ReadSeeker) (*audio.SampleBuffer, error)
}

// sniffLen is how many leading bytes Detect needs.
const sniffLen = 12

// Detect guesses the container of a file from its leading bytes, falling
// back to the file name extension.
func Detect(name string, header []byte) Format {
	switch {
	case len(header) >= 12 && string(header[0:4]) == "RIFF" && string(header[8:12]) == "WAVE":
		return FormatWAV
	case len(header) >= 12 && string(header[0:4]) == "FORM" &&
		(string(header[8:12]) == "AIFF" || string(header[8:12]) == "AIFC"):
		return FormatAIFF
	case len(header) >= 4 && string(header[0:4]) == "fLaC":
		return FormatFLAC
	case len(header) >= 3 && string(header[0:3]) == "ID3":
		return FormatMP3
	case len(header) >= 2 && header[0] == 0xFF && header[1]&0xE0 == 0xE0:
		return FormatMP3
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav", ".wave":
		return FormatWAV
	case ".aif", ".aiff", ".aifc":
		return FormatAIFF
	case ".flac":
		return FormatFLAC
	case ".mp3":
		return FormatMP3
	}
	return FormatUnknown
}

// Registry dispatches to a Decoder by detected format.
type Registry struct {
	decoders map[Format]Decoder
	fallback Decoder
	logger   *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithFallback sets the decoder used for formats without a native decoder.
func WithFallback(d Decoder) RegistryOption {
	return func(r *Registry) {
		r.fallback = d
	}
}

// WithDecoder registers or replaces the decoder for a format.
func WithDecoder(f Format, d Decoder) RegistryOption {
	return func(r *Registry) {
		r.decoders[f] = d
	}
}

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry returns a Registry with the native WAV, AIFF, MP3 and FLAC
// decoders installed.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		decoders: map[Format]Decoder{
			FormatWAV:  WAVDecoder{},
			FormatAIFF: AIFFDecoder{},
			FormatMP3:  MP3Decoder{},
			FormatFLAC: FLACDecoder{},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Decode detects the format of rs and decodes it. The returned format is
// the detected one, or "ffmpeg" when the fallback decoder was used.
// Decoder failures are wrapped with ErrDecode.
func (r *Registry) Decode(ctx context.Context, name string, rs io.ReadSeeker) (*audio.SampleBuffer, Format, error) {
	header := make([]byte, sniffLen)
	n, err := io.ReadFull(rs, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, FormatUnknown, fmt.Errorf("read header: %w", err)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, FormatUnknown, fmt.Errorf("rewind input: %w", err)
	}

	format := Detect(name, header[:n])
	dec, ok := r.decoders[format]
	native := ok
	if !ok {
		if r.fallback == nil {
			return nil, format, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
		}
		r.logger.Debug("no native decoder, using fallback",
			slog.String("name", name),
		)
		format, dec = "ffmpeg", r.fallback
	}

	buf, err := dec.Decode(ctx, rs)
	if errors.Is(err, ErrUnsupportedFormat) && r.fallback != nil && native {
		// A native decoder can reject a variant of its container, such as
		// float WAV; ffmpeg may still read it.
		r.logger.Debug("native decoder rejected input, using fallback",
			slog.String("name", name),
			slog.String("format", string(format)),
			slog.String("error", err.Error()),
		)
		if _, serr := rs.Seek(0, io.SeekStart); serr != nil {
			return nil, format, fmt.Errorf("rewind input: %w", serr)
		}
		format, dec = "ffmpeg", r.fallback
		buf, err = dec.Decode(ctx, rs)
	}
	if err != nil {
		if errors.Is(err, ErrDecode) || errors.Is(err, ErrUnsupportedFormat) || ctx.Err() != nil {
			return nil, format, err
		}
		return nil, format, fmt.Errorf("%w: %s: %w", ErrDecode, format, err)
	}
	return buf, format, nil
}

// DecodeBytes is a convenience wrapper around Decode for in-memory data.
func (r *Registry) DecodeBytes(ctx context.Context, name string, data []byte) (*audio.SampleBuffer, Format, error) {
	return r.Decode(ctx, name, bytes.NewReader(data))
}

// fromIntBuffer converts integer PCM to floating point by dividing by
// 2^(bitDepth-1). When unsigned is set, samples are offset-binary (8-bit WAV).
func fromIntBuffer(buf *goaudio.IntBuffer, bitDepth int, unsigned bool) (*audio.SampleBuffer, error) {
	if buf == nil || buf.Format == nil {
		return nil, fmt.Errorf("%w: missing PCM format", ErrDecode)
	}
	if bitDepth <= 0 || bitDepth > 32 {
		return nil, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedFormat, bitDepth)
	}

	scale := float64(int64(1) << (bitDepth - 1))
	offset := 0
	if unsigned {
		offset = 1 << (bitDepth - 1)
	}

	data := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		data[i] = float32(float64(v-offset) / scale)
	}

	numChannels := buf.Format.NumChannels
	// Drop a trailing partial frame rather than rejecting the whole file.
	if numChannels > 0 {
		data = data[:len(data)-len(data)%numChannels]
	}
	return audio.FromInterleaved(buf.Format.SampleRate, numChannels, data)
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
		return nil
	}
}
