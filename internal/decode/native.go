package decode

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/aiff"
	"github.com/go-audio/riff"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/mewkiz/flac"

	"github.com/maauso/audiocut-api/internal/audio"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE

	// fmt chunk size when the WAVE_FORMAT_EXTENSIBLE fields are present.
	extensibleFmtSize = 40
)

// guidTail is bytes 2..15 of every KSDATAFORMAT_SUBTYPE_* GUID; the first two
// bytes carry the plain format code.
var guidTail = [14]byte{0x00, 0x00, 0x00, 0x00, 0x10, 0x00, 0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71}

// WAVDecoder decodes integer PCM WAV files.
type WAVDecoder struct{}

// Decode implements Decoder.
func (WAVDecoder) Decode(ctx context.Context, r io.ReadSeeker) (*audio.SampleBuffer, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	format, err := wavSampleFormat(r)
	if err != nil {
		return nil, err
	}
	if format != wavFormatPCM {
		return nil, fmt.Errorf("%w: WAV sample format %#x", ErrUnsupportedFormat, format)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind WAV: %w", err)
	}

	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid WAV file", ErrDecode)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read WAV samples: %w", err)
	}
	bitDepth := int(d.BitDepth)
	return fromIntBuffer(buf, bitDepth, bitDepth == 8)
}

// wavSampleFormat reads the fmt chunk of a WAV stream and returns its
// format code. For WAVE_FORMAT_EXTENSIBLE the code embedded in the
// SubFormat GUID is returned instead, so extensible float data is not
// mistaken for integer PCM.
func wavSampleFormat(r io.ReadSeeker) (uint16, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind WAV: %w", err)
	}
	p := riff.New(r)
	if err := p.ParseHeaders(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if p.Format != riff.WavFormatID {
		return 0, fmt.Errorf("%w: RIFF form %q is not WAVE", ErrDecode, p.Format[:])
	}

	for {
		ch, err := p.NextChunk()
		if err != nil {
			return 0, fmt.Errorf("%w: no fmt chunk", ErrDecode)
		}
		if ch.ID != riff.FmtID {
			ch.Drain()
			continue
		}

		var format uint16
		if err := ch.ReadLE(&format); err != nil {
			return 0, fmt.Errorf("%w: short fmt chunk", ErrDecode)
		}
		if format != wavFormatExtensible {
			return format, nil
		}
		if ch.Size < extensibleFmtSize {
			return 0, fmt.Errorf("%w: extensible fmt chunk of %d bytes", ErrDecode, ch.Size)
		}

		// channels, rate, byte rate, block align, bits, cbSize, valid bits, mask
		var fields [22]byte
		var guid [16]byte
		if err := ch.ReadLE(&fields); err != nil {
			return 0, fmt.Errorf("%w: short fmt chunk", ErrDecode)
		}
		if err := ch.ReadLE(&guid); err != nil {
			return 0, fmt.Errorf("%w: short fmt chunk", ErrDecode)
		}
		if !bytes.Equal(guid[2:], guidTail[:]) {
			return 0, fmt.Errorf("%w: unknown WAV SubFormat GUID % x", ErrUnsupportedFormat, guid)
		}
		return binary.LittleEndian.Uint16(guid[:2]), nil
	}
}

// AIFFDecoder decodes uncompressed AIFF files.
type AIFFDecoder struct{}

// Decode implements Decoder.
func (AIFFDecoder) Decode(ctx context.Context, r io.ReadSeeker) (*audio.SampleBuffer, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	d := aiff.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid AIFF file", ErrDecode)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read AIFF samples: %w", err)
	}
	return fromIntBuffer(buf, int(d.BitDepth), false)
}

// MP3Decoder decodes MPEG-1/2 layer III files. go-mp3 always produces
// 16-bit stereo, so mono sources come out with two identical channels.
type MP3Decoder struct{}

// mp3Channels is the fixed channel count of go-mp3 output.
const mp3Channels = 2

// Decode implements Decoder.
func (MP3Decoder) Decode(ctx context.Context, r io.ReadSeeker) (*audio.SampleBuffer, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	d, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("open MP3 stream: %w", err)
	}

	pcm, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("read MP3 samples: %w", err)
	}

	numSamples := len(pcm) / 2
	numSamples -= numSamples % mp3Channels
	data := make([]float32, numSamples)
	for i := range data {
		data[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return audio.FromInterleaved(d.SampleRate(), mp3Channels, data)
}

// FLACDecoder decodes FLAC files frame by frame.
type FLACDecoder struct{}

// Decode implements Decoder. Cancellation is checked between frames.
func (FLACDecoder) Decode(ctx context.Context, r io.ReadSeeker) (*audio.SampleBuffer, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("open FLAC stream: %w", err)
	}
	defer stream.Close()

	info := stream.Info
	numChannels := int(info.NChannels)
	bitDepth := int(info.BitsPerSample)
	if numChannels == 0 || bitDepth == 0 {
		return nil, fmt.Errorf("%w: FLAC stream info has %d channels, %d bits", ErrDecode, numChannels, bitDepth)
	}
	scale := float32(int64(1) << (bitDepth - 1))

	// NSamples is 0 when unknown; cap the hint so a bogus header cannot
	// force a huge allocation.
	capacity := int(min(info.NSamples, 1<<24))
	channels := make([][]float32, numChannels)
	for ch := range channels {
		channels[ch] = make([]float32, 0, capacity)
	}

	for {
		if err := checkContext(ctx); err != nil {
			return nil, err
		}

		frame, err := stream.ParseNext()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parse FLAC frame: %w", err)
		}
		if len(frame.Subframes) != numChannels {
			return nil, fmt.Errorf("%w: frame has %d subframes, stream has %d channels",
				ErrDecode, len(frame.Subframes), numChannels)
		}

		for ch, sub := range frame.Subframes {
			for _, s := range sub.Samples {
				channels[ch] = append(channels[ch], float32(s)/scale)
			}
		}
	}

	return audio.NewSampleBuffer(int(info.SampleRate), channels)
}

// Verify interface implementations at compile time.
var (
	_ Decoder = WAVDecoder{}
	_ Decoder = AIFFDecoder{}
	_ Decoder = MP3Decoder{}
	_ Decoder = FLACDecoder{}
)
