// Package wav serializes sample buffers into canonical 16-bit PCM WAV files
// and reads their headers back.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/riff"

	"github.com/maauso/audiocut-api/internal/audio"
)

// ContentType is the MIME type of encoded files.
const ContentType = "audio/wav"

const (
	// HeaderSize is the size of the RIFF, fmt and data chunk headers.
	HeaderSize = 44
	// BitsPerSample is the sample width of every encoded file.
	BitsPerSample = 16

	formatPCM    = 1
	fmtChunkSize = 16
	bytesPerSamp = BitsPerSample / 8

	// streamFrames is how many frames EncodeTo converts per write.
	streamFrames = 4096
)

// Static errors for encoding.
var (
	// ErrEmptySegment is returned when encoding a buffer with no frames.
	ErrEmptySegment = errors.New("wav: segment has no frames")
	// ErrUnsupportedChannelCount is returned when encoding a buffer with no channels.
	ErrUnsupportedChannelCount = errors.New("wav: unsupported channel count")
	// ErrSegmentTooLarge is returned when the payload does not fit the
	// 32-bit RIFF size fields.
	ErrSegmentTooLarge = errors.New("wav: segment exceeds 4 GiB container limit")
)

// EncodedSize returns the size in bytes of the file Encode produces for a
// buffer with the given frame and channel counts.
func EncodedSize(frames, channels int) int64 {
	return HeaderSize + int64(frames)*int64(channels)*bytesPerSamp
}

// Encode returns the complete WAV file for buf: a 44-byte header followed
// by every channel interleaved frame by frame as 16-bit little-endian PCM.
func Encode(buf *audio.SampleBuffer) ([]byte, error) {
	dataLen, err := payloadSize(buf)
	if err != nil {
		return nil, err
	}

	out := make([]byte, HeaderSize+dataLen)
	putHeader(out, buf.NumChannels(), buf.SampleRate(), dataLen)
	putFrames(out[HeaderSize:], buf, 0, buf.Len())
	return out, nil
}

// EncodeTo writes the same bytes as Encode to w without materializing the
// whole payload, and returns the number of bytes written.
func EncodeTo(w io.Writer, buf *audio.SampleBuffer) (int64, error) {
	dataLen, err := payloadSize(buf)
	if err != nil {
		return 0, err
	}

	var written int64
	header := make([]byte, HeaderSize)
	putHeader(header, buf.NumChannels(), buf.SampleRate(), dataLen)
	n, err := w.Write(header)
	written += int64(n)
	if err != nil {
		return written, fmt.Errorf("write header: %w", err)
	}

	frameBytes := buf.NumChannels() * bytesPerSamp
	chunk := make([]byte, streamFrames*frameBytes)
	for start := 0; start < buf.Len(); start += streamFrames {
		count := min(streamFrames, buf.Len()-start)
		putFrames(chunk, buf, start, count)
		n, err := w.Write(chunk[:count*frameBytes])
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("write samples: %w", err)
		}
	}

	return written, nil
}

// payloadSize validates buf and returns the data chunk length in bytes.
func payloadSize(buf *audio.SampleBuffer) (int, error) {
	channels := buf.NumChannels()
	if channels == 0 {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedChannelCount, channels)
	}
	frames := buf.Len()
	if frames == 0 {
		return 0, ErrEmptySegment
	}

	size := EncodedSize(frames, channels)
	if size > math.MaxUint32+8 || channels > math.MaxUint16/bytesPerSamp {
		return 0, fmt.Errorf("%w: %d frames x %d channels", ErrSegmentTooLarge, frames, channels)
	}
	return int(size - HeaderSize), nil
}

// putHeader writes the RIFF, fmt and data chunk headers into dst[:44].
func putHeader(dst []byte, channels, sampleRate, dataLen int) {
	le := binary.LittleEndian
	blockAlign := channels * bytesPerSamp

	copy(dst[0:4], riff.RiffID[:])
	le.PutUint32(dst[4:8], uint32(36+dataLen))
	copy(dst[8:12], riff.WavFormatID[:])

	copy(dst[12:16], riff.FmtID[:])
	le.PutUint32(dst[16:20], fmtChunkSize)
	le.PutUint16(dst[20:22], formatPCM)
	le.PutUint16(dst[22:24], uint16(channels))
	le.PutUint32(dst[24:28], uint32(sampleRate))
	le.PutUint32(dst[28:32], uint32(sampleRate*blockAlign))
	le.PutUint16(dst[32:34], uint16(blockAlign))
	le.PutUint16(dst[34:36], BitsPerSample)

	copy(dst[36:40], riff.DataFormatID[:])
	le.PutUint32(dst[40:44], uint32(dataLen))
}

// putFrames quantizes count frames of buf starting at frame start and
// writes them interleaved into dst.
func putFrames(dst []byte, buf *audio.SampleBuffer, start, count int) {
	channels := buf.NumChannels()
	offset := 0
	for f := start; f < start+count; f++ {
		for ch := 0; ch < channels; ch++ {
			binary.LittleEndian.PutUint16(dst[offset:], uint16(Quantize(buf.Sample(ch, f))))
			offset += bytesPerSamp
		}
	}
}
