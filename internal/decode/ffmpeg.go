package decode

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/maauso/audiocut-api/internal/audio"
)

// FFmpegDecoder decodes any format ffmpeg understands by converting it to
// 32-bit float PCM on stdout. It is used for inputs the native decoders do
// not cover (ogg, m4a, opus, ...).
type FFmpegDecoder struct {
	ffmpegPath string
}

// NewFFmpegDecoder creates a new FFmpegDecoder.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found in PATH).
func NewFFmpegDecoder(ffmpegPath string) *FFmpegDecoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegDecoder{ffmpegPath: ffmpegPath}
}

// streamInfo is what the ffmpeg banner tells us about the first audio stream.
type streamInfo struct {
	sampleRate int
	channels   int
}

var (
	audioStreamRe = regexp.MustCompile(`Stream #\d+:\d+.*?: Audio: [^,]+, (\d+) Hz, ([^,]+)`)
	channelsRe    = regexp.MustCompile(`^(\d+) channels`)
)

// channelLayouts maps ffmpeg layout names to channel counts.
var channelLayouts = map[string]int{
	"mono":      1,
	"stereo":    2,
	"2.1":       3,
	"3.0":       3,
	"quad":      4,
	"4.0":       4,
	"5.0":       5,
	"5.0(side)": 5,
	"5.1":       6,
	"5.1(side)": 6,
	"6.1":       7,
	"7.1":       8,
	"7.1(wide)": 8,
}

// Decode implements Decoder.
func (d *FFmpegDecoder) Decode(ctx context.Context, r io.ReadSeeker) (*audio.SampleBuffer, error) {
	info, err := d.readBanner(ctx, r)
	if err != nil {
		return nil, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind input: %w", err)
	}

	cmd := exec.CommandContext(ctx, d.ffmpegPath,
		"-hide_banner",
		"-i", "pipe:0",
		"-vn",
		"-f", "f32le",
		"-acodec", "pcm_f32le",
		"-ac", strconv.Itoa(info.channels),
		"-ar", strconv.Itoa(info.sampleRate),
		"pipe:1",
	)
	cmd.Stdin = r

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: ffmpeg error: %v, stderr: %s", ErrDecode, err, lastLine(stderr.String()))
	}

	raw := stdout.Bytes()
	numSamples := len(raw) / 4
	numSamples -= numSamples % info.channels
	data := make([]float32, numSamples)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}

	return audio.FromInterleaved(info.sampleRate, info.channels, data)
}

// readBanner reads the input banner to find the sample rate and channel count.
func (d *FFmpegDecoder) readBanner(ctx context.Context, r io.Reader) (streamInfo, error) {
	cmd := exec.CommandContext(ctx, d.ffmpegPath,
		"-hide_banner",
		"-i", "pipe:0",
		"-f", "null", "-",
	)
	cmd.Stdin = r

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	// ffmpeg writes stream info to stderr; the exit code is irrelevant here.
	_ = cmd.Run()
	if ctx.Err() != nil {
		return streamInfo{}, fmt.Errorf("context cancelled: %w", ctx.Err())
	}

	return parseStreamInfo(stderr.String())
}

// parseStreamInfo extracts sample rate and channel count from the first
// audio stream line of ffmpeg output, e.g.
// "Stream #0:0: Audio: vorbis, 44100 Hz, stereo, fltp, 128 kb/s".
func parseStreamInfo(output string) (streamInfo, error) {
	matches := audioStreamRe.FindStringSubmatch(output)
	if len(matches) < 3 {
		return streamInfo{}, fmt.Errorf("%w: no audio stream found", ErrUnsupportedFormat)
	}

	rate, err := strconv.Atoi(matches[1])
	if err != nil || rate <= 0 {
		return streamInfo{}, fmt.Errorf("%w: bad sample rate %q", ErrDecode, matches[1])
	}

	layout := strings.TrimSpace(matches[2])
	channels, ok := channelLayouts[layout]
	if !ok {
		if m := channelsRe.FindStringSubmatch(layout); len(m) > 1 {
			channels, _ = strconv.Atoi(m[1])
		}
	}
	if channels <= 0 {
		return streamInfo{}, fmt.Errorf("%w: unknown channel layout %q", ErrUnsupportedFormat, layout)
	}

	return streamInfo{sampleRate: rate, channels: channels}, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// Verify interface implementation at compile time.
var _ Decoder = (*FFmpegDecoder)(nil)
