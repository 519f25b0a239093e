// Command audiocut splits an audio file at the given cut points and writes
// one 16-bit PCM WAV file per part.
//
//	audiocut -in song.mp3 -cut 12.5 -cut 40 -out ./parts
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/maauso/audiocut-api/internal/audio"
	"github.com/maauso/audiocut-api/internal/decode"
	"github.com/maauso/audiocut-api/internal/export"
)

// cutList collects repeated -cut flags. Each value may also hold a
// comma-separated list.
type cutList []float64

func (c *cutList) String() string {
	parts := make([]string, len(*c))
	for i, v := range *c {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (c *cutList) Set(s string) error {
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return fmt.Errorf("invalid cut time %q", field)
		}
		*c = append(*c, v)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("audiocut", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var cuts cutList
	in := fs.String("in", "", "Input audio file (wav, aiff, flac, mp3)")
	fs.Var(&cuts, "cut", "Cut time in seconds; repeat or comma-separate for several")
	out := fs.String("out", ".", "Output directory for the parts")
	workers := fs.Int("workers", 1, "Number of parts encoded in parallel")
	auto := fs.Float64("auto", 0, "Also cut near silences every this many seconds")
	ffmpegPath := fs.String("ffmpeg", "", "Decode other formats with this ffmpeg binary")
	verbose := fs.Bool("v", false, "Verbose logging")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *in == "" {
		fmt.Fprintln(stderr, "audiocut: -in is required")
		fs.Usage()
		return 2
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	failed, err := split(ctx, logger, options{
		input:      *in,
		cuts:       cuts,
		outDir:     *out,
		workers:    *workers,
		autoTarget: *auto,
		ffmpegPath: *ffmpegPath,
	}, stdout)
	if err != nil {
		fmt.Fprintf(stderr, "audiocut: %v\n", err)
		return 1
	}
	if failed > 0 {
		fmt.Fprintf(stderr, "audiocut: %d part(s) failed\n", failed)
		return 1
	}
	return 0
}

type options struct {
	input      string
	cuts       []float64
	outDir     string
	workers    int
	autoTarget float64
	ffmpegPath string
}

// split decodes the input, exports every part and prints one line per part.
// It returns the number of parts that could not be written.
func split(ctx context.Context, logger *slog.Logger, opts options, stdout io.Writer) (int, error) {
	data, err := os.ReadFile(opts.input)
	if err != nil {
		return 0, err
	}

	regOpts := []decode.RegistryOption{decode.WithLogger(logger)}
	if opts.ffmpegPath != "" {
		regOpts = append(regOpts, decode.WithFallback(decode.NewFFmpegDecoder(opts.ffmpegPath)))
	}
	buf, format, err := decode.NewRegistry(regOpts...).DecodeBytes(ctx, opts.input, data)
	if err != nil {
		return 0, err
	}
	logger.Debug("decoded input",
		slog.String("format", string(format)),
		slog.Int("sample_rate", buf.SampleRate()),
		slog.Int("channels", buf.NumChannels()),
		slog.Float64("duration", buf.Duration()),
	)

	times := opts.cuts
	if opts.autoTarget > 0 {
		silenceOpts := audio.DefaultSilenceOpts()
		silenceOpts.TargetSec = opts.autoTarget
		suggested, err := audio.SuggestCutPoints(buf, silenceOpts)
		if err != nil {
			return 0, err
		}
		logger.Debug("suggested cut points", slog.Any("times", suggested))
		times = append(times, suggested...)
	}

	cutPoints := make([]audio.CutPoint, len(times))
	for i, t := range times {
		cutPoints[i] = audio.CutPoint{ID: strconv.Itoa(i + 1), Time: t}
	}
	segments, err := audio.Split(buf, cutPoints)
	if err != nil {
		return 0, err
	}

	exporter := export.New(export.DirSaver{Dir: opts.outDir},
		export.WithConcurrency(opts.workers),
		export.WithLogger(logger),
	)
	results := exporter.Export(ctx, export.BaseName(filepath.Base(opts.input)), segments)

	failed := 0
	for _, r := range results {
		label := r.Label()
		if !r.OK() {
			failed++
			fmt.Fprintf(stdout, "%s\t%s\tFAILED: %v\n", r.Filename, label, r.Err)
			continue
		}
		fmt.Fprintf(stdout, "%s\t%s\t%d bytes\t%s\n", r.Filename, label, r.Size, r.Location)
	}
	if err := ctx.Err(); err != nil {
		return failed, fmt.Errorf("export cancelled: %w", err)
	}
	return failed, nil
}
