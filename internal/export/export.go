// Package export encodes segments to WAV and hands them to a Saver.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/maauso/audiocut-api/internal/audio"
	"github.com/maauso/audiocut-api/internal/wav"
)

// Saver persists one encoded part and reports where it went.
type Saver interface {
	Save(ctx context.Context, filename string, data []byte) (location string, err error)
}

// SaverFunc adapts a function to the Saver interface.
type SaverFunc func(ctx context.Context, filename string, data []byte) (string, error)

// Save implements Saver.
func (f SaverFunc) Save(ctx context.Context, filename string, data []byte) (string, error) {
	return f(ctx, filename, data)
}

// Observer receives per-segment outcomes. Implementations must be safe for
// concurrent use.
type Observer interface {
	SegmentEncoded(bytes int)
	SegmentEncodeFailed()
	SegmentSaveFailed()
}

type noopObserver struct{}

func (noopObserver) SegmentEncoded(int)    {}
func (noopObserver) SegmentEncodeFailed() {}
func (noopObserver) SegmentSaveFailed()   {}

// Result is the outcome of exporting one segment.
type Result struct {
	Index     int
	Filename  string
	Location  string
	Size      int
	StartTime float64
	EndTime   float64
	Err       error
}

// OK reports whether the part was saved.
func (r Result) OK() bool {
	return r.Err == nil
}

// Exporter drives encoding and saving of segments.
type Exporter struct {
	saver       Saver
	concurrency int
	observer    Observer
	logger      *slog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithConcurrency bounds how many segments are encoded and saved at once.
// Values below 1 are treated as 1.
func WithConcurrency(n int) Option {
	return func(e *Exporter) {
		if n < 1 {
			n = 1
		}
		e.concurrency = n
	}
}

// WithObserver sets the observer notified per segment.
func WithObserver(o Observer) Option {
	return func(e *Exporter) {
		if o != nil {
			e.observer = o
		}
	}
}

// WithLogger sets the exporter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Exporter that writes parts through saver.
func New(saver Saver, opts ...Option) *Exporter {
	e := &Exporter{
		saver:       saver,
		concurrency: 1,
		observer:    noopObserver{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export encodes every segment and saves it as FileName(baseName, index).
// One Result is returned per segment, ordered by index. A failed segment
// does not stop the others. Once ctx is cancelled, segments that have not
// started yet fail with the context error.
func (e *Exporter) Export(ctx context.Context, baseName string, segments []audio.Segment) []Result {
	results := make([]Result, len(segments))

	var g errgroup.Group
	g.SetLimit(e.concurrency)

	for i, seg := range segments {
		results[i] = Result{
			Index:     seg.Index,
			Filename:  FileName(baseName, seg.Index),
			StartTime: seg.StartTime,
			EndTime:   seg.EndTime,
		}

		g.Go(func() error {
			e.exportOne(ctx, seg, &results[i])
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *Exporter) exportOne(ctx context.Context, seg audio.Segment, res *Result) {
	if err := ctx.Err(); err != nil {
		res.Err = fmt.Errorf("context cancelled: %w", err)
		return
	}

	data, err := wav.Encode(seg.Buffer)
	if err != nil {
		res.Err = fmt.Errorf("encode %s: %w", res.Filename, err)
		e.observer.SegmentEncodeFailed()
		e.logger.Warn("segment encode failed",
			slog.String("filename", res.Filename),
			slog.String("error", err.Error()),
		)
		return
	}
	res.Size = len(data)
	e.observer.SegmentEncoded(len(data))

	location, err := e.saver.Save(ctx, res.Filename, data)
	if err != nil {
		res.Err = fmt.Errorf("save %s: %w", res.Filename, err)
		e.observer.SegmentSaveFailed()
		e.logger.Warn("segment save failed",
			slog.String("filename", res.Filename),
			slog.String("error", err.Error()),
		)
		return
	}
	res.Location = location

	e.logger.Debug("segment exported",
		slog.String("filename", res.Filename),
		slog.String("location", location),
		slog.Int("bytes", len(data)),
	)
}

var extensionRe = regexp.MustCompile(`\.[^/.]+$`)

// BaseName strips the final extension from name: "song.mp3" -> "song",
// "a.b.c.wav" -> "a.b.c". Names without an extension are returned as is.
func BaseName(name string) string {
	return extensionRe.ReplaceAllString(name, "")
}

// FileName returns the part filename for a 0-based segment index.
func FileName(baseName string, index int) string {
	return baseName + "_part_" + strconv.Itoa(index+1) + ".wav"
}

// FormatTime renders seconds as mm:ss.cc, e.g. 83.456 -> "01:23.45".
// Minutes grow past two digits for long sources.
func FormatTime(seconds float64) string {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	mins := int(seconds / 60)
	secs := int(math.Mod(seconds, 60))
	centis := int(math.Mod(seconds, 1) * 100)
	return fmt.Sprintf("%02d:%02d.%02d", mins, secs, centis)
}

// RangeLabel is the "mm:ss.cc - mm:ss.cc" label of a part.
func RangeLabel(start, end float64) string {
	return FormatTime(start) + " - " + FormatTime(end)
}

// Label returns the time range label of the result.
func (r Result) Label() string {
	return RangeLabel(r.StartTime, r.EndTime)
}

// Succeeded counts the results without an error.
func Succeeded(results []Result) int {
	n := 0
	for _, r := range results {
		if r.OK() {
			n++
		}
	}
	return n
}
