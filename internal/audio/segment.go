package audio

import (
	"math"
	"sort"
)

// CutPoint marks a time, in seconds, at which the source is split.
// ID addresses the cut point for add/remove operations and plays no part
// in segmentation.
type CutPoint struct {
	ID   string  `json:"id"`
	Time float64 `json:"time"`
}

// Segment is a contiguous piece of a source buffer covering
// [StartTime, EndTime) seconds.
type Segment struct {
	// Buffer holds a copy of the source samples in the segment's range.
	Buffer *SampleBuffer
	// StartTime is the segment start in seconds, inclusive.
	StartTime float64
	// EndTime is the segment end in seconds, exclusive.
	EndTime float64
	// Index is the zero-based position among emitted segments.
	Index int
}

// Duration returns EndTime - StartTime.
func (s Segment) Duration() float64 {
	return s.EndTime - s.StartTime
}

// Split splits source at the given cut points and returns the pieces in
// time order. The source is never modified; every segment owns a copy of
// its samples.
//
// Cut points are sorted by time and clamped into [0, duration], so points
// outside the buffer, duplicates and points on either end collapse into
// zero-length spans, which are dropped without consuming an index. NaN
// times are ignored. With no cut points a single segment covering the whole
// buffer is returned.
func Split(source *SampleBuffer, cutPoints []CutPoint) ([]Segment, error) {
	if source.Len() == 0 {
		return nil, ErrEmptySource
	}

	duration := source.Duration()
	breakpoints := Breakpoints(duration, cutPoints)

	segments := make([]Segment, 0, len(breakpoints)-1)
	for i := 0; i < len(breakpoints)-1; i++ {
		start, end := breakpoints[i], breakpoints[i+1]
		if !(end > start) {
			continue
		}

		first := source.sampleIndex(start)
		last := source.sampleIndex(end)
		segments = append(segments, Segment{
			Buffer:    source.slice(first, last),
			StartTime: start,
			EndTime:   end,
			Index:     len(segments),
		})
	}

	return segments, nil
}

// Breakpoints returns the ordered split times [0, t1, ..., tk, duration]
// for the given cut points, with each time clamped into [0, duration].
func Breakpoints(duration float64, cutPoints []CutPoint) []float64 {
	times := make([]float64, 0, len(cutPoints))
	for _, cp := range cutPoints {
		if math.IsNaN(cp.Time) {
			continue
		}
		times = append(times, math.Min(math.Max(cp.Time, 0), duration))
	}
	sort.Float64s(times)

	breakpoints := make([]float64, 0, len(times)+2)
	breakpoints = append(breakpoints, 0)
	breakpoints = append(breakpoints, times...)
	return append(breakpoints, duration)
}

// CountSegments returns how many segments Split would emit for a buffer
// of the given duration, without copying any samples.
func CountSegments(duration float64, cutPoints []CutPoint) int {
	breakpoints := Breakpoints(duration, cutPoints)
	n := 0
	for i := 0; i < len(breakpoints)-1; i++ {
		if breakpoints[i+1] > breakpoints[i] {
			n++
		}
	}
	return n
}

// sampleIndex converts a time in seconds to a sample index with
// floor(t * sampleRate), bounded to [0, Len]. The buffer end always maps to
// Len so the last segment reaches the final sample.
func (b *SampleBuffer) sampleIndex(t float64) int {
	if t >= b.Duration() {
		return b.Len()
	}
	idx := int(math.Floor(t * float64(b.sampleRate)))
	if idx < 0 {
		return 0
	}
	if idx > b.Len() {
		return b.Len()
	}
	return idx
}
