package audio

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidSilenceOpts is returned for a target length below MinTargetSec
// or one that would need more than MaxSuggestedCuts cuts.
var ErrInvalidSilenceOpts = errors.New("audio: invalid target part length")

const (
	// MinTargetSec is the shortest part length SuggestCutPoints accepts.
	MinTargetSec = 0.1
	// MaxSuggestedCuts caps the cuts a single suggestion may produce.
	MaxSuggestedCuts = 1000
)

// SilenceOpts configures automatic cut point placement.
type SilenceOpts struct {
	// TargetSec is the preferred part length in seconds. Cuts are placed
	// in the middle of a silence close to each multiple of it.
	TargetSec float64
	// MinSilenceMs is the minimum silence duration considered for a cut.
	MinSilenceMs int
	// ThreshDB is the level in dBFS below which audio counts as silence.
	ThreshDB float64
}

// DefaultSilenceOpts returns the default options for automatic cuts.
func DefaultSilenceOpts() SilenceOpts {
	return SilenceOpts{
		TargetSec:    45,
		MinSilenceMs: 500,
		ThreshDB:     -40,
	}
}

// Silence is a quiet interval of a buffer, in seconds.
type Silence struct {
	Start float64
	End   float64
}

// Middle returns the center of the interval.
func (s Silence) Middle() float64 {
	return (s.Start + s.End) / 2
}

// DetectSilences returns the intervals where every channel stays at or below
// threshDB for at least minSilenceMs, in time order.
func (b *SampleBuffer) DetectSilences(threshDB float64, minSilenceMs int) []Silence {
	n := b.Len()
	if n == 0 {
		return nil
	}
	limit := float32(math.Pow(10, threshDB/20))
	minFrames := max(1, int(math.Ceil(float64(minSilenceMs)*float64(b.sampleRate)/1000)))
	rate := float64(b.sampleRate)

	var silences []Silence
	runStart := -1
	flush := func(end int) {
		if runStart >= 0 && end-runStart >= minFrames {
			silences = append(silences, Silence{Start: float64(runStart) / rate, End: float64(end) / rate})
		}
		runStart = -1
	}

	for i := 0; i < n; i++ {
		quiet := true
		for _, data := range b.channels {
			if v := data[i]; v > limit || v < -limit {
				quiet = false
				break
			}
		}
		switch {
		case quiet && runStart < 0:
			runStart = i
		case !quiet:
			flush(i)
		}
	}
	flush(n)

	return silences
}

// SuggestCutPoints proposes cut times that split b into parts of roughly
// opts.TargetSec, preferring the middle of a nearby silence. Audio no
// longer than the target gets no cuts.
func SuggestCutPoints(b *SampleBuffer, opts SilenceOpts) ([]float64, error) {
	if math.IsNaN(opts.TargetSec) || math.IsInf(opts.TargetSec, 0) || opts.TargetSec < MinTargetSec {
		return nil, fmt.Errorf("%w: %v s is below %v s", ErrInvalidSilenceOpts, opts.TargetSec, MinTargetSec)
	}
	duration := b.Duration()
	if duration <= opts.TargetSec {
		return nil, nil
	}
	if n := duration / opts.TargetSec; n > MaxSuggestedCuts+1 {
		return nil, fmt.Errorf("%w: %.0f s in %v s parts needs more than %d cuts",
			ErrInvalidSilenceOpts, duration, opts.TargetSec, MaxSuggestedCuts)
	}

	silences := b.DetectSilences(opts.ThreshDB, opts.MinSilenceMs)
	if len(silences) == 0 {
		return fixedCutPoints(duration, opts.TargetSec), nil
	}

	target := opts.TargetSec
	var cuts []float64
	last := 0.0

	for last < duration-target/2 {
		ideal := last + target
		if ideal <= last || len(cuts) > MaxSuggestedCuts {
			return nil, fmt.Errorf("%w: cut placement did not advance past %v s", ErrInvalidSilenceOpts, last)
		}
		// Allow a third of the target as deviation.
		best := nearestSilence(silences, ideal, target/3)

		if best != nil && best.Middle() > last+1 {
			cuts = append(cuts, best.Middle())
			last = best.Middle()
			continue
		}
		if ideal < duration-1 {
			cuts = append(cuts, ideal)
		}
		last = ideal
	}

	return cuts, nil
}

// fixedCutPoints spaces cuts evenly when there is no silence to snap to.
func fixedCutPoints(duration, target float64) []float64 {
	var cuts []float64
	for i := 1; ; i++ {
		t := target * float64(i)
		if t >= duration-1 {
			return cuts
		}
		cuts = append(cuts, t)
	}
}

// nearestSilence returns the silence whose middle is closest to ideal and
// strictly within tolerance of it.
func nearestSilence(silences []Silence, ideal, tolerance float64) *Silence {
	var best *Silence
	bestDistance := tolerance

	for i := range silences {
		mid := silences[i].Middle()
		if mid < ideal-tolerance {
			continue
		}
		if mid > ideal+tolerance {
			break
		}
		if d := math.Abs(mid - ideal); d < bestDistance {
			bestDistance = d
			best = &silences[i]
		}
	}

	return best
}
