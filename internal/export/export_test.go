package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/audiocut-api/internal/audio"
	"github.com/maauso/audiocut-api/internal/wav"
)

// memorySaver records saved parts in memory.
type memorySaver struct {
	mu    sync.Mutex
	files map[string][]byte
	fail  map[string]error
}

func newMemorySaver() *memorySaver {
	return &memorySaver{files: map[string][]byte{}, fail: map[string]error{}}
}

func (s *memorySaver) Save(_ context.Context, filename string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[filename]; err != nil {
		return "", err
	}
	s.files[filename] = data
	return "mem://" + filename, nil
}

type countingObserver struct {
	encoded      atomic.Int64
	bytes        atomic.Int64
	encodeFailed atomic.Int64
	failed       atomic.Int64
}

func (o *countingObserver) SegmentEncoded(n int) {
	o.encoded.Add(1)
	o.bytes.Add(int64(n))
}

func (o *countingObserver) SegmentEncodeFailed() {
	o.encodeFailed.Add(1)
}

func (o *countingObserver) SegmentSaveFailed() {
	o.failed.Add(1)
}

func twoSecondSegments(t *testing.T) []audio.Segment {
	t.Helper()
	src, err := audio.NewSampleBuffer(8000, [][]float32{make([]float32, 16000)})
	require.NoError(t, err)
	segs, err := audio.Split(src, []audio.CutPoint{{ID: "a", Time: 0.5}, {ID: "b", Time: 1.5}})
	require.NoError(t, err)
	require.Len(t, segs, 3)
	return segs
}

func TestBaseName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"song.mp3", "song"},
		{"a.b.c.wav", "a.b.c"},
		{"noext", "noext"},
		{".hidden", ""},
		{"dir.v2/track", "dir.v2/track"},
		{"take.", "take."},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, BaseName(tt.in))
		})
	}
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "song_part_1.wav", FileName("song", 0))
	assert.Equal(t, "song_part_12.wav", FileName("song", 11))
}

func TestFormatTime(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "00:00.00"},
		{5.5, "00:05.50"},
		{83.456, "01:23.45"},
		{600, "10:00.00"},
		{6000.25, "100:00.25"},
		{-3, "00:00.00"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatTime(tt.in), "FormatTime(%v)", tt.in)
	}
}

func TestResult_Label(t *testing.T) {
	r := Result{StartTime: 0.5, EndTime: 61.25}
	assert.Equal(t, "00:00.50 - 01:01.25", r.Label())
	assert.Equal(t, r.Label(), RangeLabel(0.5, 61.25))
}

func TestExport_Sequential(t *testing.T) {
	saver := newMemorySaver()
	obs := &countingObserver{}

	results := New(saver, WithObserver(obs)).Export(context.Background(), "song", twoSecondSegments(t))

	require.Len(t, results, 3)
	sizes := []int{44 + 4000*2, 44 + 8000*2, 44 + 4000*2}
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, i, r.Index)
		assert.Equal(t, FileName("song", i), r.Filename)
		assert.Equal(t, "mem://"+r.Filename, r.Location)
		assert.Equal(t, sizes[i], r.Size)
		assert.Len(t, saver.files[r.Filename], sizes[i])
	}
	assert.Equal(t, 3, Succeeded(results))
	assert.Equal(t, int64(3), obs.encoded.Load())
	assert.Equal(t, int64(sizes[0]+sizes[1]+sizes[2]), obs.bytes.Load())
	assert.Zero(t, obs.failed.Load())
}

func TestExport_SaveFailureDoesNotStopOthers(t *testing.T) {
	saver := newMemorySaver()
	saver.fail["song_part_2.wav"] = errors.New("disk full")
	obs := &countingObserver{}

	results := New(saver, WithObserver(obs)).Export(context.Background(), "song", twoSecondSegments(t))

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorContains(t, results[1].Err, "disk full")
	assert.Empty(t, results[1].Location)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, 2, Succeeded(results))
	assert.Equal(t, int64(1), obs.failed.Load())
	assert.Zero(t, obs.encodeFailed.Load())
	assert.Contains(t, saver.files, "song_part_3.wav")
}

func TestExport_ConcurrentKeepsOrder(t *testing.T) {
	src, err := audio.NewSampleBuffer(1000, [][]float32{make([]float32, 10000), make([]float32, 10000)})
	require.NoError(t, err)

	var cuts []audio.CutPoint
	for i := 1; i < 10; i++ {
		cuts = append(cuts, audio.CutPoint{Time: float64(i)})
	}
	segs, err := audio.Split(src, cuts)
	require.NoError(t, err)

	saver := newMemorySaver()
	results := New(saver, WithConcurrency(4)).Export(context.Background(), "x", segs)

	require.Len(t, results, 10)
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, i, r.Index)
		assert.Equal(t, FileName("x", i), r.Filename)
		assert.InDelta(t, float64(i), r.StartTime, 1e-9)
	}
	assert.Len(t, saver.files, 10)
}

func TestExport_EncodeErrorRecorded(t *testing.T) {
	segs := []audio.Segment{{Buffer: nil, StartTime: 0, EndTime: 1, Index: 0}}

	obs := &countingObserver{}

	results := New(newMemorySaver(), WithObserver(obs)).Export(context.Background(), "s", segs)

	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, wav.ErrUnsupportedChannelCount)
	assert.Equal(t, int64(1), obs.encodeFailed.Load())
	assert.Zero(t, obs.failed.Load())
}

func TestExport_ZeroFrameSegmentIsEncodeFailure(t *testing.T) {
	src, err := audio.NewSampleBuffer(8000, [][]float32{make([]float32, 16000)})
	require.NoError(t, err)
	// The middle span is shorter than one sample period.
	segs, err := audio.Split(src, []audio.CutPoint{{ID: "a", Time: 1}, {ID: "b", Time: 1.00001}})
	require.NoError(t, err)
	require.Len(t, segs, 3)
	require.Zero(t, segs[1].Buffer.Len())

	saver := newMemorySaver()
	obs := &countingObserver{}
	results := New(saver, WithObserver(obs)).Export(context.Background(), "song", segs)

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, wav.ErrEmptySegment)
	assert.NoError(t, results[2].Err)
	assert.Equal(t, int64(2), obs.encoded.Load())
	assert.Equal(t, int64(1), obs.encodeFailed.Load())
	assert.Zero(t, obs.failed.Load())
	assert.NotContains(t, saver.files, "song_part_2.wav")
}

func TestExport_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	saver := newMemorySaver()
	results := New(saver).Export(ctx, "song", twoSecondSegments(t))

	require.Len(t, results, 3)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
	assert.Empty(t, saver.files)
}

func TestExport_CancelBetweenSegments(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	saver := SaverFunc(func(_ context.Context, filename string, _ []byte) (string, error) {
		calls++
		cancel()
		return filename, nil
	})

	results := New(saver).Export(ctx, "song", twoSecondSegments(t))

	assert.Equal(t, 1, calls)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, context.Canceled)
	assert.ErrorIs(t, results[2].Err, context.Canceled)
}

func TestExport_NoSegments(t *testing.T) {
	assert.Empty(t, New(newMemorySaver()).Export(context.Background(), "s", nil))
}

func TestDirSaver(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s := DirSaver{Dir: dir}

	loc, err := s.Save(context.Background(), "a_part_1.wav", []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a_part_1.wav"), loc)

	got, err := os.ReadFile(loc)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)

	_, err = s.Save(context.Background(), "../escape.wav", []byte("x"))
	assert.Error(t, err)
}
