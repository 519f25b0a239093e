package job

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/audiocut-api/internal/audio"
	"github.com/maauso/audiocut-api/internal/decode"
	"github.com/maauso/audiocut-api/internal/storage"
	"github.com/maauso/audiocut-api/internal/wav"
)

// mockStorage implements storage.Storage for testing.
type mockStorage struct {
	mock.Mock
}

func (m *mockStorage) SaveTemp(ctx context.Context, name string, data io.Reader) (string, error) {
	args := m.Called(ctx, name, data)
	return args.String(0), args.Error(1)
}

func (m *mockStorage) SaveFile(ctx context.Context, relPath string, data io.Reader) (string, error) {
	args := m.Called(ctx, relPath, data)
	return args.String(0), args.Error(1)
}

func (m *mockStorage) LoadTemp(ctx context.Context, path string) (io.ReadCloser, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(io.ReadCloser), args.Error(1)
}

func (m *mockStorage) CleanupTemp(ctx context.Context, paths []string) error {
	args := m.Called(ctx, paths)
	return args.Error(0)
}

func (m *mockStorage) UploadToS3(ctx context.Context, key, contentType string, data io.Reader) (string, error) {
	args := m.Called(ctx, key, contentType, data)
	return args.String(0), args.Error(1)
}

type recordingRecorder struct {
	mu       sync.Mutex
	decodes  []string
	statuses []string
}

func (r *recordingRecorder) ObserveDecode(format string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decodes = append(r.decodes, format)
}

func (r *recordingRecorder) ExportFinished(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

// twoSecondWAV is 2 s of mono audio at 8 kHz.
func twoSecondWAV(t *testing.T) []byte {
	t.Helper()
	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = float32(i%100)/100 - 0.5
	}
	buf, err := audio.NewSampleBuffer(8000, [][]float32{samples})
	require.NoError(t, err)
	data, err := wav.Encode(buf)
	require.NoError(t, err)
	return data
}

func newTestService(t *testing.T, opts ...ServiceOption) (*SplitService, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(filepath.Join(t.TempDir(), "audiocut"))
	require.NoError(t, err)
	return NewSplitService(NewMemoryRepository(), store, decode.NewRegistry(), nil, opts...), store
}

func TestSplitService_CreateJob(t *testing.T) {
	rec := &recordingRecorder{}
	svc, _ := newTestService(t, WithRecorder(rec))
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, CreateJobInput{
		SourceName: "uploads/Song.Final.wav",
		Audio:      twoSecondWAV(t),
		CutPoints:  []float64{1.5, 0.5},
		PushToS3:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusReady, job.Status)
	assert.Equal(t, "Song.Final.wav", job.SourceName)
	assert.Equal(t, "Song.Final", job.BaseName)
	assert.Equal(t, 8000, job.SampleRate)
	assert.Equal(t, 1, job.Channels)
	assert.Equal(t, 16000, job.Frames)
	assert.InDelta(t, 2.0, job.Duration, 1e-9)
	assert.Len(t, job.CutPoints, 2)
	assert.Equal(t, 3, job.PlannedParts())
	assert.True(t, job.PushToS3)
	assert.FileExists(t, job.SourcePath)
	assert.Equal(t, []string{"wav"}, rec.decodes)

	saved, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, saved.ID)
}

func TestSplitService_CreateJob_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateJob(ctx, CreateJobInput{SourceName: "a.wav"})
	assert.ErrorIs(t, err, ErrEmptyAudio)

	_, err = svc.CreateJob(ctx, CreateJobInput{SourceName: "a.ogg", Audio: []byte("OggS....")})
	assert.ErrorIs(t, err, decode.ErrUnsupportedFormat)

	_, err = svc.CreateJob(ctx, CreateJobInput{SourceName: "a.wav", Audio: []byte("RIFF\x04\x00\x00\x00WAVE")})
	assert.ErrorIs(t, err, decode.ErrDecode)

	jobs, err := svc.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestSplitService_CreateJob_SaveFailure(t *testing.T) {
	store := &mockStorage{}
	store.On("SaveTemp", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("disk full"))

	svc := NewSplitService(NewMemoryRepository(), store, decode.NewRegistry(), nil)
	_, err := svc.CreateJob(context.Background(), CreateJobInput{SourceName: "a.wav", Audio: twoSecondWAV(t)})

	assert.ErrorContains(t, err, "disk full")
	store.AssertExpectations(t)
}

func TestSplitService_MalformedID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, jobID := range []string{"", "../etc", "job-abc", "JOB-1"} {
		_, err := svc.GetJob(ctx, jobID)
		assert.ErrorIs(t, err, ErrJobNotFound, jobID)
		_, _, err = svc.OpenPart(ctx, jobID, 1)
		assert.ErrorIs(t, err, ErrJobNotFound, jobID)
	}
}

func TestSplitService_CutPoints(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, CreateJobInput{SourceName: "a.wav", Audio: twoSecondWAV(t)})
	require.NoError(t, err)

	cp, err := svc.AddCutPoint(ctx, job.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, cp.Time)

	got, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, []audio.CutPoint{cp}, got.CutPoints)

	assert.ErrorIs(t, svc.RemoveCutPoint(ctx, job.ID, "nope"), ErrCutPointNotFound)
	require.NoError(t, svc.RemoveCutPoint(ctx, job.ID, cp.ID))

	_, err = svc.AddCutPoint(ctx, job.ID, 0.5)
	require.NoError(t, err)
	require.NoError(t, svc.ClearCutPoints(ctx, job.ID))

	got, err = svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, got.CutPoints)

	_, err = svc.AddCutPoint(ctx, "job-missing", 1)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSplitService_SuggestCutPoints(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, CreateJobInput{SourceName: "a.wav", Audio: twoSecondWAV(t), CutPoints: []float64{1.5}})
	require.NoError(t, err)

	// The ramp has no silence, so cuts fall at multiples of the target.
	added, err := svc.SuggestCutPoints(ctx, job.ID, audio.SilenceOpts{TargetSec: 0.5, MinSilenceMs: 200, ThreshDB: -40}, false)
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.InDelta(t, 0.5, added[0].Time, 1e-9)

	got, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, got.CutPoints, 2)

	added, err = svc.SuggestCutPoints(ctx, job.ID, audio.SilenceOpts{TargetSec: 0.8, MinSilenceMs: 200, ThreshDB: -40}, true)
	require.NoError(t, err)
	require.Len(t, added, 1)

	got, err = svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got.CutPoints, 1)
	assert.InDelta(t, 0.8, got.CutPoints[0].Time, 1e-9)

	_, err = svc.SuggestCutPoints(ctx, job.ID, audio.SilenceOpts{}, false)
	assert.ErrorIs(t, err, audio.ErrInvalidSilenceOpts)

	_, err = svc.SuggestCutPoints(ctx, "job-missing", audio.DefaultSilenceOpts(), false)
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = svc.StartExport(ctx, job.ID, ExportOptions{})
	require.NoError(t, err)
	_, err = svc.SuggestCutPoints(ctx, job.ID, audio.DefaultSilenceOpts(), false)
	assert.ErrorIs(t, err, ErrJobBusy)
}

func TestSplitService_Export(t *testing.T) {
	rec := &recordingRecorder{}
	svc, store := newTestService(t, WithRecorder(rec), WithConcurrency(2))
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, CreateJobInput{
		SourceName: "song.wav",
		Audio:      twoSecondWAV(t),
		CutPoints:  []float64{0.5, 1.5},
	})
	require.NoError(t, err)

	done, err := svc.Export(ctx, job.ID, ExportOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, done.Status)
	require.Len(t, done.Parts, 3)
	sizes := []int{44 + 4000*2, 44 + 8000*2, 44 + 4000*2}
	for i, p := range done.Parts {
		assert.Equal(t, i, p.Index)
		assert.Equal(t, "song_part_"+string(rune('1'+i))+".wav", p.Filename)
		assert.Equal(t, sizes[i], p.Size)
		assert.Equal(t, filepath.Join(store.TempDir(), job.ID, p.Filename), p.LocalPath)
		assert.Equal(t, p.LocalPath, p.Location)
		assert.True(t, p.Saved())

		info, err := os.Stat(p.LocalPath)
		require.NoError(t, err)
		assert.Equal(t, int64(sizes[i]), info.Size())
	}
	assert.InDelta(t, 0.5, done.Parts[1].StartTime, 1e-9)
	assert.InDelta(t, 1.5, done.Parts[1].EndTime, 1e-9)
	assert.Equal(t, []string{"COMPLETED"}, rec.statuses)

	stored, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
}

func TestSplitService_ReexportRemovesStaleParts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, CreateJobInput{
		SourceName: "song.wav",
		Audio:      twoSecondWAV(t),
		CutPoints:  []float64{0.5, 1.5},
	})
	require.NoError(t, err)

	first, err := svc.Export(ctx, job.ID, ExportOptions{})
	require.NoError(t, err)
	require.Len(t, first.Parts, 3)
	third := first.Parts[2].LocalPath

	sorted := first.SortedCutPoints()
	require.NoError(t, svc.RemoveCutPoint(ctx, job.ID, sorted[1].ID))

	second, err := svc.Export(ctx, job.ID, ExportOptions{})
	require.NoError(t, err)
	require.Len(t, second.Parts, 2)
	assert.NoFileExists(t, third)
	assert.FileExists(t, second.Parts[1].LocalPath)
	assert.Equal(t, 44+12000*2, second.Parts[1].Size)
}

func TestSplitService_Export_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Export(ctx, "job-missing", ExportOptions{})
	assert.ErrorIs(t, err, ErrJobNotFound)

	job, err := svc.CreateJob(ctx, CreateJobInput{SourceName: "a.wav", Audio: twoSecondWAV(t)})
	require.NoError(t, err)

	_, err = svc.Export(ctx, job.ID, ExportOptions{})
	assert.ErrorIs(t, err, ErrNoCutPoints)

	_, err = svc.AddCutPoint(ctx, job.ID, 1)
	require.NoError(t, err)

	started, err := svc.StartExport(ctx, job.ID, ExportOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusExporting, started.Status)

	_, err = svc.StartExport(ctx, job.ID, ExportOptions{})
	assert.ErrorIs(t, err, ErrJobBusy)
	_, err = svc.AddCutPoint(ctx, job.ID, 1.5)
	assert.ErrorIs(t, err, ErrJobBusy)
	assert.ErrorIs(t, svc.DeleteJob(ctx, job.ID), ErrJobBusy)

	done, err := svc.RunExport(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)

	_, err = svc.RunExport(ctx, job.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSplitService_Export_FailsWhenEveryUploadFails(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, CreateJobInput{
		SourceName: "a.wav",
		Audio:      twoSecondWAV(t),
		CutPoints:  []float64{1},
	})
	require.NoError(t, err)

	// LocalStorage has no S3, so every upload fails after the local write.
	push := true
	done, err := svc.Export(ctx, job.ID, ExportOptions{PushToS3: &push})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, done.Status)
	assert.True(t, done.PushToS3)
	require.Len(t, done.Parts, 2)
	for _, p := range done.Parts {
		assert.Contains(t, p.Error, storage.ErrS3NotConfigured.Error())
	}
	assert.Contains(t, done.Error, storage.ErrS3NotConfigured.Error())
}

func TestSplitService_Export_MixedResults(t *testing.T) {
	store := &mockStorage{}
	store.On("SaveTemp", mock.Anything, mock.Anything, mock.Anything).Return("/tmp/src", nil)

	svc := NewSplitService(NewMemoryRepository(), store, decode.NewRegistry(), nil)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, CreateJobInput{SourceName: "a.wav", Audio: twoSecondWAV(t), CutPoints: []float64{1}})
	require.NoError(t, err)

	store.On("SaveFile", mock.Anything, filepath.Join(job.ID, "a_part_1.wav"), mock.Anything).Return("", errors.New("disk full"))
	store.On("SaveFile", mock.Anything, filepath.Join(job.ID, "a_part_2.wav"), mock.Anything).Return("/tmp/part", nil)

	done, err := svc.Export(ctx, job.ID, ExportOptions{})
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, done.Status)
	assert.Contains(t, done.Parts[0].Error, "disk full")
	assert.Empty(t, done.Parts[0].LocalPath)
	assert.True(t, done.Parts[1].Saved())
	assert.Equal(t, "/tmp/part", done.Parts[1].LocalPath)
	store.AssertExpectations(t)
}

func TestSplitService_OpenPart(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, CreateJobInput{SourceName: "a.wav", Audio: twoSecondWAV(t), CutPoints: []float64{1}})
	require.NoError(t, err)

	_, _, err = svc.OpenPart(ctx, job.ID, 1)
	assert.ErrorIs(t, err, ErrPartNotFound)

	_, err = svc.Export(ctx, job.ID, ExportOptions{})
	require.NoError(t, err)

	rc, part, err := svc.OpenPart(ctx, job.ID, 2)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()

	assert.Equal(t, "a_part_2.wav", part.Filename)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	h, err := wav.ReadHeader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 8000, h.Frames())

	for _, n := range []int{0, 3, -1} {
		_, _, err = svc.OpenPart(ctx, job.ID, n)
		assert.ErrorIs(t, err, ErrPartNotFound)
	}
	_, _, err = svc.OpenPart(ctx, "job-missing", 1)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSplitService_DeleteJob(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	job, err := svc.CreateJob(ctx, CreateJobInput{SourceName: "a.wav", Audio: twoSecondWAV(t), CutPoints: []float64{1}})
	require.NoError(t, err)
	done, err := svc.Export(ctx, job.ID, ExportOptions{})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteJob(ctx, job.ID))

	assert.NoFileExists(t, job.SourcePath)
	for _, p := range done.Parts {
		assert.NoFileExists(t, p.LocalPath)
	}
	assert.NoDirExists(t, filepath.Join(store.TempDir(), job.ID))

	_, err = svc.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, svc.DeleteJob(ctx, job.ID), ErrJobNotFound)
}
