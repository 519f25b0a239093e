package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/maauso/audiocut-api/internal/audio"
	"github.com/maauso/audiocut-api/internal/decode"
	"github.com/maauso/audiocut-api/internal/export"
	"github.com/maauso/audiocut-api/internal/job/id"
	"github.com/maauso/audiocut-api/internal/storage"
	"github.com/maauso/audiocut-api/internal/wav"
)

var (
	// ErrNoCutPoints is returned when exporting a job without cut points.
	ErrNoCutPoints = errors.New("at least one cut point is required to export")
	// ErrEmptyAudio is returned when the upload is empty or decodes to no samples.
	ErrEmptyAudio = errors.New("audio is empty")
	// ErrPartNotFound is returned when a part number has no downloadable file.
	ErrPartNotFound = errors.New("part not found")
	// ErrSourceUnavailable is returned when a job's decoded audio is no longer held.
	ErrSourceUnavailable = errors.New("source audio is not loaded")
)

// SourceDecoder turns uploaded bytes into samples.
type SourceDecoder interface {
	DecodeBytes(ctx context.Context, name string, data []byte) (*audio.SampleBuffer, decode.Format, error)
}

// Recorder receives job level measurements.
type Recorder interface {
	ObserveDecode(format string, d time.Duration)
	ExportFinished(status string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveDecode(string, time.Duration) {}
func (noopRecorder) ExportFinished(string)               {}

// CreateJobInput contains the input for a new split job.
type CreateJobInput struct {
	// SourceName is the uploaded file name, used for format detection and
	// for naming the parts.
	SourceName string
	Audio      []byte
	// CutPoints are initial cut times in seconds.
	CutPoints []float64
	PushToS3  bool
}

// ExportOptions controls one export run.
type ExportOptions struct {
	// PushToS3 overrides the job setting when non-nil.
	PushToS3 *bool
}

// SplitService manages split jobs: it decodes uploads, edits cut points
// and exports parts through the storage layer.
type SplitService struct {
	repo        Repository
	store       storage.Storage
	decoder     SourceDecoder
	logger      *slog.Logger
	concurrency int
	observer    export.Observer
	recorder    Recorder

	// mu serialises read-modify-write cycles on jobs and guards buffers.
	mu      sync.Mutex
	buffers map[string]*audio.SampleBuffer
}

// ServiceOption configures a SplitService.
type ServiceOption func(*SplitService)

// WithConcurrency sets how many parts of one export are processed at once.
func WithConcurrency(n int) ServiceOption {
	return func(s *SplitService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithObserver sets the per-segment export observer.
func WithObserver(o export.Observer) ServiceOption {
	return func(s *SplitService) {
		s.observer = o
	}
}

// WithRecorder sets the recorder for decode and export outcomes.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *SplitService) {
		if r != nil {
			s.recorder = r
		}
	}
}

// NewSplitService creates a new SplitService.
func NewSplitService(repo Repository, store storage.Storage, decoder SourceDecoder, logger *slog.Logger, opts ...ServiceOption) *SplitService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SplitService{
		repo:        repo,
		store:       store,
		decoder:     decoder,
		logger:      logger,
		concurrency: 1,
		recorder:    noopRecorder{},
		buffers:     make(map[string]*audio.SampleBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob stores and decodes the upload and persists a READY job.
func (s *SplitService) CreateJob(ctx context.Context, input CreateJobInput) (*Job, error) {
	if len(input.Audio) == 0 {
		return nil, ErrEmptyAudio
	}

	job := New()
	job.SourceName = filepath.Base(input.SourceName)
	job.BaseName = export.BaseName(job.SourceName)
	if job.BaseName == "" || job.BaseName == "." {
		job.BaseName = "audio"
	}
	job.PushToS3 = input.PushToS3

	for _, t := range input.CutPoints {
		if _, err := job.AddCutPoint(t); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	buf, format, err := s.decoder.DecodeBytes(ctx, job.SourceName, input.Audio)
	if err != nil {
		s.logger.Warn("failed to decode upload",
			slog.String("job_id", job.ID),
			slog.String("source", job.SourceName),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	s.recorder.ObserveDecode(string(format), time.Since(start))
	if buf.Len() == 0 {
		return nil, ErrEmptyAudio
	}

	sourcePath, err := s.store.SaveTemp(ctx, job.ID+"_source", bytes.NewReader(input.Audio))
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	job.SourcePath = sourcePath
	job.SampleRate = buf.SampleRate()
	job.Channels = buf.NumChannels()
	job.Frames = buf.Len()
	job.Duration = buf.Duration()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Save(ctx, job); err != nil {
		_ = s.store.CleanupTemp(context.WithoutCancel(ctx), []string{sourcePath})
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	s.buffers[job.ID] = buf

	s.logger.Info("job created",
		slog.String("job_id", job.ID),
		slog.String("source", job.SourceName),
		slog.String("format", string(format)),
		slog.Int("sample_rate", job.SampleRate),
		slog.Int("channels", job.Channels),
		slog.Float64("duration", job.Duration),
		slog.Int("cut_points", len(job.CutPoints)),
	)

	return job, nil
}

// GetJob retrieves a job by ID.
func (s *SplitService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.find(ctx, id)
}

// ListJobs returns all jobs, oldest first.
func (s *SplitService) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.repo.List(ctx)
}

// DeleteJob removes a job, its stored source and its exported parts.
// A job that is exporting cannot be deleted.
func (s *SplitService) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if job.IsExporting() {
		return ErrJobBusy
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	delete(s.buffers, id)

	paths := partPaths(job.Parts)
	if len(paths) > 0 {
		paths = append(paths, filepath.Dir(paths[0]))
	}
	if job.SourcePath != "" {
		paths = append(paths, job.SourcePath)
	}
	if err := s.store.CleanupTemp(ctx, paths); err != nil {
		s.logger.Warn("failed to clean up job files",
			slog.String("job_id", id),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("job deleted", slog.String("job_id", id))
	return nil
}

// AddCutPoint adds a cut point at t seconds.
func (s *SplitService) AddCutPoint(ctx context.Context, id string, t float64) (audio.CutPoint, error) {
	var cp audio.CutPoint
	err := s.update(ctx, id, func(job *Job) error {
		var err error
		cp, err = job.AddCutPoint(t)
		return err
	})
	return cp, err
}

// RemoveCutPoint removes a cut point by ID.
func (s *SplitService) RemoveCutPoint(ctx context.Context, id, cutID string) error {
	return s.update(ctx, id, func(job *Job) error {
		return job.RemoveCutPoint(cutID)
	})
}

// ClearCutPoints removes all cut points of a job.
func (s *SplitService) ClearCutPoints(ctx context.Context, id string) error {
	return s.update(ctx, id, func(job *Job) error {
		return job.ClearCutPoints()
	})
}

// SuggestCutPoints adds cut points placed near silences so that parts are
// roughly opts.TargetSec long. With replace set the existing cut points are
// dropped first. It returns the added cut points.
func (s *SplitService) SuggestCutPoints(ctx context.Context, id string, opts audio.SilenceOpts, replace bool) ([]audio.CutPoint, error) {
	var added []audio.CutPoint
	err := s.update(ctx, id, func(job *Job) error {
		buf, ok := s.buffers[id]
		if !ok {
			return ErrSourceUnavailable
		}
		if job.IsExporting() {
			return ErrJobBusy
		}
		times, err := audio.SuggestCutPoints(buf, opts)
		if err != nil {
			return err
		}
		if replace {
			if err := job.ClearCutPoints(); err != nil {
				return err
			}
		}
		for _, t := range times {
			cp, err := job.AddCutPoint(t)
			if err != nil {
				return err
			}
			added = append(added, cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("cut points suggested",
		slog.String("job_id", id),
		slog.Float64("target_sec", opts.TargetSec),
		slog.Int("added", len(added)),
	)
	return added, nil
}

// find rejects malformed IDs before touching the repository.
func (s *SplitService) find(ctx context.Context, jobID string) (*Job, error) {
	if !id.Valid(jobID) {
		return nil, ErrJobNotFound
	}
	return s.repo.FindByID(ctx, jobID)
}

func (s *SplitService) update(ctx context.Context, id string, fn func(*Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(job); err != nil {
		return err
	}
	return s.repo.Save(ctx, job)
}

// StartExport validates that the job can be exported and moves it to
// EXPORTING. RunExport must follow.
func (s *SplitService) StartExport(ctx context.Context, id string, opts ExportOptions) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.IsExporting() {
		return nil, ErrJobBusy
	}
	if len(job.CutPoints) == 0 {
		return nil, ErrNoCutPoints
	}
	if _, ok := s.buffers[id]; !ok {
		return nil, ErrSourceUnavailable
	}

	if err := job.StartExport(); err != nil {
		return nil, err
	}
	if opts.PushToS3 != nil {
		job.PushToS3 = *opts.PushToS3
	}
	if err := s.repo.Save(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("export started",
		slog.String("job_id", id),
		slog.Int("cut_points", len(job.CutPoints)),
		slog.Bool("push_to_s3", job.PushToS3),
	)
	return job, nil
}

// RunExport segments the source at the job's cut points and saves every
// part. Individual part failures end in PARTIAL or FAILED, not in an
// error; the returned error covers only repository failures.
func (s *SplitService) RunExport(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	job, err := s.find(ctx, id)
	buf := s.buffers[id]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !job.IsExporting() {
		return nil, fmt.Errorf("run export in status %s: %w", job.GetStatus(), ErrInvalidTransition)
	}

	previous := partPaths(job.Parts)

	segments, err := audio.Split(buf, job.SortedCutPoints())
	if err != nil {
		if failErr := job.Fail(err.Error()); failErr != nil {
			return nil, failErr
		}
		return s.finish(ctx, job)
	}

	saver := storage.NewPartSaver(s.store, job.ID, wav.ContentType, job.PushToS3)
	exporter := export.New(saver,
		export.WithConcurrency(s.concurrency),
		export.WithObserver(s.observer),
		export.WithLogger(s.logger.With(slog.String("job_id", job.ID))),
	)
	results := exporter.Export(ctx, job.BaseName, segments)

	parts := make([]Part, len(results))
	for i, r := range results {
		parts[i] = Part{
			Index:     r.Index,
			Filename:  r.Filename,
			StartTime: r.StartTime,
			EndTime:   r.EndTime,
			Size:      r.Size,
			Location:  r.Location,
		}
		if lp, ok := saver.LocalPath(r.Filename); ok {
			parts[i].LocalPath = lp
		}
		if r.Err != nil {
			parts[i].Error = r.Err.Error()
		}
	}

	if err := job.FinishExport(parts); err != nil {
		return nil, err
	}

	// Drop files of an earlier export that this one did not overwrite.
	current := partPaths(parts)
	var stale []string
	for _, p := range previous {
		if !slices.Contains(current, p) {
			stale = append(stale, p)
		}
	}
	if len(stale) > 0 {
		if err := s.store.CleanupTemp(context.WithoutCancel(ctx), stale); err != nil {
			s.logger.Warn("failed to remove stale parts",
				slog.String("job_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	return s.finish(ctx, job)
}

func (s *SplitService) finish(ctx context.Context, job *Job) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The job may have been deleted meanwhile; DeleteJob refuses while
	// exporting, so a missing job here is a repository fault.
	if err := s.repo.Save(context.WithoutCancel(ctx), job); err != nil {
		return nil, err
	}
	s.recorder.ExportFinished(string(job.Status))

	saved := 0
	for _, p := range job.Parts {
		if p.Saved() {
			saved++
		}
	}
	s.logger.Info("export finished",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
		slog.Int("parts", len(job.Parts)),
		slog.Int("saved", saved),
	)
	return job, nil
}

// Export runs StartExport and RunExport back to back.
func (s *SplitService) Export(ctx context.Context, id string, opts ExportOptions) (*Job, error) {
	if _, err := s.StartExport(ctx, id, opts); err != nil {
		return nil, err
	}
	return s.RunExport(ctx, id)
}

// OpenPart opens the local copy of part n (1-based, as in the file name).
// The caller closes the reader.
func (s *SplitService) OpenPart(ctx context.Context, id string, n int) (io.ReadCloser, Part, error) {
	job, err := s.find(ctx, id)
	if err != nil {
		return nil, Part{}, err
	}
	if job.IsExporting() || n < 1 || n > len(job.Parts) {
		return nil, Part{}, ErrPartNotFound
	}

	part := job.Parts[n-1]
	if !part.Saved() || part.LocalPath == "" {
		return nil, Part{}, ErrPartNotFound
	}

	rc, err := s.store.LoadTemp(ctx, part.LocalPath)
	if err != nil {
		return nil, Part{}, fmt.Errorf("%w: %w", ErrPartNotFound, err)
	}
	return rc, part, nil
}

func partPaths(parts []Part) []string {
	var paths []string
	for _, p := range parts {
		if p.LocalPath != "" {
			paths = append(paths, p.LocalPath)
		}
	}
	return paths
}
