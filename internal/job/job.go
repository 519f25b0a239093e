// Package job provides the split job aggregate: an uploaded source, its
// editable set of cut points and the parts produced by the last export.
package job

import (
	"errors"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maauso/audiocut-api/internal/audio"
	"github.com/maauso/audiocut-api/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusReady indicates the source is decoded and cut points can be edited.
	StatusReady Status = "READY"
	// StatusExporting indicates parts are being encoded and saved.
	StatusExporting Status = "EXPORTING"
	// StatusCompleted indicates every part of the last export was saved.
	StatusCompleted Status = "COMPLETED"
	// StatusPartial indicates some, but not all, parts were saved.
	StatusPartial Status = "PARTIAL"
	// StatusFailed indicates no part of the last export was saved.
	StatusFailed Status = "FAILED"
)

var (
	// ErrInvalidTransition is returned when an invalid state transition is attempted.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrJobBusy is returned when a job is modified while exporting.
	ErrJobBusy = errors.New("job is exporting")
	// ErrCutPointNotFound is returned when a cut point ID is unknown.
	ErrCutPointNotFound = errors.New("cut point not found")
	// ErrInvalidCutPoint is returned for a cut point time that is not a finite number.
	ErrInvalidCutPoint = errors.New("cut point time must be a finite number")
)

// validTransitions defines which state transitions are allowed.
// Finished exports may be repeated after the cut points change.
var validTransitions = map[Status][]Status{
	StatusReady:     {StatusExporting},
	StatusExporting: {StatusCompleted, StatusPartial, StatusFailed},
	StatusCompleted: {StatusExporting},
	StatusPartial:   {StatusExporting},
	StatusFailed:    {StatusExporting},
}

func canTransition(from, to Status) bool {
	return slices.Contains(validTransitions[from], to)
}

// Part is one exported file of a job.
type Part struct {
	// Index is the 0-based position of the part; files are numbered Index+1.
	Index     int
	Filename  string
	StartTime float64
	EndTime   float64
	// Size is the encoded WAV size in bytes, zero if encoding failed.
	Size int
	// Location is the S3 URL or local path reported by the saver.
	Location string
	// LocalPath is set when a downloadable copy exists on disk.
	LocalPath string
	Error     string
}

// Saved reports whether the part was stored.
func (p Part) Saved() bool {
	return p.Error == ""
}

// Job is the split job aggregate.
type Job struct {
	mu sync.RWMutex

	ID     string
	Status Status
	// SourceName is the uploaded file name; BaseName is it without extension.
	SourceName string
	BaseName   string
	// SourcePath is the stored copy of the upload.
	SourcePath string
	SampleRate int
	Channels   int
	Frames     int
	// Duration of the source in seconds.
	Duration  float64
	CutPoints []audio.CutPoint
	Parts     []Part
	Error     string
	PushToS3  bool

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// New creates a new Job with a generated ID in READY status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new READY Job with the specified ID.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusReady,
		CutPoints: make([]audio.CutPoint, 0),
		Parts:     make([]Part, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusExporting:
		j.StartedAt = j.UpdatedAt
		j.CompletedAt = time.Time{}
		j.Error = ""
	case StatusCompleted, StatusPartial, StatusFailed:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// StartExport moves the job to EXPORTING.
func (j *Job) StartExport() error {
	if err := j.TransitionTo(StatusExporting); err != nil {
		if j.GetStatus() == StatusExporting {
			return ErrJobBusy
		}
		return err
	}
	return nil
}

// FinishExport records the exported parts and derives the final status:
// COMPLETED when all parts were saved, PARTIAL when some were, FAILED
// otherwise.
func (j *Job) FinishExport(parts []Part) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	saved := 0
	firstErr := ""
	for _, p := range parts {
		if p.Saved() {
			saved++
		} else if firstErr == "" {
			firstErr = p.Error
		}
	}

	status := StatusCompleted
	switch {
	case len(parts) == 0:
		status, firstErr = StatusFailed, "no parts produced"
	case saved == 0:
		status = StatusFailed
	case saved < len(parts):
		status = StatusPartial
	}

	if err := j.transitionLocked(status); err != nil {
		return err
	}
	j.Parts = parts
	j.Error = firstErr
	return nil
}

// Fail transitions the job to FAILED with an error message.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// AddCutPoint adds a cut point at t seconds with a fresh ID. Times outside
// the source are kept and clamped when segmenting.
func (j *Job) AddCutPoint(t float64) (audio.CutPoint, error) {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return audio.CutPoint{}, ErrInvalidCutPoint
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status == StatusExporting {
		return audio.CutPoint{}, ErrJobBusy
	}

	cp := audio.CutPoint{ID: uuid.NewString(), Time: t}
	j.CutPoints = append(j.CutPoints, cp)
	j.UpdatedAt = time.Now()
	return cp, nil
}

// RemoveCutPoint removes the cut point with the given ID.
func (j *Job) RemoveCutPoint(cutID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status == StatusExporting {
		return ErrJobBusy
	}

	i := slices.IndexFunc(j.CutPoints, func(cp audio.CutPoint) bool { return cp.ID == cutID })
	if i < 0 {
		return ErrCutPointNotFound
	}
	j.CutPoints = slices.Delete(j.CutPoints, i, i+1)
	j.UpdatedAt = time.Now()
	return nil
}

// ClearCutPoints removes every cut point.
func (j *Job) ClearCutPoints() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Status == StatusExporting {
		return ErrJobBusy
	}
	j.CutPoints = make([]audio.CutPoint, 0)
	j.UpdatedAt = time.Now()
	return nil
}

// SortedCutPoints returns a copy of the cut points ordered by time.
func (j *Job) SortedCutPoints() []audio.CutPoint {
	j.mu.RLock()
	defer j.mu.RUnlock()
	cps := slices.Clone(j.CutPoints)
	slices.SortStableFunc(cps, func(a, b audio.CutPoint) int {
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		}
		return 0
	})
	return cps
}

// PlannedParts returns how many files an export with the current cut
// points would produce.
func (j *Job) PlannedParts() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.Frames == 0 {
		return 0
	}
	return audio.CountSegments(j.Duration, j.CutPoints)
}

// IsExporting reports whether an export is in progress.
func (j *Job) IsExporting() bool {
	return j.GetStatus() == StatusExporting
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:          j.ID,
		Status:      j.Status,
		SourceName:  j.SourceName,
		BaseName:    j.BaseName,
		SourcePath:  j.SourcePath,
		SampleRate:  j.SampleRate,
		Channels:    j.Channels,
		Frames:      j.Frames,
		Duration:    j.Duration,
		CutPoints:   slices.Clone(j.CutPoints),
		Parts:       slices.Clone(j.Parts),
		Error:       j.Error,
		PushToS3:    j.PushToS3,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
