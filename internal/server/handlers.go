package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/audiocut-api/internal/audio"
	"github.com/maauso/audiocut-api/internal/decode"
	"github.com/maauso/audiocut-api/internal/export"
	"github.com/maauso/audiocut-api/internal/job"
	"github.com/maauso/audiocut-api/internal/wav"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *job.SplitService
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background exports.
// When disabled, the export request runs the export to completion and
// answers 200 with the finished job.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.SplitService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateJob handles POST /jobs requests.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if !h.decodeBody(w, r, &req, false) {
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.AudioBase64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio_base64 is not valid base64", "VALIDATION_ERROR")
		return
	}

	created, err := h.service.CreateJob(r.Context(), job.CreateJobInput{
		SourceName: req.Filename,
		Audio:      data,
		CutPoints:  req.CutPoints,
		PushToS3:   req.PushToS3,
	})
	if err != nil {
		h.writeServiceError(w, err, "")
		return
	}

	writeJSON(w, http.StatusCreated, toJobResponse(created))
}

// ListJobs handles GET /jobs requests.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "")
		return
	}

	resp := JobListResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, err, jobID)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(found))
}

// DeleteJob handles DELETE /jobs/{id} requests.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	if err := h.service.DeleteJob(r.Context(), jobID); err != nil {
		h.writeServiceError(w, err, jobID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddCutPoint handles POST /jobs/{id}/cut-points requests.
func (h *Handlers) AddCutPoint(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	var req CutPointRequest
	if !h.decodeBody(w, r, &req, false) {
		return
	}

	cp, err := h.service.AddCutPoint(r.Context(), jobID, *req.Time)
	if err != nil {
		h.writeServiceError(w, err, jobID)
		return
	}
	writeJSON(w, http.StatusCreated, toCutPointResponse(cp))
}

// AutoCutPoints handles POST /jobs/{id}/cut-points/auto requests and
// answers with the updated job.
func (h *Handlers) AutoCutPoints(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	var req AutoCutRequest
	if !h.decodeBody(w, r, &req, true) {
		return
	}

	opts := audio.DefaultSilenceOpts()
	if req.TargetSec > 0 {
		opts.TargetSec = req.TargetSec
	}
	if req.MinSilenceMs > 0 {
		opts.MinSilenceMs = req.MinSilenceMs
	}
	if req.ThresholdDB != nil {
		opts.ThreshDB = *req.ThresholdDB
	}

	if _, err := h.service.SuggestCutPoints(r.Context(), jobID, opts, req.Replace); err != nil {
		h.writeServiceError(w, err, jobID)
		return
	}

	updated, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeServiceError(w, err, jobID)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(updated))
}

// RemoveCutPoint handles DELETE /jobs/{id}/cut-points/{cutID} requests.
func (h *Handlers) RemoveCutPoint(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	if err := h.service.RemoveCutPoint(r.Context(), jobID, r.PathValue("cutID")); err != nil {
		h.writeServiceError(w, err, jobID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearCutPoints handles DELETE /jobs/{id}/cut-points requests.
func (h *Handlers) ClearCutPoints(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	if err := h.service.ClearCutPoints(r.Context(), jobID); err != nil {
		h.writeServiceError(w, err, jobID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Export handles POST /jobs/{id}/export requests. The body is optional.
func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	var req ExportRequest
	if !h.decodeBody(w, r, &req, true) {
		return
	}

	started, err := h.service.StartExport(r.Context(), jobID, job.ExportOptions{PushToS3: req.PushToS3})
	if err != nil {
		h.writeServiceError(w, err, jobID)
		return
	}

	if !h.enableAsyncProcess {
		finished, err := h.service.RunExport(r.Context(), jobID)
		if err != nil {
			h.writeServiceError(w, err, jobID)
			return
		}
		writeJSON(w, http.StatusOK, toJobResponse(finished))
		return
	}

	// Use context.WithoutCancel so the export outlives the request.
	go func(ctx context.Context) {
		if _, err := h.service.RunExport(ctx, jobID); err != nil {
			h.logger.Error("background export failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}(context.WithoutCancel(r.Context()))

	writeJSON(w, http.StatusAccepted, toJobResponse(started))
}

// DownloadPart handles GET /jobs/{id}/parts/{n} requests.
func (h *Handlers) DownloadPart(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "part number must be an integer", "VALIDATION_ERROR")
		return
	}

	rc, part, err := h.service.OpenPart(r.Context(), jobID, n)
	if err != nil {
		h.writeServiceError(w, err, jobID)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", wav.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", part.Filename))
	if part.Size > 0 {
		w.Header().Set("Content-Length", strconv.Itoa(part.Size))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("part download interrupted",
			slog.String("job_id", jobID),
			slog.String("part", part.Filename),
			slog.String("error", err.Error()),
		)
	}
}

// decodeBody decodes and validates a JSON body. An empty body is accepted
// when optional is set. It writes the error response and returns false on
// failure.
func (h *Handlers) decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), "PAYLOAD_TOO_LARGE")
			return false
		}
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// writeServiceError maps domain errors to status codes and error codes.
func (h *Handlers) writeServiceError(w http.ResponseWriter, err error, jobID string) {
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, job.ErrCutPointNotFound):
		writeError(w, http.StatusNotFound, "cut point not found", "CUT_POINT_NOT_FOUND")
	case errors.Is(err, job.ErrPartNotFound):
		writeError(w, http.StatusNotFound, "part not found", "PART_NOT_FOUND")
	case errors.Is(err, job.ErrJobBusy):
		writeError(w, http.StatusConflict, "job is exporting", "JOB_BUSY")
	case errors.Is(err, job.ErrNoCutPoints):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "NO_CUT_POINTS")
	case errors.Is(err, job.ErrInvalidCutPoint), errors.Is(err, audio.ErrInvalidSilenceOpts):
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	case errors.Is(err, job.ErrEmptyAudio), errors.Is(err, audio.ErrEmptySource):
		writeError(w, http.StatusBadRequest, "audio contains no samples", "EMPTY_AUDIO")
	case errors.Is(err, decode.ErrUnsupportedFormat):
		writeError(w, http.StatusUnsupportedMediaType, err.Error(), "UNSUPPORTED_FORMAT")
	case errors.Is(err, decode.ErrDecode), errors.Is(err, audio.ErrInvalidBuffer):
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_AUDIO")
	default:
		h.logger.Error("request failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}

func toJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:           j.ID,
		Status:       string(j.Status),
		SourceName:   j.SourceName,
		SampleRate:   j.SampleRate,
		Channels:     j.Channels,
		Duration:     j.Duration,
		CutPoints:    make([]CutPointResponse, 0, len(j.CutPoints)),
		PlannedParts: j.PlannedParts(),
		Parts:        make([]PartResponse, 0, len(j.Parts)),
		PushToS3:     j.PushToS3,
		Error:        j.Error,
		CreatedAt:    j.CreatedAt,
	}
	if !j.CompletedAt.IsZero() {
		completed := j.CompletedAt
		resp.CompletedAt = &completed
	}

	for _, cp := range j.SortedCutPoints() {
		resp.CutPoints = append(resp.CutPoints, toCutPointResponse(cp))
	}
	for _, p := range j.Parts {
		resp.Parts = append(resp.Parts, PartResponse{
			Number:    p.Index + 1,
			Filename:  p.Filename,
			StartTime: p.StartTime,
			EndTime:   p.EndTime,
			Label:     export.RangeLabel(p.StartTime, p.EndTime),
			Size:      p.Size,
			Location:  p.Location,
			Error:     p.Error,
		})
	}
	return resp
}

func toCutPointResponse(cp audio.CutPoint) CutPointResponse {
	return CutPointResponse{ID: cp.ID, Time: cp.Time, Label: export.FormatTime(cp.Time)}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
