package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	lkerrors "github.com/lakeshift/lakeshift/internal/errors"
	"github.com/lakeshift/lakeshift/internal/swap"
)

// SwapRunner runs one swap job to completion.
type SwapRunner interface {
	Swap(ctx context.Context, job swap.Job) (*swap.Result, error)
}

// SwapRequest describes a swap job submitted over HTTP.
type SwapRequest struct {
	Name           string `json:"name,omitempty"`
	SourceDatabase string `json:"source_database"`
	SourceTable    string `json:"source_table"`
	OutputDatabase string `json:"output_database"`
	OutputTable    string `json:"output_table"`
	PartitionKeys  string `json:"partition_keys,omitempty"`
}

// SwapResponse reports the outcome of a completed swap.
type SwapResponse struct {
	Job                 string `json:"job"`
	Phase               string `json:"phase"`
	FirstWrite          bool   `json:"first_write"`
	Generation          int    `json:"generation"`
	Location            string `json:"location"`
	PartitionsPublished int    `json:"partitions_published"`
	CleanupFailed       bool   `json:"cleanup_failed,omitempty"`
	DurationMs          int64  `json:"duration_ms"`
	RequestID           string `json:"request_id"`
}

// SwapHandler handles POST /v1/swaps requests. The swap runs synchronously
// within the request, so the server must not enforce a write timeout shorter
// than the longest expected swap.
type SwapHandler struct {
	runner SwapRunner
	logger *slog.Logger
}

// NewSwapHandler creates a new swap handler.
func NewSwapHandler(runner SwapRunner, logger *slog.Logger) *SwapHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SwapHandler{runner: runner, logger: logger}
}

// ServeHTTP handles the swap HTTP request.
func (h *SwapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req SwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}

	job := swap.Job{
		Name:           req.Name,
		SourceDatabase: req.SourceDatabase,
		SourceTable:    req.SourceTable,
		OutputDatabase: req.OutputDatabase,
		OutputTable:    req.OutputTable,
		PartitionKeys:  swap.ParsePartitionKeys(req.PartitionKeys),
	}
	if job.Name == "" {
		job.Name = req.OutputDatabase + "." + req.OutputTable
	}

	if err := job.Validate(); err != nil {
		writeErrorFrom(w, http.StatusBadRequest, err, requestID)
		return
	}

	h.logger.Info("running swap",
		"job", job.Name,
		"source", job.Source().String(),
		"target", job.Target().String(),
		"request_id", requestID,
	)

	res, err := h.runner.Swap(r.Context(), job)
	if err != nil {
		writeErrorFrom(w, statusForSwapError(err), err, requestID)
		return
	}

	writeJSON(w, http.StatusOK, SwapResponse{
		Job:                 res.Job.Name,
		Phase:               string(res.Phase),
		FirstWrite:          res.FirstWrite,
		Generation:          res.Generation,
		Location:            res.Location,
		PartitionsPublished: res.PartitionsPublished,
		CleanupFailed:       res.CleanupFailed,
		DurationMs:          res.Duration.Milliseconds(),
		RequestID:           requestID,
	})
}

// statusForSwapError maps the swap error taxonomy onto HTTP status codes.
func statusForSwapError(err error) int {
	switch lkerrors.GetCode(err) {
	case lkerrors.CodeSwapInFlight:
		return http.StatusConflict
	case lkerrors.CodeDatabaseNotFound:
		return http.StatusNotFound
	}
	if lkerrors.GetCategory(err) == lkerrors.ErrCategoryValidation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
