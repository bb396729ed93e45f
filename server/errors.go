package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hupe1980/flatvec"
	"github.com/hupe1980/flatvec/blobstore"
	"github.com/hupe1980/flatvec/distance"
	"github.com/hupe1980/flatvec/embed"
	"github.com/hupe1980/flatvec/metadata"
	"github.com/hupe1980/flatvec/registry"
)

var (
	errBadRequest       = errors.New("bad request")
	errDocumentNotFound = errors.New("document not found")
	errBackupsDisabled  = errors.New("backups are not configured")
)

// statusFor maps an error onto an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, flatvec.ErrDimensionMismatch),
		errors.Is(err, flatvec.ErrInvalidArgument),
		errors.Is(err, flatvec.ErrInvalidDimension),
		errors.Is(err, metadata.ErrInvalidFilter),
		errors.Is(err, distance.ErrUnknownMetric),
		errors.Is(err, registry.ErrInvalidName),
		errors.Is(err, embed.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, flatvec.ErrStoreNotFound),
		errors.Is(err, errDocumentNotFound),
		errors.Is(err, blobstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, flatvec.ErrStoreExists):
		return http.StatusConflict
	case errors.Is(err, errBackupsDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, embed.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, flatvec.ErrCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, flatvec.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.opts.Logger.ErrorContext(r.Context(), "request failed",
			"request_id", RequestID(r.Context()),
			"error", err,
		)
	}
	s.writeJSON(w, r, status, errorResponse{Error: err.Error(), RequestID: RequestID(r.Context())})
}

// writeJSON encodes v before committing the status, so a value that cannot
// be encoded turns into a 500 instead of a truncated 2xx body.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		id := RequestID(r.Context())
		s.opts.Logger.ErrorContext(r.Context(), "encode response",
			"request_id", id,
			"error", err,
		)
		buf.Reset()
		_ = json.NewEncoder(&buf).Encode(errorResponse{Error: "encode response: " + err.Error(), RequestID: id})
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
