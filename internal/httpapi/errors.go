package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"chatd/internal/errs"
	"chatd/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSONErrorKind(w, status, msg, "")
}

func writeJSONErrorKind(w http.ResponseWriter, status int, msg string, kind errs.Kind) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status, Kind: string(kind)})
}

// statusFor maps an error to the HTTP status returned to clients.
func statusFor(err error) int {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode()
	}
	switch errs.KindOf(err) {
	case errs.KindModelNotFound, errs.KindSessionNotFound:
		return http.StatusNotFound
	case errs.KindSessionBusy:
		return http.StatusConflict
	case errs.KindSamplerConfigInvalid, errs.KindInvalidArgument, errs.KindToolNotFound:
		return http.StatusUnprocessableEntity
	case errs.KindContextOverflow:
		return http.StatusRequestEntityTooLarge
	case errs.KindTooBusy:
		return http.StatusTooManyRequests
	case errs.KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	case errs.KindGenerationCancelled:
		return http.StatusRequestTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeError maps err to a status and writes the JSON payload.
func writeError(w http.ResponseWriter, err error) int {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		IncrementBackpressure(string(errs.KindOf(err)))
	}
	writeJSONErrorKind(w, status, err.Error(), errs.KindOf(err))
	return status
}
