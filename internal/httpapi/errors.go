package httpapi

import (
	"encoding/json"
	"net/http"

	"ocrd/internal/job"
	"ocrd/pkg/types"
)

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logError("encode response", err)
	}
}

// statusFor maps a job result to an HTTP status code. Partial failures are
// still a 200: the archive holds the pages that succeeded.
func statusFor(res job.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.ErrorKind {
	case job.KindValidation:
		return http.StatusBadRequest
	case job.KindModelUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
