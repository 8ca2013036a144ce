// Package respond holds the JSON response helpers shared by all module
// handlers: a single envelope for errors ({"detail": ...}) and the mapping
// from domain error kinds to HTTP status codes.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/krxwatch/krxwatch/internal/domain"
)

// JSON writes v as a JSON response with the given status.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Detail writes the {"detail": msg} error envelope.
func Detail(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, map[string]string{"detail": msg})
}

// statusFor maps a domain error kind to its HTTP status.
func statusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthRequired:
		return http.StatusUnauthorized
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindAlreadyRunning:
		return http.StatusConflict
	case domain.KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case domain.KindStoreUnavailable:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error maps err to its HTTP status and writes the error envelope. Internal
// errors are logged with their cause but surface a generic detail string.
func Error(w http.ResponseWriter, log zerolog.Logger, err error) {
	kind := domain.KindOf(err)
	status := statusFor(kind)

	var de *domain.Error
	detail := "internal server error"
	if errors.As(err, &de) {
		detail = de.Message()
	}

	if status >= 500 {
		log.Error().Err(err).Msg("Request failed")
	} else {
		log.Debug().Err(err).Int("status", status).Msg("Request rejected")
	}

	Detail(w, status, detail)
}
