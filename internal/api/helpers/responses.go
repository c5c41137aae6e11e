package helpers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hourglasshq/hourglass/internal/apperr"
)

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   apperr.Kind `json:"error"`
	Message string      `json:"message"`
	Details []string    `json:"details,omitempty"`
}

// RespondJSON writes a JSON response with the given status code.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// RespondError maps any error to the taxonomy and writes the envelope.
// Internal causes are logged server-side and never reach the body.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal {
		slog.Error("internal error",
			"error", err,
			"method", r.Method,
			"path", r.URL.Path,
		)
	}

	resp := ErrorResponse{
		Error:   kind,
		Message: apperr.Message(err),
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		resp.Details = ae.Details
	}

	RespondJSON(w, apperr.HTTPStatus(kind), resp)
}

// RespondKind writes an envelope for a bare kind, for middleware that has no
// error value to map.
func RespondKind(w http.ResponseWriter, kind apperr.Kind, message string) {
	RespondJSON(w, apperr.HTTPStatus(kind), ErrorResponse{Error: kind, Message: message})
}
