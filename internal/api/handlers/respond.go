package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/xlpostcards/postcard-service/internal/apperr"
)

// ErrorResponse is the body of every non-generation failure.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
	Field  string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	status := code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, ErrorResponse{
		Error:  apperr.PublicMessage(err),
		Reason: code.Reason(),
		Field:  apperr.FieldOf(err),
	})
}

// decodeJSON reads a size-limited JSON body into dst. Oversized bodies
// report 413; anything unparsable is an invalid argument on "body".
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst interface{}) (status int, err error) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusRequestEntityTooLarge, apperr.Invalid("body", "request body is too large")
		}
		return http.StatusBadRequest, apperr.Invalid("body", "request body is not valid JSON")
	}
	return 0, nil
}
