package utils

import (
	"encoding/json"
	"net/http"

	"codecollab/internal/models"
)

// JSON writes a JSON response with status code
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// Error maps a typed error onto its HTTP status and the uniform error payload.
func Error(w http.ResponseWriter, err error) {
	JSON(w, models.HTTPStatus(models.KindOf(err)), models.ToErrorResponse(err))
}

// DecodeJSON decodes the request body into out, reporting a validation error
// for malformed payloads.
func DecodeJSON(r *http.Request, out any) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return models.WrapError(models.KindValidation, "Invalid request payload", err)
	}
	return nil
}
