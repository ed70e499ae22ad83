package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"argus/core"
	"argus/storage"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// respondList writes the standard paginated collection envelope.
func respondList(w http.ResponseWriter, items interface{}, total int64, limit, offset int) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":  items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// writeError writes a plain error response and logs the underlying cause.
func (a *API) writeError(w http.ResponseWriter, statusCode int, message string, err error) {
	if err != nil {
		a.logger.Errorw(message, "error", err, "status_code", statusCode)
	}
	respondJSON(w, statusCode, map[string]string{"error": message})
}

// writeDomainError maps domain and storage errors onto HTTP status codes.
// State violations are client errors, never a 500.
func (a *API) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrPlaybookNotFound),
		errors.Is(err, storage.ErrExecutionNotFound),
		errors.Is(err, storage.ErrEventNotFound),
		errors.Is(err, storage.ErrRuleNotFound):
		a.writeError(w, http.StatusNotFound, err.Error(), nil)
	case core.IsValidationError(err):
		a.writeError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, core.ErrStepOutOfRange):
		a.writeError(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, core.ErrExecutionConflict):
		a.writeError(w, http.StatusConflict, "execution was modified concurrently, retry", err)
	case errors.Is(err, core.ErrInvalidState):
		a.writeError(w, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, storage.ErrRuleNameExists):
		a.writeError(w, http.StatusConflict, err.Error(), nil)
	default:
		a.writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

// decodeJSONBody decodes a size-limited JSON request body, rejecting unknown
// fields. On failure it writes the error response itself.
func (a *API) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, a.config.API.JSONBodyLimit)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var syntaxError *json.SyntaxError
		var unmarshalTypeError *json.UnmarshalTypeError
		switch {
		case errors.As(err, &syntaxError):
			a.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON syntax at byte offset %d", syntaxError.Offset), err)
		case errors.As(err, &unmarshalTypeError):
			a.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid type for field %q", unmarshalTypeError.Field), err)
		case err.Error() == "http: request body too large":
			a.writeError(w, http.StatusRequestEntityTooLarge, "request body too large", err)
		default:
			a.writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		}
		return err
	}
	return nil
}

// analystFrom identifies the acting analyst from the X-Analyst header.
func analystFrom(r *http.Request) string {
	if analyst := r.Header.Get("X-Analyst"); analyst != "" {
		return analyst
	}
	return "analyst"
}

// parsePagination reads limit/offset query parameters with sane bounds.
func parsePagination(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
