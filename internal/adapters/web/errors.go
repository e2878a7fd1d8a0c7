package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"invoice-recon/internal/app"
	"invoice-recon/internal/core"
)

type errorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code"`
	Retryable bool              `json:"retryable"`
	RequestID string            `json:"request_id,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// writeError writes a structured JSON error response.
func writeError(w http.ResponseWriter, r *http.Request, message, code string, status int) {
	writeJSONStatus(w, status, errorResponse{
		Error:     message,
		Code:      code,
		Retryable: core.Retryable(core.Kind(code)),
		RequestID: requestIDFromContext(r.Context()),
	})
}

// writeServiceError renders an error returned by the application service, deriving the
// status from its kind. Unclassified errors are logged and reported without detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	kind := core.KindOf(err)
	status := statusForKind(kind)
	resp := errorResponse{
		Error:     err.Error(),
		Code:      string(kind),
		Retryable: core.Retryable(kind),
		RequestID: requestIDFromContext(r.Context()),
	}
	switch {
	case kind == core.KindInvalidRequest:
		resp.Fields = app.FieldErrors(err)
	case kind == core.KindInternal:
		h.log.Error().Err(err).Str("request_id", resp.RequestID).Str("path", r.URL.Path).Msg("request failed")
		resp.Error = "internal server error"
	case status >= http.StatusInternalServerError:
		h.log.Warn().Err(err).Str("request_id", resp.RequestID).Str("code", resp.Code).Msg("request failed")
	}
	writeJSONStatus(w, status, resp)
}

func statusForKind(kind core.Kind) int {
	switch kind {
	case core.KindInvalidRequest:
		return http.StatusBadRequest
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindInvalidTransition, core.KindConflict:
		return http.StatusConflict
	case core.KindInvariantViolation, core.KindParsingFailed:
		return http.StatusUnprocessableEntity
	case core.KindExtractionFailed:
		return http.StatusBadGateway
	case core.KindExtractionTimeout:
		return http.StatusGatewayTimeout
	case core.KindAssetUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeJSON writes a JSON response with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON decodes the request body into v, rejecting unknown fields. It writes the
// error response itself and returns false on failure: 413 when the body exceeds the
// RequestBodyLimit cap, 400 otherwise.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeBody(w, r, v, false)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be omitted.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	return decodeBody(w, r, v, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), string(core.KindInvalidRequest), http.StatusBadRequest)
		return false
	}
	return true
}
