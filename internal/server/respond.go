package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kevinmarty69/know-your-agent/internal/model"
)

// errorBody is the wire shape of every non-2xx response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeError maps a typed domain error onto an HTTP status. Untyped
// errors become opaque 500s; their detail goes to the log, not the
// client.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var ke *model.Error
	if !errors.As(err, &ke) {
		logger.Error("internal error", zap.Error(err))
		writeErrorCode(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch ke.Kind {
	case model.KindValidation:
		status = http.StatusUnprocessableEntity
	case model.KindNotFound:
		status = http.StatusNotFound
	case model.KindConflict:
		status = http.StatusConflict
	case model.KindAuthorization:
		status = http.StatusForbidden
	case model.KindUnavailable:
		status = http.StatusServiceUnavailable
	case model.KindInternal:
		logger.Error("internal error", zap.String("code", ke.Code), zap.Error(err))
	}
	writeErrorCode(w, status, ke.Code, ke.Message)
}

// decodeBody decodes a JSON request body, preserving numeric wire form
// so payloads survive canonical re-encoding byte-exact.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return model.WrapError(model.KindValidation, "INVALID_JSON", "request body is not valid JSON", err)
	}
	return nil
}
