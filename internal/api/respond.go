package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/lockdrop/internal/errs"
)

type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// respondError maps err to a status code. Only validation messages reach the
// client; everything else gets a fixed text and the detail goes to the log.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := http.StatusInternalServerError, errorBody{Message: "internal error"}
	switch {
	case errors.Is(err, errs.ErrValidation):
		status, body = http.StatusBadRequest, errorBody{Message: err.Error(), Reason: errs.Reason(err)}
	case errors.Is(err, errs.ErrUnauthorized):
		status, body.Message = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, errs.ErrForbidden):
		status, body.Message = http.StatusForbidden, "forbidden"
	case errors.Is(err, errs.ErrNotFound):
		status, body.Message = http.StatusNotFound, "not found"
	case errors.Is(err, errs.ErrTimeout):
		status, body.Message = http.StatusServiceUnavailable, "storage timed out, try again"
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	} else {
		s.log.Debug("request rejected", zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err))
	}
	respondJSON(w, status, body)
}
