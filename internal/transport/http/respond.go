package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"training-portal/internal/domain"
)

type errorResponse struct {
	Error    string            `json:"error"`
	Redirect string            `json:"redirect,omitempty"`
	Retry    bool              `json:"retry,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor maps domain errors onto HTTP responses.
func statusFor(err error) (int, errorResponse) {
	resp := errorResponse{Error: err.Error()}
	switch {
	case errors.Is(err, domain.ErrModuleNotFound), errors.Is(err, domain.ErrQuizNotFound):
		resp.Redirect = "/"
		return http.StatusNotFound, resp
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrLessonNotFound),
		errors.Is(err, domain.ErrNoteNotFound),
		errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound, resp
	case errors.Is(err, domain.ErrIndexOutOfRange),
		errors.Is(err, domain.ErrInvalidOption),
		errors.Is(err, domain.ErrIncompleteAnswers),
		errors.Is(err, domain.ErrNotOnLastQuestion):
		return http.StatusUnprocessableEntity, resp
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrEmailExists):
		return http.StatusConflict, resp
	case errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, domain.ErrUnauthenticated):
		resp.Redirect = "/login"
		return http.StatusUnauthorized, resp
	case errors.Is(err, domain.ErrForbidden):
		resp.Redirect = "/unauthorized"
		return http.StatusForbidden, resp
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal error"}
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, resp)
}

// decode reads a JSON body into dst and validates it. On failure the response has
// already been written.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return false
	}
	if fields := h.validate.Struct(dst); len(fields) > 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: fields})
		return false
	}
	return true
}
