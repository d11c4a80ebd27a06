package http

import (
	"context"
	"errors"
	"net/http"

	"training-portal/internal/app"
	"training-portal/internal/domain"
)

type answerRequest struct {
	QuestionIndex *int   `json:"questionIndex" validate:"required"`
	Answer        string `json:"answer" validate:"required"`
}

type jumpRequest struct {
	Index *int `json:"index" validate:"required"`
}

type examOp func(ctx context.Context, userID, moduleID string) (app.ExamSnapshot, error)

// examAction adapts a session operation that needs no request body.
func (h *Handler) examAction(op examOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := op(r.Context(), identityFrom(r).UserID, r.PathValue("moduleId"))
		h.writeSnapshot(w, r, snap, err)
	}
}

func (h *Handler) writeSnapshot(w http.ResponseWriter, r *http.Request, snap app.ExamSnapshot, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) startExam(w http.ResponseWriter, r *http.Request) {
	h.examAction(h.exams.Start)(w, r)
}

func (h *Handler) getExam(w http.ResponseWriter, r *http.Request) {
	h.examAction(h.exams.Get)(w, r)
}

func (h *Handler) previous(w http.ResponseWriter, r *http.Request) {
	h.examAction(h.exams.Previous)(w, r)
}

func (h *Handler) next(w http.ResponseWriter, r *http.Request) {
	h.examAction(h.exams.Next)(w, r)
}

func (h *Handler) requestSubmit(w http.ResponseWriter, r *http.Request) {
	h.examAction(h.exams.RequestSubmit)(w, r)
}

func (h *Handler) confirmSubmit(w http.ResponseWriter, r *http.Request) {
	h.examAction(h.exams.ConfirmSubmit)(w, r)
}

func (h *Handler) cancelSubmit(w http.ResponseWriter, r *http.Request) {
	h.examAction(h.exams.CancelSubmit)(w, r)
}

func (h *Handler) retry(w http.ResponseWriter, r *http.Request) {
	h.examAction(h.exams.Retry)(w, r)
}

func (h *Handler) answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !h.decode(w, r, &req) {
		return
	}
	snap, err := h.exams.Answer(r.Context(), identityFrom(r).UserID, r.PathValue("moduleId"), *req.QuestionIndex, req.Answer)
	h.writeSnapshot(w, r, snap, err)
}

func (h *Handler) jump(w http.ResponseWriter, r *http.Request) {
	var req jumpRequest
	if !h.decode(w, r, &req) {
		return
	}
	snap, err := h.exams.Jump(r.Context(), identityFrom(r).UserID, r.PathValue("moduleId"), *req.Index)
	h.writeSnapshot(w, r, snap, err)
}

func (h *Handler) certificate(w http.ResponseWriter, r *http.Request) {
	cert, err := h.exams.Certificate(r.Context(), identityFrom(r).UserID, r.PathValue("moduleId"))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			writeJSON(w, http.StatusConflict, errorResponse{Error: "certificate is only available for a passed exam"})
			return
		}
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cert)
}

func (h *Handler) closeExam(w http.ResponseWriter, r *http.Request) {
	h.exams.Close(r.Context(), identityFrom(r).UserID, r.PathValue("moduleId"))
	w.WriteHeader(http.StatusNoContent)
}
