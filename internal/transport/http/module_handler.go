package http

import (
	"net/http"

	"training-portal/internal/app"
)

type noteRequest struct {
	Content string `json:"content" validate:"max=20000"`
}

type completionResponse struct {
	Result app.CompletionResult `json:"result"`
	Module app.ModuleView       `json:"module"`
}

type noteResponse struct {
	Saved  bool           `json:"saved"`
	Module app.ModuleView `json:"module"`
}

// listModules serves the dashboard. Read failures are reported as retryable.
func (h *Handler) listModules(w http.ResponseWriter, r *http.Request) {
	modules, err := h.dashboard.ListModules(r.Context(), identityFrom(r).UserID)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "failed to load modules", Retry: true})
		return
	}
	writeJSON(w, http.StatusOK, modules)
}

// getModule returns the module view; ?lesson= selects the current lesson.
func (h *Handler) getModule(w http.ResponseWriter, r *http.Request) {
	tracker, ok := h.loadTracker(w, r)
	if !ok {
		return
	}
	if lessonID := r.URL.Query().Get("lesson"); lessonID != "" {
		if err := tracker.SelectLessonByID(lessonID); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, tracker.View())
}

func (h *Handler) completeLesson(w http.ResponseWriter, r *http.Request) {
	tracker, ok := h.loadTracker(w, r)
	if !ok {
		return
	}
	if err := tracker.SelectLessonByID(r.PathValue("lessonId")); err != nil {
		h.writeError(w, r, err)
		return
	}
	res := tracker.MarkCurrentLessonComplete(r.Context())
	writeJSON(w, http.StatusOK, completionResponse{Result: res, Module: tracker.View()})
}

func (h *Handler) saveNote(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	if !h.decode(w, r, &req) {
		return
	}
	tracker, ok := h.loadTracker(w, r)
	if !ok {
		return
	}
	lessonID := r.PathValue("lessonId")
	if err := tracker.SelectLessonByID(lessonID); err != nil {
		h.writeError(w, r, err)
		return
	}
	saved := tracker.SaveNote(r.Context(), lessonID, req.Content)
	writeJSON(w, http.StatusOK, noteResponse{Saved: saved, Module: tracker.View()})
}

func (h *Handler) loadTracker(w http.ResponseWriter, r *http.Request) (*app.ModuleTracker, bool) {
	tracker, err := h.progress.LoadModule(r.Context(), identityFrom(r).UserID, r.PathValue("moduleId"))
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return tracker, true
}
