package http

import (
	"net/http"

	"training-portal/internal/app"
	"training-portal/internal/domain"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type signupRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required,min=8,max=72"`
	FirstName  string `json:"firstName" validate:"required,notblank,max=100"`
	LastName   string `json:"lastName" validate:"max=100"`
	Department string `json:"department" validate:"max=100"`
}

type sessionResponse struct {
	Token    string       `json:"token"`
	Identity app.Identity `json:"identity"`
	User     *domain.User `json:"user,omitempty"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	token, id, err := h.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Token: token, Identity: id})
}

// signup registers a learner and signs them in.
func (h *Handler) signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.auth.SignUp(r.Context(), app.NewUser{
		Email:      req.Email,
		Password:   req.Password,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		Department: req.Department,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	token, id, err := h.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{Token: token, Identity: id, User: &user})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.SignOut(r.Context(), identityFrom(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, identityFrom(r))
}

func (h *Handler) unauthorized(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusForbidden, errorResponse{
		Error:    "you do not have permission to view this page",
		Redirect: "/",
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.dashboard.Overview(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "failed to load users", Retry: true})
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) liveLearners(w http.ResponseWriter, r *http.Request) {
	users, err := h.exams.LiveLearners(r.Context(), r.PathValue("moduleId"))
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "failed to list live exams", Retry: true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"moduleId": r.PathValue("moduleId"), "users": users})
}
