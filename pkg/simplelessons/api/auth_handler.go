package api

import (
	"net/http"

	"github.com/go-chi/render"
	"github.com/tendant/simple-lessons/pkg/simplelessons"
	"github.com/tendant/simple-lessons/pkg/simplelessons/session"
)

// LoginRequest carries the identity issued by the external login widget.
type LoginRequest struct {
	Nick       string `json:"nick"`
	ExternalID string `json:"external_id"`
}

// LoginResponse returns the user and the token to send on later requests.
type LoginResponse struct {
	User  *simplelessons.User `json:"user"`
	Token string              `json:"token"`
}

// Login registers or refreshes the user and sets the login cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}

	user, token, err := h.sessions.Login(r.Context(), req.Nick, req.ExternalID)
	if err != nil {
		h.fail(w, r, "Failed to log in", err)
		return
	}

	session.SetCookie(w, token)
	h.logger.InfoContext(r.Context(), "User logged in", "user_id", user.ID)
	render.JSON(w, r, LoginResponse{User: user, Token: token})
}

// Me returns the current user.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, currentUser(r))
}
