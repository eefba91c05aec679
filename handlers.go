package main

import (
	"encoding/json"
	"net/http"
	"strings"
)

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func validEmail(email string) bool {
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1
}

func (a *App) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if len(req.Name) < 3 || !validEmail(req.Email) || len(req.Password) < 6 {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Name, email and password are required")
		return
	}

	user, tokens, err := a.Sessions.SignUp(req.Name, req.Email, req.Password)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"user":   user,
		"tokens": tokens,
	})
}

func (a *App) HandleSignin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if !validEmail(req.Email) || req.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Email and password are required")
		return
	}

	user, tokens, err := a.Sessions.SignIn(req.Email, req.Password)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user":   user,
		"tokens": tokens,
	})
}

// HandleRefresh expects the (possibly expired) access token in the
// Authorization header and the refresh token in the body, and returns a
// brand-new pair. The old pair is dead afterwards, whoever still holds it.
func (a *App) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	accessToken, err := getBearerToken(r.Header.Get("Authorization"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Refresh token is required")
		return
	}

	tokens, err := a.Sessions.Refresh(accessToken, req.RefreshToken)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokens)
}

func (a *App) HandleSignout(w http.ResponseWriter, r *http.Request) {
	keystore := keystoreFromContext(r.Context())
	if keystore == nil {
		writeFailure(w, ErrAuthFailure)
		return
	}
	if err := a.Sessions.SignOut(keystore.ID); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"message": "Logout success"})
}

func (a *App) HandleMe(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		writeFailure(w, ErrAuthFailure)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": user.Public()})
}
