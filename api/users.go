package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/yashasviy/ledger-api/users"
)

func SignupHandler(svc *users.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req users.SignupRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "Invalid Body")
			return
		}

		id, err := svc.Signup(r.Context(), req)
		switch {
		case errors.Is(err, users.ErrInvalidSignup):
			writeError(w, http.StatusBadRequest, "invalid_signup", err.Error())
		case errors.Is(err, users.ErrUsernameTaken):
			writeError(w, http.StatusConflict, "username_taken", err.Error())
		case err != nil:
			log.Printf("Signup failed: %v", err)
			writeError(w, http.StatusInternalServerError, "internal", "Signup Failed")
		default:
			writeJSON(w, http.StatusCreated, map[string]string{"id": id})
		}
	}
}

func SigninHandler(svc *users.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req users.SigninRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", "Invalid Body")
			return
		}

		token, err := svc.SignIn(r.Context(), req)
		switch {
		case errors.Is(err, users.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
		case err != nil:
			log.Printf("Signin failed: %v", err)
			writeError(w, http.StatusInternalServerError, "internal", "Signin Failed")
		default:
			writeJSON(w, http.StatusOK, token)
		}
	}
}

func ListUsersHandler(svc *users.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := svc.List(r.Context())
		if err != nil {
			log.Printf("List users failed: %v", err)
			writeError(w, http.StatusInternalServerError, "internal", "Database Error")
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}
