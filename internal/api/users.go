package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/Fillbob/workout-challenge-prod-sub000/internal/auth"
)

type updateUserPayload struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
}

// handleGetMyProfile returns the authenticated user's profile.
func (s *Server) handleGetMyProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}

	user, err := s.db.GetUserByID(s.db.DB(), userID)
	if err != nil {
		s.errorJSON(w, errors.New("user not found"), http.StatusNotFound)
		return
	}

	teams, err := s.db.GetTeamsByUserID(s.db.DB(), userID)
	if err != nil {
		s.errorJSON(w, err, http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, envelope{"user": user, "teams": teams})
}

// handleUpdateMyProfile updates the authenticated user's username and/or password.
func (s *Server) handleUpdateMyProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}

	var payload updateUserPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.errorJSON(w, errors.New("bad request: could not decode JSON"), http.StatusBadRequest)
		return
	}
	if payload.Username == nil && payload.Password == nil {
		s.errorJSON(w, errors.New("nothing to update"), http.StatusBadRequest)
		return
	}

	user, err := s.db.GetUserByID(s.db.DB(), userID)
	if err != nil {
		s.errorJSON(w, errors.New("user not found"), http.StatusNotFound)
		return
	}

	username := user.Username
	if payload.Username != nil {
		if *payload.Username == "" {
			s.errorJSON(w, errors.New("username cannot be empty"), http.StatusBadRequest)
			return
		}
		username = *payload.Username
	}

	passwordHash := user.PasswordHash.String
	if payload.Password != nil {
		if len(*payload.Password) < 8 {
			s.errorJSON(w, errors.New("password must be at least 8 characters long"), http.StatusBadRequest)
			return
		}
		passwordHash, err = auth.HashPassword(*payload.Password)
		if err != nil {
			s.errorJSON(w, errors.New("could not process password"), http.StatusInternalServerError)
			return
		}
	}

	err = s.db.WriteTx(func(tx *sql.Tx) error {
		return s.db.UpdateUser(tx, userID, username, passwordHash)
	})
	if err != nil {
		s.errorJSON(w, errors.New("failed to update user"), http.StatusInternalServerError)
		return
	}

	user, err = s.db.GetUserByID(s.db.DB(), userID)
	if err != nil {
		s.errorJSON(w, err, http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"user": user})
}

// handleDeleteMyProfile deletes the authenticated user's account. The activity
// connection is revoked upstream first on a best-effort basis; local rows go
// away via ON DELETE CASCADE.
func (s *Server) handleDeleteMyProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}

	if conn, err := s.db.GetStravaConnectionByUserID(s.db.DB(), userID); err == nil {
		if err := s.strava.Deauthorize(r.Context(), conn.AccessToken); err != nil {
			log.Printf("WARN: strava deauthorize for user %d failed: %v", userID, err)
		}
	}

	err = s.db.WriteTx(func(tx *sql.Tx) error {
		return s.db.DeleteUser(tx, userID)
	})
	if err != nil {
		s.errorJSON(w, errors.New("failed to delete user"), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, envelope{"message": "account deleted"})
}
