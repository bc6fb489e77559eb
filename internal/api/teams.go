package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/Fillbob/workout-challenge-prod-sub000/internal/database"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type createTeamPayload struct {
	Name string `json:"name"`
}

type joinTeamPayload struct {
	JoinCode string `json:"joinCode"`
}

// handleGetMyTeams lists the teams the authenticated user belongs to.
func (s *Server) handleGetMyTeams(w http.ResponseWriter, r *http.Request) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}

	teams, err := s.db.GetTeamsByUserID(s.db.DB(), userID)
	if err != nil {
		s.errorJSON(w, err, http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"teams": teams})
}

// handleCreateTeam creates a team with a fresh join code and adds the
// creator as its first member.
func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}

	var payload createTeamPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.errorJSON(w, errors.New("bad request: could not decode JSON"), http.StatusBadRequest)
		return
	}
	payload.Name = strings.TrimSpace(payload.Name)
	if payload.Name == "" {
		s.errorJSON(w, errors.New("team name is required"), http.StatusBadRequest)
		return
	}

	joinCode := uuid.NewString()

	var team *database.Team
	err = s.db.WriteTx(func(tx *sql.Tx) error {
		var createErr error
		team, createErr = s.db.CreateTeam(tx, payload.Name, joinCode, userID)
		if createErr != nil {
			return createErr
		}
		return s.db.AddTeamMember(tx, team.ID, userID)
	})
	if err != nil {
		s.errorJSON(w, errors.New("failed to create team"), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusCreated, envelope{"team": team})
}

// handleJoinTeam adds the authenticated user to the team matching the
// supplied join code. Joining a team you are already in is a no-op.
func (s *Server) handleJoinTeam(w http.ResponseWriter, r *http.Request) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}

	var payload joinTeamPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.errorJSON(w, errors.New("bad request: could not decode JSON"), http.StatusBadRequest)
		return
	}
	payload.JoinCode = strings.TrimSpace(payload.JoinCode)
	if payload.JoinCode == "" {
		s.errorJSON(w, errors.New("join code is required"), http.StatusBadRequest)
		return
	}

	team, err := s.db.GetTeamByJoinCode(s.db.DB(), payload.JoinCode)
	if err != nil {
		s.errorJSON(w, errors.New("invalid join code"), http.StatusNotFound)
		return
	}

	err = s.db.WriteTx(func(tx *sql.Tx) error {
		return s.db.AddTeamMember(tx, team.ID, userID)
	})
	if err != nil {
		s.errorJSON(w, errors.New("failed to join team"), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, envelope{"team": team})
}

// handleGetTeamDetails returns a team's metadata. The join code is only
// included for members.
func (s *Server) handleGetTeamDetails(w http.ResponseWriter, r *http.Request) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}
	teamID, err := s.teamIDParam(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}

	team, err := s.db.GetTeamByID(s.db.DB(), teamID)
	if err != nil {
		s.errorJSON(w, errors.New("team not found"), http.StatusNotFound)
		return
	}

	isMember, err := s.db.IsTeamMember(s.db.DB(), teamID, userID)
	if err != nil {
		s.errorJSON(w, err, http.StatusInternalServerError)
		return
	}
	if !isMember {
		team.JoinCode = ""
	}

	s.writeJSON(w, http.StatusOK, envelope{"team": team})
}

// handleGetTeamMembers lists a team's members. Restricted to members.
func (s *Server) handleGetTeamMembers(w http.ResponseWriter, r *http.Request) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}
	teamID, err := s.teamIDParam(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}

	isMember, err := s.db.IsTeamMember(s.db.DB(), teamID, userID)
	if err != nil {
		s.errorJSON(w, err, http.StatusInternalServerError)
		return
	}
	if !isMember {
		s.errorJSON(w, errors.New("you are not a member of this team"), http.StatusForbidden)
		return
	}

	members, err := s.db.GetTeamMembers(s.db.DB(), teamID)
	if err != nil {
		s.errorJSON(w, err, http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{"members": members})
}

// handleRemoveTeamMember removes a member from a team. Only the team's
// creator (or an admin) may remove someone else.
func (s *Server) handleRemoveTeamMember(w http.ResponseWriter, r *http.Request) {
	claims, err := s.getClaimsFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}
	teamID, err := s.teamIDParam(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}
	memberID, err := strconv.ParseInt(chi.URLParam(r, "memberID"), 10, 64)
	if err != nil {
		s.errorJSON(w, errors.New("invalid member ID"), http.StatusBadRequest)
		return
	}

	team, err := s.db.GetTeamByID(s.db.DB(), teamID)
	if err != nil {
		s.errorJSON(w, errors.New("team not found"), http.StatusNotFound)
		return
	}

	if team.CreatorUserID != claims.UserID && !claims.IsAdmin {
		s.errorJSON(w, errors.New("only the team creator can remove members"), http.StatusForbidden)
		return
	}

	err = s.db.WriteTx(func(tx *sql.Tx) error {
		return s.db.RemoveTeamMember(tx, teamID, memberID)
	})
	if err != nil {
		s.errorJSON(w, errors.New("failed to remove member"), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, envelope{"message": "member removed"})
}

// handleLeaveTeam removes the authenticated user from a team.
func (s *Server) handleLeaveTeam(w http.ResponseWriter, r *http.Request) {
	userID, err := s.getUserIDFromContext(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusUnauthorized)
		return
	}
	teamID, err := s.teamIDParam(r)
	if err != nil {
		s.errorJSON(w, err, http.StatusBadRequest)
		return
	}

	err = s.db.WriteTx(func(tx *sql.Tx) error {
		return s.db.RemoveTeamMember(tx, teamID, userID)
	})
	if err != nil {
		s.errorJSON(w, errors.New("failed to leave team"), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, envelope{"message": "left team"})
}

func (s *Server) teamIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "teamID"), 10, 64)
	if err != nil {
		return 0, errors.New("invalid team ID")
	}
	return id, nil
}
