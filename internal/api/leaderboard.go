package api

import (
	"net/http"
)

// handleGetLeaderboard returns both per-user and per-team standings. Points
// come from completed submissions to non-hidden challenges; team points are
// the sum over members.
func (s *Server) handleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	users, err := s.db.GetUserStandings(s.db.DB())
	if err != nil {
		s.errorJSON(w, err, http.StatusInternalServerError)
		return
	}
	teams, err := s.db.GetTeamStandings(s.db.DB())
	if err != nil {
		s.errorJSON(w, err, http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, envelope{
		"users": users,
		"teams": teams,
	})
}
