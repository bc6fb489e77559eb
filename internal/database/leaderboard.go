package database

// UserStanding is one leaderboard row: a user and the points they have earned
// from completed submissions of visible challenges.
type UserStanding struct {
	UserID    int64  `json:"userId"`
	Username  string `json:"username"`
	Points    int    `json:"points"`
	Completed int    `json:"completed"`
}

// TeamStanding aggregates the standings of a team's members.
type TeamStanding struct {
	TeamID    int64  `json:"teamId"`
	TeamName  string `json:"teamName"`
	Points    int    `json:"points"`
	Completed int    `json:"completed"`
}

// GetUserStandings ranks users by total points over completed submissions of
// non-hidden challenges.
func (s *Service) GetUserStandings(db DBorTx) ([]UserStanding, error) {
	query := `
		SELECT u.id, u.username,
			COALESCE(SUM(c.points), 0) AS points,
			COUNT(c.id) AS completed
		FROM users u
		LEFT JOIN submissions sub ON sub.user_id = u.id AND sub.completed = 1
		LEFT JOIN challenges c ON c.id = sub.challenge_id AND c.hidden = 0
		GROUP BY u.id, u.username
		ORDER BY points DESC, completed DESC, u.username;`
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var standings []UserStanding
	for rows.Next() {
		var st UserStanding
		if err := rows.Scan(&st.UserID, &st.Username, &st.Points, &st.Completed); err != nil {
			return nil, err
		}
		standings = append(standings, st)
	}
	return standings, rows.Err()
}

// GetTeamStandings ranks teams by the summed points of their members'
// completed submissions of non-hidden challenges.
func (s *Service) GetTeamStandings(db DBorTx) ([]TeamStanding, error) {
	query := `
		SELECT t.id, t.name,
			COALESCE(SUM(c.points), 0) AS points,
			COUNT(c.id) AS completed
		FROM teams t
		LEFT JOIN team_members tm ON tm.team_id = t.id
		LEFT JOIN submissions sub ON sub.user_id = tm.user_id AND sub.completed = 1
		LEFT JOIN challenges c ON c.id = sub.challenge_id AND c.hidden = 0
		GROUP BY t.id, t.name
		ORDER BY points DESC, completed DESC, t.name;`
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var standings []TeamStanding
	for rows.Next() {
		var st TeamStanding
		if err := rows.Scan(&st.TeamID, &st.TeamName, &st.Points, &st.Completed); err != nil {
			return nil, err
		}
		standings = append(standings, st)
	}
	return standings, rows.Err()
}
