package database

import (
	"database/sql"
	"errors"
	"strings"
)

// DBorTx is an interface that allows functions to accept either a `*sql.DB` for single queries
// or a `*sql.Tx` for operations within a transaction. This promotes code reuse.
type DBorTx interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	QueryRow(query string, args ...interface{}) *sql.Row
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

// --- User Queries ---

func (s *Service) CreateUser(db DBorTx, email, username, passwordHash string, isAdmin bool) (*User, error) {
	// An empty password hash is set to NULL in the DB for OAuth-only users.
	var hash interface{} = passwordHash
	if passwordHash == "" {
		hash = nil
	}
	query := `INSERT INTO users (email, username, password_hash, is_admin) VALUES (?, ?, ?, ?);`
	res, err := db.Exec(query, email, username, hash, boolToInt(isAdmin))
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return s.GetUserByID(db, id)
}

func (s *Service) GetUserByEmail(db DBorTx, email string) (*User, error) {
	query := `SELECT id, email, username, password_hash, is_admin, created_at FROM users WHERE email = ?;`
	return scanUser(db.QueryRow(query, email))
}

func (s *Service) GetUserByID(db DBorTx, id int64) (*User, error) {
	query := `SELECT id, email, username, password_hash, is_admin, created_at FROM users WHERE id = ?;`
	return scanUser(db.QueryRow(query, id))
}

func scanUser(row *sql.Row) (*User, error) {
	user := &User{}
	var isAdmin int
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.PasswordHash,
		&isAdmin,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err // Returns sql.ErrNoRows if not found
	}
	user.IsAdmin = isAdmin != 0
	return user, nil
}

// UpdateUser updates a user's username and/or password hash.
func (s *Service) UpdateUser(db DBorTx, userID int64, username, passwordHash string) error {
	var queryBuilder strings.Builder
	queryBuilder.WriteString("UPDATE users SET ")

	var args []interface{}
	if username != "" {
		queryBuilder.WriteString("username = ? ")
		args = append(args, username)
	}

	if passwordHash != "" {
		if len(args) > 0 {
			queryBuilder.WriteString(", ")
		}
		queryBuilder.WriteString("password_hash = ? ")
		args = append(args, passwordHash)
	}

	queryBuilder.WriteString("WHERE id = ?;")
	args = append(args, userID)

	_, err := db.Exec(queryBuilder.String(), args...)
	return err
}

// SetUserAdmin flips the admin flag for a user. Used when a configured admin
// email signs in for the first time after being added to the list.
func (s *Service) SetUserAdmin(db DBorTx, userID int64, isAdmin bool) error {
	_, err := db.Exec(`UPDATE users SET is_admin = ? WHERE id = ?;`, boolToInt(isAdmin), userID)
	return err
}

func (s *Service) DeleteUser(db DBorTx, userID int64) error {
	_, err := db.Exec("DELETE FROM users WHERE id = ?", userID)
	return err
}

// --- Team & Membership Queries ---

func (s *Service) CreateTeam(tx *sql.Tx, name, joinCode string, creatorID int64) (*Team, error) {
	query := `INSERT INTO teams (name, join_code, creator_user_id) VALUES (?, ?, ?);`
	res, err := tx.Exec(query, name, joinCode, creatorID)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return s.GetTeamByID(tx, id)
}

func (s *Service) GetTeamByID(db DBorTx, id int64) (*Team, error) {
	query := `SELECT id, name, join_code, creator_user_id, created_at FROM teams WHERE id = ?;`
	team := &Team{}
	err := db.QueryRow(query, id).Scan(&team.ID, &team.Name, &team.JoinCode, &team.CreatorUserID, &team.CreatedAt)
	if err != nil {
		return nil, err
	}
	return team, nil
}

func (s *Service) GetTeamByJoinCode(db DBorTx, joinCode string) (*Team, error) {
	query := `SELECT id, name, join_code, creator_user_id, created_at FROM teams WHERE join_code = ?;`
	team := &Team{}
	err := db.QueryRow(query, joinCode).Scan(&team.ID, &team.Name, &team.JoinCode, &team.CreatorUserID, &team.CreatedAt)
	if err != nil {
		return nil, err
	}
	return team, nil
}

func (s *Service) AddTeamMember(tx *sql.Tx, teamID, userID int64) error {
	// INSERT OR IGNORE keeps a repeated join request idempotent.
	query := `INSERT OR IGNORE INTO team_members (team_id, user_id) VALUES (?, ?);`
	_, err := tx.Exec(query, teamID, userID)
	return err
}

func (s *Service) RemoveTeamMember(tx *sql.Tx, teamID, userID int64) error {
	res, err := tx.Exec(`DELETE FROM team_members WHERE team_id = ? AND user_id = ?;`, teamID, userID)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return errors.New("user is not a member of this team")
	}
	return nil
}

// GetTeamsByUserID returns every team the user is a member of.
func (s *Service) GetTeamsByUserID(db DBorTx, userID int64) ([]Team, error) {
	query := `
		SELECT t.id, t.name, t.join_code, t.creator_user_id, t.created_at
		FROM teams t
		JOIN team_members tm ON tm.team_id = t.id
		WHERE tm.user_id = ?
		ORDER BY t.created_at;`
	rows, err := db.Query(query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []Team
	for rows.Next() {
		var team Team
		if err := rows.Scan(&team.ID, &team.Name, &team.JoinCode, &team.CreatorUserID, &team.CreatedAt); err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}
	return teams, rows.Err()
}

// GetTeamIDsByUserID returns just the team identifiers the user belongs to.
// The ingestion pipeline uses this to scope team-restricted challenges.
func (s *Service) GetTeamIDsByUserID(db DBorTx, userID int64) ([]int64, error) {
	rows, err := db.Query(`SELECT team_id FROM team_members WHERE user_id = ?;`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetTeamMembers returns the users belonging to a team.
func (s *Service) GetTeamMembers(db DBorTx, teamID int64) ([]User, error) {
	query := `
		SELECT u.id, u.email, u.username, u.is_admin, u.created_at
		FROM users u
		JOIN team_members tm ON tm.user_id = u.id
		WHERE tm.team_id = ?
		ORDER BY tm.joined_at;`
	rows, err := db.Query(query, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var user User
		var isAdmin int
		if err := rows.Scan(&user.ID, &user.Email, &user.Username, &isAdmin, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.IsAdmin = isAdmin != 0
		users = append(users, user)
	}
	return users, rows.Err()
}

// IsTeamMember reports whether the user belongs to the team.
func (s *Service) IsTeamMember(db DBorTx, teamID, userID int64) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM team_members WHERE team_id = ? AND user_id = ?;`, teamID, userID).Scan(&n)
	return n > 0, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
