package api

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/Fillbob/workout-challenge-prod-sub000/internal/auth"
	"github.com/Fillbob/workout-challenge-prod-sub000/internal/database"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	googleOauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
)

// --- Structs for JSON Payloads ---

// registerUserPayload defines the JSON body expected for user registration.
type registerUserPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginUserPayload defines the JSON body expected for user login.
type loginUserPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// --- OAUTH LOGIC ---

// googleOAuthConfig holds the configuration for our Google OAuth2 client.
// It's a global variable within this package, initialized once.
var googleOAuthConfig *oauth2.Config

// initOAuthConfig initializes the global googleOAuthConfig variable.
func (s *Server) initOAuthConfig() {
	googleOAuthConfig = &oauth2.Config{
		ClientID:     s.config.GoogleOauthClientID,
		ClientSecret: s.config.GoogleOauthClientSecret,
		RedirectURL:  s.config.GoogleOauthRedirectURL,
		Scopes:       []string{"https://www.googleapis.com/auth/userinfo.email", "https://www.googleapis.com/auth/userinfo.profile"},
		Endpoint:     google.Endpoint,
	}
}

// generateStateOauthCookie creates a random state string and sets it as an
// HttpOnly cookie to prevent CSRF attacks during the OAuth flow.
func generateStateOauthCookie(w http.ResponseWriter, name string) string {
	b := make([]byte, 16)
	rand.Read(b)
	state := hex.EncodeToString(b)
	cookie := &http.Cookie{
		Name:     name,
		Value:    state,
		Expires:  time.Now().Add(10 * time.Minute),
		HttpOnly: true, // Prevents client-side script access
	}
	http.SetCookie(w, cookie)
	return state
}

// handleGoogleLogin is the entry point for the sign-in OAuth flow. It
// redirects the user to Google's consent page.
func (s *Server) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if googleOAuthConfig == nil {
		s.initOAuthConfig()
	}
	state := generateStateOauthCookie(w, "oauthstate")
	url := googleOAuthConfig.AuthCodeURL(state)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// handleGoogleCallback is where Google redirects the user back after consent.
func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	// 1. Validate the state cookie to ensure the request is legitimate.
	oauthState, err := r.Cookie("oauthstate")
	if err != nil || r.FormValue("state") != oauthState.Value {
		s.errorJSON(w, errors.New("invalid oauth state"), http.StatusUnauthorized)
		return
	}

	// 2. Exchange the authorization code from Google for an access token.
	code := r.FormValue("code")
	token, err := googleOAuthConfig.Exchange(context.Background(), code)
	if err != nil {
		s.errorJSON(w, fmt.Errorf("failed to exchange code for token: %w", err), http.StatusInternalServerError)
		return
	}

	// 3. Use the access token to get the user's profile info from Google's API.
	oauth2Service, err := googleOauth2.NewService(context.Background(), option.WithTokenSource(googleOAuthConfig.TokenSource(context.Background(), token)))
	if err != nil {
		s.errorJSON(w, fmt.Errorf("failed to create oauth service: %w", err), http.StatusInternalServerError)
		return
	}
	userInfo, err := oauth2Service.Userinfo.Get().Do()
	if err != nil {
		s.errorJSON(w, fmt.Errorf("failed to get user info: %w", err), http.StatusInternalServerError)
		return
	}

	// 4. "Upsert" user: find by email or create if they don't exist.
	user, err := s.findOrCreateOAuthUser(userInfo.Email, userInfo.Name)
	if err != nil {
		s.errorJSON(w, err, http.StatusInternalServerError)
		return
	}

	// 5. Generate our application's own JWT for session management.
	appToken, err := auth.GenerateJWT(user.ID, user.IsAdmin, s.config.JwtSecret)
	if err != nil {
		s.errorJSON(w, errors.New("could not generate token"), http.StatusInternalServerError)
		return
	}

	// 6. Redirect back to the frontend's callback page with the token.
	redirectURL := fmt.Sprintf("%s/auth/callback?token=%s", s.config.FrontendURL, appToken)
	http.Redirect(w, r, redirectURL, http.StatusTemporaryRedirect)
}

// findOrCreateOAuthUser loads the user for an external identity, creating the
// account on first sign-in. Accounts on the configured admin list are
// promoted as a side effect, so adding an email to ADMIN_EMAILS takes effect
// on their next sign-in.
func (s *Server) findOrCreateOAuthUser(email, name string) (*database.User, error) {
	user, err := s.db.GetUserByEmail(s.db.DB(), email)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		err = s.db.WriteTx(func(tx *sql.Tx) error {
			var createErr error
			// Note: password_hash is empty for OAuth-only users.
			user, createErr = s.db.CreateUser(tx, email, name, "", s.config.IsAdminEmail(email))
			return createErr
		})
		if err != nil {
			return nil, errors.New("failed to create user")
		}
		return user, nil
	}

	if s.config.IsAdminEmail(user.Email) && !user.IsAdmin {
		err = s.db.WriteTx(func(tx *sql.Tx) error {
			return s.db.SetUserAdmin(tx, user.ID, true)
		})
		if err != nil {
			log.Printf("WARN: could not promote admin user %d: %v", user.ID, err)
		} else {
			user.IsAdmin = true
		}
	}
	return user, nil
}

// --- PASSWORD-BASED AUTH ---

// handleRegisterUser handles creation of a new user account via email/password.
func (s *Server) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var payload registerUserPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.errorJSON(w, errors.New("bad request: could not decode JSON"), http.StatusBadRequest)
		return
	}

	if payload.Email == "" || payload.Password == "" || payload.Username == "" {
		s.errorJSON(w, errors.New("username, email, and password are required"), http.StatusBadRequest)
		return
	}
	if len(payload.Password) < 8 {
		s.errorJSON(w, errors.New("password must be at least 8 characters long"), http.StatusBadRequest)
		return
	}

	// Check if a user with this email already exists.
	if _, err := s.db.GetUserByEmail(s.db.DB(), payload.Email); err == nil {
		s.errorJSON(w, errors.New("a user with this email already exists"), http.StatusConflict)
		return
	} else if !errors.Is(err, sql.ErrNoRows) {
		s.errorJSON(w, err, http.StatusInternalServerError)
		return
	}

	hash, err := auth.HashPassword(payload.Password)
	if err != nil {
		s.errorJSON(w, errors.New("could not process password"), http.StatusInternalServerError)
		return
	}

	var user *database.User
	err = s.db.WriteTx(func(tx *sql.Tx) error {
		var createErr error
		user, createErr = s.db.CreateUser(tx, payload.Email, payload.Username, hash, s.config.IsAdminEmail(payload.Email))
		return createErr
	})
	if err != nil {
		s.errorJSON(w, errors.New("failed to create user"), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusCreated, envelope{"user": user})
}

// handleLoginUser authenticates via email/password and returns a session JWT.
func (s *Server) handleLoginUser(w http.ResponseWriter, r *http.Request) {
	var payload loginUserPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.errorJSON(w, errors.New("bad request: could not decode JSON"), http.StatusBadRequest)
		return
	}

	user, err := s.db.GetUserByEmail(s.db.DB(), payload.Email)
	if err != nil {
		// Deliberately vague: do not reveal whether the email exists.
		s.errorJSON(w, errors.New("invalid credentials"), http.StatusUnauthorized)
		return
	}

	if !user.PasswordHash.Valid || !auth.CheckPasswordHash(payload.Password, user.PasswordHash.String) {
		s.errorJSON(w, errors.New("invalid credentials"), http.StatusUnauthorized)
		return
	}

	// An account added to the admin list since its creation is promoted here.
	if s.config.IsAdminEmail(user.Email) && !user.IsAdmin {
		err = s.db.WriteTx(func(tx *sql.Tx) error {
			return s.db.SetUserAdmin(tx, user.ID, true)
		})
		if err != nil {
			log.Printf("WARN: could not promote admin user %d: %v", user.ID, err)
		} else {
			user.IsAdmin = true
		}
	}

	token, err := auth.GenerateJWT(user.ID, user.IsAdmin, s.config.JwtSecret)
	if err != nil {
		s.errorJSON(w, errors.New("could not generate token"), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, envelope{"token": token, "user": user})
}
