package config

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config holds all configuration for the application. By centralizing these
// settings, we make the application easier to manage and deploy.
type Config struct {
	// --- Server & Paths ---
	ServerAddr  string
	DataPath    string
	DbPath      string
	FrontendURL string

	// --- Security ---
	JwtSecret string

	// AdminEmails lists accounts that are granted challenge-administration
	// rights when they register or sign in.
	AdminEmails []string

	// --- Google OAuth 2.0 (sign-in) ---
	GoogleOauthClientID     string
	GoogleOauthClientSecret string
	GoogleOauthRedirectURL  string

	// --- Strava integration ---
	StravaClientID     string
	StravaClientSecret string
	StravaRedirectURL  string
	// The Strava endpoints are overridable so tests can point them at a
	// local fake server. Production deployments leave them at the defaults.
	StravaAuthURL  string
	StravaTokenURL string
	StravaAPIURL   string

	// Shared secrets for the non-interactive sync triggers. An empty secret
	// disables that trigger source entirely (it can never match).
	StravaWebhookSecret string
	StravaVerifyToken   string
	CronSecret          string

	// HTTP timeout applied to every outbound Strava call.
	StravaHTTPTimeout time.Duration

	// --- Parsed & Derived Fields ---
	// Parsed version of FrontendURL for easy access to its components.
	ParsedFrontendURL *url.URL
}

const (
	defaultStravaAuthURL  = "https://www.strava.com/oauth/authorize"
	defaultStravaTokenURL = "https://www.strava.com/oauth/token"
	defaultStravaAPIURL   = "https://www.strava.com/api/v3"
)

// New creates a new Config instance by loading values from environment variables.
// It validates that critical variables are present and will return an error if
// the configuration is invalid, preventing the server from starting.
func New() (*Config, error) {
	cfg := &Config{
		ServerAddr:              os.Getenv("SERVER_ADDR"),
		DataPath:                os.Getenv("DATA_PATH"),
		JwtSecret:               os.Getenv("JWT_SECRET"),
		FrontendURL:             os.Getenv("FRONTEND_URL"),
		GoogleOauthClientID:     os.Getenv("GOOGLE_OAUTH_CLIENT_ID"),
		GoogleOauthClientSecret: os.Getenv("GOOGLE_OAUTH_CLIENT_SECRET"),
		GoogleOauthRedirectURL:  os.Getenv("GOOGLE_OAUTH_REDIRECT_URL"),
		StravaClientID:          os.Getenv("STRAVA_CLIENT_ID"),
		StravaClientSecret:      os.Getenv("STRAVA_CLIENT_SECRET"),
		StravaRedirectURL:       os.Getenv("STRAVA_REDIRECT_URL"),
		StravaAuthURL:           os.Getenv("STRAVA_AUTH_URL"),
		StravaTokenURL:          os.Getenv("STRAVA_TOKEN_URL"),
		StravaAPIURL:            os.Getenv("STRAVA_API_URL"),
		StravaWebhookSecret:     os.Getenv("STRAVA_WEBHOOK_SECRET"),
		StravaVerifyToken:       os.Getenv("STRAVA_VERIFY_TOKEN"),
		CronSecret:              os.Getenv("CRON_SECRET"),
	}

	// --- Provide sensible defaults for non-critical values ---
	if cfg.DataPath == "" {
		cfg.DataPath = "./data"
	}
	if cfg.ServerAddr == "" {
		cfg.ServerAddr = ":8080"
	}
	if cfg.StravaAuthURL == "" {
		cfg.StravaAuthURL = defaultStravaAuthURL
	}
	if cfg.StravaTokenURL == "" {
		cfg.StravaTokenURL = defaultStravaTokenURL
	}
	if cfg.StravaAPIURL == "" {
		cfg.StravaAPIURL = defaultStravaAPIURL
	}
	cfg.StravaHTTPTimeout = 30 * time.Second

	if raw := os.Getenv("ADMIN_EMAILS"); raw != "" {
		for _, email := range strings.Split(raw, ",") {
			if email = strings.TrimSpace(email); email != "" {
				cfg.AdminEmails = append(cfg.AdminEmails, strings.ToLower(email))
			}
		}
	}

	// --- Validate critical required values ---
	// The application will "fail fast" if these are not set.
	if cfg.JwtSecret == "" {
		return nil, errors.New("FATAL: JWT_SECRET environment variable is not set")
	}
	if cfg.FrontendURL == "" {
		return nil, errors.New("FATAL: FRONTEND_URL environment variable is not set")
	}
	if cfg.GoogleOauthClientID == "" || cfg.GoogleOauthClientSecret == "" {
		return nil, errors.New("FATAL: Google OAuth credentials are not set")
	}
	if cfg.StravaClientID == "" || cfg.StravaClientSecret == "" {
		return nil, errors.New("FATAL: Strava client credentials are not set")
	}

	// --- Parse and derive necessary fields ---
	parsedURL, err := url.Parse(cfg.FrontendURL)
	if err != nil {
		return nil, errors.New("FATAL: Invalid FRONTEND_URL format")
	}
	cfg.ParsedFrontendURL = parsedURL

	cfg.DbPath = filepath.Join(cfg.DataPath, "databases")

	return cfg, nil
}

// IsAdminEmail reports whether the given email is on the configured admin list.
func (c *Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(email)
	for _, admin := range c.AdminEmails {
		if admin == email {
			return true
		}
	}
	return false
}
