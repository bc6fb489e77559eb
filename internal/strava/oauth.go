package strava

import (
	"golang.org/x/oauth2"
)

// Scopes required to read a user's full activity history.
// Strava uses comma-separated scopes inside a single scope value.
var Scopes = []string{"read,activity:read_all"}

// OAuthSettings holds the client credentials and endpoint URLs for the
// provider's OAuth flow. Endpoints are injectable so tests can stand up a
// local token server.
type OAuthSettings struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
}

// NewOAuthConfig creates an oauth2.Config from our settings.
func NewOAuthConfig(s OAuthSettings) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  s.AuthURL,
			TokenURL: s.TokenURL,
		},
		RedirectURL: s.RedirectURL,
		Scopes:      Scopes,
	}
}

// ExtractAthleteID extracts the athlete ID from the token extras.
// Strava includes athlete info in the initial token-exchange response.
func ExtractAthleteID(token *oauth2.Token) int64 {
	if athlete, ok := token.Extra("athlete").(map[string]interface{}); ok {
		if id, ok := athlete["id"].(float64); ok {
			return int64(id)
		}
	}
	return 0
}
