package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AppClaims defines the custom claims we include in our JWTs alongside the
// standard registered claims. UserID identifies the authenticated user and
// IsAdmin gates the challenge-administration endpoints.
type AppClaims struct {
	UserID  int64 `json:"userID"`
	IsAdmin bool  `json:"isAdmin"`
	jwt.RegisteredClaims
}

// GenerateJWT creates a new signed JWT string for a given user.
// The token will have a standard expiration time.
func GenerateJWT(userID int64, isAdmin bool, secret string) (string, error) {
	claims := &AppClaims{
		UserID:  userID,
		IsAdmin: isAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}

	// HS256 (HMAC using SHA-256) is a common and secure signing method.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString([]byte(secret))
}

// ValidateJWT parses and validates a JWT string. It checks the token's
// signature to ensure it hasn't been tampered with and verifies standard
// claims like the expiration time. If valid, it returns the custom claims.
func ValidateJWT(tokenString string, secret string) (*AppClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Security check: ensure the token's signing method is what we expect.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		// Covers a malformed token, an invalid signature, or an expired
		// token (jwt.ErrTokenExpired).
		return nil, err
	}

	if claims, ok := token.Claims.(*AppClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
