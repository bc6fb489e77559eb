package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	assert.True(t, CheckPasswordHash("correct horse battery staple", hash))
	assert.False(t, CheckPasswordHash("Tr0ub4dor&3", hash))
}

func TestHashPasswordSaltsEachCall(t *testing.T) {
	first, err := HashPassword("same password")
	require.NoError(t, err)
	second, err := HashPassword("same password")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestCheckPasswordHashRejectsMalformedHash(t *testing.T) {
	assert.False(t, CheckPasswordHash("anything", "not-a-hash"))
	assert.False(t, CheckPasswordHash("anything", "$bcrypt$v=19$m=1,t=1,p=1$abc$def"))
	assert.False(t, CheckPasswordHash("anything", ""))
}

func TestGenerateAndValidateJWT(t *testing.T) {
	token, err := GenerateJWT(42, true, "test-secret")
	require.NoError(t, err)

	claims, err := ValidateJWT(token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.UserID)
	assert.True(t, claims.IsAdmin)
}

func TestValidateJWTRejectsWrongSecret(t *testing.T) {
	token, err := GenerateJWT(42, false, "right-secret")
	require.NoError(t, err)

	_, err = ValidateJWT(token, "wrong-secret")
	assert.Error(t, err)
}

func TestValidateJWTRejectsGarbage(t *testing.T) {
	_, err := ValidateJWT("not.a.jwt", "secret")
	assert.Error(t, err)
}
