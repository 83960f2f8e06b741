package auth

import (
	"testing"
	"time"

	"chat-relay/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestVerifier_Roundtrip(t *testing.T) {
	req := require.New(t)
	verifier := NewVerifier("a_long_enough_secret_for_tests", Issuer)

	token, err := verifier.GenerateToken("user-1", "Ada", time.Minute)
	req.NoError(err)

	userID, err := verifier.VerifyIdentity(token)
	req.NoError(err)
	req.Equal("user-1", userID)

	claims, err := verifier.ValidateToken(token)
	req.NoError(err)
	req.Equal("Ada", claims.Name)
	req.Equal(Issuer, claims.Issuer)
}

func TestVerifier_Rejects(t *testing.T) {
	verifier := NewVerifier("a_long_enough_secret_for_tests", Issuer)
	other := NewVerifier("another_secret_entirely", Issuer)
	foreignIssuer := NewVerifier("a_long_enough_secret_for_tests", "someone-else")

	expired, err := verifier.GenerateToken("user-1", "Ada", -time.Minute)
	require.NoError(t, err)
	forged, err := other.GenerateToken("user-1", "Ada", time.Minute)
	require.NoError(t, err)
	wrongIssuer, err := foreignIssuer.GenerateToken("user-1", "Ada", time.Minute)
	require.NoError(t, err)
	noUser, err := verifier.GenerateToken("", "Ada", time.Minute)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"user_id": "user-1"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"Garbage", "not-a-token"},
		{"Empty", ""},
		{"Expired", expired},
		{"Wrong secret", forged},
		{"Wrong issuer", wrongIssuer},
		{"Missing user id", noUser},
		{"Unsigned", none},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.VerifyIdentity(tt.token)
			require.ErrorIs(t, err, errors.ErrAuth)
		})
	}
}

func TestBearerToken(t *testing.T) {
	req := require.New(t)
	req.Equal("abc", BearerToken("Bearer abc"))
	req.Equal("abc", BearerToken("bearer abc"))
	req.Equal("", BearerToken("Basic abc"))
	req.Equal("", BearerToken(""))
}
