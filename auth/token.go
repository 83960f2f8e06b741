package auth

import (
	"fmt"
	"time"

	"chat-relay/errors"

	"github.com/golang-jwt/jwt/v5"
)

const Issuer = "chat-relay"

// CustomClaims defines the structure of the data stored inside the JWT.
type CustomClaims struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Verifier checks tokens issued by the identity service with a shared HMAC secret.
type Verifier struct {
	secret []byte
	issuer string
}

func NewVerifier(secret string, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// GenerateToken creates a signed JWT for a specific user.
// The relay never issues tokens to end users, it is used by chatctl and tests.
func (v *Verifier) GenerateToken(userID, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		UserID: userID,
		Name:   name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    v.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// ValidateToken parses and validates the signature and expiration of a JWT string.
func (v *Verifier) ValidateToken(tokenString string) (*CustomClaims, error) {
	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, options...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), errors.ErrAuth)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", errors.ErrAuth)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("token has no user id: %w", errors.ErrAuth)
	}
	return claims, nil
}

// VerifyIdentity returns the user id carried by a valid token.
func (v *Verifier) VerifyIdentity(tokenString string) (string, error) {
	claims, err := v.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}
