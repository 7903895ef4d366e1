package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

const (
	issuer         = "peoplecounter"
	defaultExpiry  = 24 * time.Hour
	secretByteSize = 32
)

// Claims carries the operator name alongside the registered claims. Subject
// always equals Username and ID is unique per issued token.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTManager issues and verifies HS256 session tokens for the API
type JWTManager struct {
	key    []byte
	expiry time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewJWTManager creates a JWT manager. An empty secret is replaced by a
// random one, which invalidates tokens on restart.
func NewJWTManager(secret string, expiry time.Duration) (*JWTManager, error) {
	key := []byte(secret)
	if len(key) == 0 {
		var err error
		if key, err = randomSecret(); err != nil {
			return nil, err
		}
	}
	if expiry <= 0 {
		expiry = defaultExpiry
	}

	m := &JWTManager{key: key, expiry: expiry, now: time.Now}
	m.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	return m, nil
}

func randomSecret() ([]byte, error) {
	buf := make([]byte, secretByteSize)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("failed to generate jwt secret: %w", err)
	}
	return []byte(hex.EncodeToString(buf)), nil
}

// GenerateToken signs a token for username and returns it with its expiry
func (m *JWTManager) GenerateToken(username string) (string, time.Time, error) {
	if username == "" {
		return "", time.Time{}, fmt.Errorf("%w: empty username", ErrInvalidToken)
	}
	issuedAt := m.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(m.expiry)

	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken verifies signature, issuer and lifetime and returns the
// claims. Expired tokens yield ErrExpiredToken, anything else ErrInvalidToken.
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := m.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return m.key, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, ErrInvalidToken
	}

	if claims.Username == "" || claims.Subject != claims.Username || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Expiry returns the token lifetime
func (m *JWTManager) Expiry() time.Duration {
	return m.expiry
}
