package auth

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

// Config holds API authentication settings
type Config struct {
	Enabled   bool
	Username  string
	Password  string // plaintext or bcrypt hash
	JWTSecret string // random per process when empty
	JWTExpiry time.Duration
}

// Authenticator handles user authentication
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	jwtManager   *JWTManager
}

// NewAuthenticator creates an authenticator from cfg
func NewAuthenticator(cfg Config) (*Authenticator, error) {
	username := cfg.Username
	if username == "" {
		username = "admin"
	}

	var passwordHash []byte
	if cfg.Enabled {
		if cfg.Password == "" {
			return nil, errors.New("auth enabled without a password")
		}
		if isBcryptHash(cfg.Password) {
			passwordHash = []byte(cfg.Password)
		} else {
			hash, err := bcrypt.GenerateFromPassword([]byte(cfg.Password), bcrypt.DefaultCost)
			if err != nil {
				return nil, fmt.Errorf("failed to hash password: %w", err)
			}
			passwordHash = hash
		}
	}

	jwtManager, err := NewJWTManager(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return nil, err
	}

	return &Authenticator{
		enabled:      cfg.Enabled,
		username:     username,
		passwordHash: passwordHash,
		jwtManager:   jwtManager,
	}, nil
}

func isBcryptHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

// IsEnabled returns whether authentication is enabled
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate validates credentials and returns a JWT and its expiry (unix seconds)
func (a *Authenticator) Authenticate(username, password string) (string, int64, error) {
	if !a.enabled {
		return "", 0, ErrAuthDisabled
	}

	if username != a.username {
		return "", 0, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", 0, ErrInvalidCredentials
	}

	token, expiresAt, err := a.jwtManager.GenerateToken(username)
	if err != nil {
		return "", 0, err
	}

	return token, expiresAt.Unix(), nil
}

// ValidateToken validates a JWT token
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.jwtManager.ValidateToken(token)
}

// HashPassword creates a bcrypt hash of a password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
