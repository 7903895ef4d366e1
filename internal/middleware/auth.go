package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"peoplecounter/internal/auth"
)

// ContextKey is a custom type for context keys
type ContextKey string

const (
	// UserContextKey is the key for storing user claims in context
	UserContextKey ContextKey = "user"
)

// AuthMiddleware creates an HTTP middleware for JWT authentication
func AuthMiddleware(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authenticator.IsEnabled() {
				next.ServeHTTP(w, r)
				return
			}

			tokenString, msg := bearerToken(r)
			if tokenString == "" {
				writeUnauthorized(w, msg)
				return
			}

			claims, err := authenticator.ValidateToken(tokenString)
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					writeUnauthorized(w, "token has expired")
				} else {
					writeUnauthorized(w, "invalid token")
				}
				return
			}

			ctx := context.WithValue(r.Context(), UserContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserFromContext retrieves user claims from the request context
func GetUserFromContext(ctx context.Context) *auth.Claims {
	claims, ok := ctx.Value(UserContextKey).(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}

// bearerToken extracts the token from the Authorization header, falling back
// to the "token" query parameter for websocket clients
func bearerToken(r *http.Request) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("token"); token != "" {
			return token, ""
		}
		return "", "missing authorization header"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", "invalid authorization header format"
	}
	return parts[1], ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"name": "unauthorized", "message": msg})
}

// OptionalAuth attaches the caller's claims when a valid token is present
// and never rejects the request
func OptionalAuth(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !authenticator.IsEnabled() {
				next.ServeHTTP(w, r)
				return
			}
			if tokenString, _ := bearerToken(r); tokenString != "" {
				if claims, err := authenticator.ValidateToken(tokenString); err == nil {
					r = r.WithContext(context.WithValue(r.Context(), UserContextKey, claims))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
