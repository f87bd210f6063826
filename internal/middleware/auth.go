package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	// UserIDKey is the request context key holding the authenticated member id.
	UserIDKey contextKey = "userID"
	// RoleKey is the request context key holding the authenticated member role.
	RoleKey contextKey = "role"
)

// Authenticator validates bearer tokens and rejects revoked sessions.
type Authenticator struct {
	jwtSecret   []byte
	redisClient *redis.Client
}

func NewAuthenticator(jwtSecret string, redisClient *redis.Client) *Authenticator {
	return &Authenticator{
		jwtSecret:   []byte(jwtSecret),
		redisClient: redisClient,
	}
}

// RequireAuth parses the Authorization header, verifies the token signature
// and expiry, checks the logout blacklist and adds the member identity to
// the request context.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Get token from Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		// Extract token
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		tokenString := parts[1]

		// Tokens invalidated by logout are kept in Redis until they expire
		if a.redisClient != nil {
			blacklisted, err := a.redisClient.Get(r.Context(), fmt.Sprintf("blacklist:%s", tokenString)).Result()
			if err == nil && blacklisted == "true" {
				http.Error(w, "Token has been revoked", http.StatusUnauthorized)
				return
			}
		}

		userID, role, err := a.validateToken(tokenString)
		if err != nil {
			log.Printf("[AUTH] Token validation failed: %v", err)
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		// Add member identity to context
		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		ctx = context.WithValue(ctx, RoleKey, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin gates a route on the ADMIN role. Must run after RequireAuth.
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, _ := r.Context().Value(RoleKey).(string)
		if role != "ADMIN" {
			http.Error(w, "Admin privileges required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) validateToken(tokenString string) (int, string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})

	if err != nil || !token.Valid {
		return 0, "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, "", fmt.Errorf("invalid token claims")
	}

	userID, ok := claims["user_id"].(float64)
	if !ok {
		return 0, "", fmt.Errorf("missing user_id claim")
	}
	role, _ := claims["role"].(string)

	return int(userID), role, nil
}

// UserIDFromContext returns the authenticated member id, or 0 when the
// request did not pass through RequireAuth.
func UserIDFromContext(ctx context.Context) int {
	id, _ := ctx.Value(UserIDKey).(int)
	return id
}

// RoleFromContext returns the authenticated member role, or "" when the
// request did not pass through RequireAuth.
func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(RoleKey).(string)
	return role
}
