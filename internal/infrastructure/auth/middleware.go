package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/copduh/Interviewzwt/internal/infrastructure/redis"
)

type ctxKey struct{}

func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

func UserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(ctxKey{}).(int64)
	return userID, ok && userID > 0
}

var (
	errMissingHeader = errors.New("missing authorization header")
	errInvalidHeader = errors.New("invalid authorization header")
	errRevokedToken  = errors.New("invalid or revoked token")
)

func authenticate(r *http.Request, redisClient redis.RedisClient, issuer *TokenIssuer) (int64, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return 0, errMissingHeader
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return 0, errInvalidHeader
	}

	tokenStr := parts[1]
	userID, err := issuer.ValidateJWT(tokenStr)
	if err != nil {
		return 0, err
	}

	// Check token in Redis
	storedToken, err := redisClient.Get(r.Context(), redis.TokenKey(userID))
	if err != nil || storedToken != tokenStr {
		slog.Warn("invalid or revoked token", "user_id", userID, "error", err)
		return 0, errRevokedToken
	}
	return userID, nil
}

func AuthMiddleware(redisClient redis.RedisClient, issuer *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := authenticate(r, redisClient, issuer)
			if err != nil {
				writeUnauthorized(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// OptionalAuthMiddleware attaches the user id when a valid token is sent and
// otherwise lets the request through anonymously.
func OptionalAuthMiddleware(redisClient redis.RedisClient, issuer *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := authenticate(r, redisClient, issuer)
			if err != nil {
				if !errors.Is(err, errMissingHeader) {
					slog.Info("continuing without authentication", "path", r.URL.Path, "reason", err.Error())
				}
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	msg := "Invalid token"
	if errors.Is(err, errMissingHeader) {
		msg = "Missing authorization header"
	}
	json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
