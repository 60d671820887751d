package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// RedisTokenValidator resolves bearer tokens from the session keys the
// authentication service writes to Redis (auth:token:<token> -> JSON identity).
type RedisTokenValidator struct {
	client *redis.Client
}

// NewRedisTokenValidator creates a new token validator backed by Redis
func NewRedisTokenValidator(client *redis.Client) *RedisTokenValidator {
	return &RedisTokenValidator{client: client}
}

type sessionPayload struct {
	UserID uint64 `json:"user_id"`
	Role   Role   `json:"role"`
}

// TokenKey returns the Redis key holding a session token
func TokenKey(token string) string {
	return "auth:token:" + token
}

// ValidateToken looks up the session and returns the identity it carries
func (v *RedisTokenValidator) ValidateToken(ctx context.Context, token string) (*UserContext, error) {
	raw, err := v.client.Get(ctx, TokenKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var payload sessionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if payload.UserID == 0 {
		return nil, ErrInvalidToken
	}
	if payload.Role == "" {
		payload.Role = RoleUser
	}

	return &UserContext{
		UserID: payload.UserID,
		Role:   payload.Role,
		Token:  token,
	}, nil
}

// HTTPMiddleware authenticates the request and stores the identity on its context
func HTTPMiddleware(validator TokenValidator, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ExtractToken(r.Header.Get("Authorization"))
		if token == "" {
			http.Error(w, `{"success":false,"message":"Unauthenticated"}`, http.StatusUnauthorized)
			return
		}

		userCtx, err := validator.ValidateToken(r.Context(), token)
		if err != nil {
			http.Error(w, `{"success":false,"message":"Unauthenticated"}`, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userCtx)))
	})
}

// RequireOperator rejects identities without an operator role
func RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userCtx, err := GetUserFromContext(r.Context())
		if err != nil {
			http.Error(w, `{"success":false,"message":"Unauthenticated"}`, http.StatusUnauthorized)
			return
		}
		if !userCtx.Role.IsOperator() {
			http.Error(w, `{"success":false,"message":"Forbidden"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
