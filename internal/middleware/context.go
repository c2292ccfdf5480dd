package middleware

import (
	"context"

	"github.com/channelhub/internal/model"
)

type contextKey string

const (
	UserKey   contextKey = "user"
	UserIDKey contextKey = "user_id"
)

// GetUser возвращает пользователя из контекста (устанавливается JWTAuth).
func GetUser(ctx context.Context) *model.User {
	u, _ := ctx.Value(UserKey).(*model.User)
	return u
}

// GetUserID возвращает user_id из контекста.
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}
