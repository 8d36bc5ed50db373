package middleware

import "context"

type contextKey string

const UserIDKey contextKey = "user_id"

// GetUserID возвращает user_id из контекста (устанавливается Auth или Identify). Пустая строка значит аноним.
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

// WithUserID кладёт user_id в контекст.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}
