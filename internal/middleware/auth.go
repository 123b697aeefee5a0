package middleware

import (
	"context"
	"net/http"
	"strings"

	"linkup/internal/ident"
)

type contextKey string

const (
	UserKey contextKey = "user_id"
	NameKey contextKey = "user_name"
)

// TokenValidator is what we need from the user service; the interface
// keeps this package decoupled from it.
type TokenValidator interface {
	ValidateToken(tokenString string) (ident.ID, string, error)
}

type Auth struct {
	validator TokenValidator
}

func NewAuth(v TokenValidator) *Auth {
	return &Auth{validator: v}
}

func (a *Auth) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := ""

		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 {
				tokenString = parts[1]
			}
		}

		// Fallback for websocket clients that cannot set headers.
		if tokenString == "" {
			tokenString = r.URL.Query().Get("token")
		}

		if tokenString == "" {
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		userID, name, err := a.validator.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, userID)
		ctx = context.WithValue(ctx, NameKey, name)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFrom extracts the authenticated user id from a request context.
func UserFrom(ctx context.Context) (ident.ID, bool) {
	id, ok := ctx.Value(UserKey).(ident.ID)
	return id, ok
}

// NameFrom extracts the authenticated user's display name.
func NameFrom(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(NameKey).(string)
	return name, ok
}
