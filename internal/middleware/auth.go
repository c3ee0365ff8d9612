package middleware

import (
	"net/http"
	"strings"

	"github.com/jayjaytrn/cash-delivery/internal/auth"
	"github.com/jayjaytrn/cash-delivery/models"
	"go.uber.org/zap"
)

func ValidateAuth(h http.Handler, sugar *zap.SugaredLogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is missing", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			http.Error(w, "Invalid token format", http.StatusUnauthorized)
			return
		}

		UUID, role, err := auth.ValidateJWT(tokenString)
		if err != nil {
			sugar.Errorw("Invalid token", "error", err)
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		r.Header.Set("UUID", UUID)
		r.Header.Set("Role", string(role))

		h.ServeHTTP(w, r)
	})
}

// RequireRole rejects callers whose token carries a different role.
func RequireRole(role models.Actor) Middleware {
	return func(h http.Handler, sugar *zap.SugaredLogger) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Role") != string(role) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			h.ServeHTTP(w, r)
		})
	}
}
