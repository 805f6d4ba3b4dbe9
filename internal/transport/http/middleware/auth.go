package middleware

import (
	"context"
	"net/http"
	"strings"

	"privacyd/internal/domain/auth"
	"privacyd/internal/transport/http/api"
)

type ctxKey int

const ctxKeySubject ctxKey = iota

// Auth attaches the caller's identity when a valid bearer token is present.
// Anonymous requests pass through; route-level checks decide what they may
// reach (the export download endpoint is token-authorized, not JWT).
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := auth.ParseToken(secret, parts[1])
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeySubject, auth.SubjectContext{
				SubjectID: claims.SubjectID,
				Email:     claims.Email,
				Role:      claims.Role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetSubject(ctx context.Context) (auth.SubjectContext, bool) {
	subject, ok := ctx.Value(ctxKeySubject).(auth.SubjectContext)
	return subject, ok
}

// RequireRole guards privileged routes, like the compliance reports.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, ok := GetSubject(r.Context())
			if !ok {
				api.Fail(w, http.StatusUnauthorized, "unauthorized", "authentication required", GetRequestID(r.Context()))
				return
			}
			if !allowed[subject.Role] {
				api.Fail(w, http.StatusForbidden, "forbidden", "insufficient permissions", GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
