package auth

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey string

const actorKey ctxKey = "actor_id"

// ActorFromContext returns the authenticated user id stamped by RequireAuth.
func ActorFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(actorKey).(string)
	return id, ok && id != ""
}

// WithActor is what RequireAuth does after verifying the bearer token.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey, actorID)
}

func RequireAuth(jwtSvc *JWT) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := r.Header.Get("Authorization")
			if h == "" || !strings.HasPrefix(h, "Bearer ") {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			token := strings.TrimPrefix(h, "Bearer ")

			uid, err := jwtSvc.Verify(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), uid)))
		})
	}
}
