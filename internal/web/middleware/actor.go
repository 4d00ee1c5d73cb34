package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const actorContextKey contextKey = "actor"

// ActorHeader carries the ID of the person performing the request. Authentication happens
// in front of this service, the header is trusted as is.
const ActorHeader = "X-Person-ID"

// Actor is middleware that copies the acting person's ID from the request header into
// the context
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(ActorHeader)); id != "" {
			r = r.WithContext(SetActorInContext(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireActor rejects requests without an acting person
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetActorFromContext(r.Context()) == "" {
			http.Error(w, `{"error": "missing `+ActorHeader+` header"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetActorFromContext returns the acting person's ID, or "" when none was sent
func GetActorFromContext(ctx context.Context) string {
	id, _ := ctx.Value(actorContextKey).(string)
	return id
}

// SetActorInContext adds the acting person's ID to the context.
// This is primarily for testing - use the Actor middleware in production.
func SetActorInContext(ctx context.Context, personID string) context.Context {
	return context.WithValue(ctx, actorContextKey, personID)
}
