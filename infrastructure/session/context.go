package session

import (
	"context"

	"curetrack/infrastructure/rbac"
	"curetrack/models"
)

type sessionKey struct{}

func NewContextWithSession(ctx context.Context, s models.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func GetSessionFromContext(ctx context.Context) (models.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(models.Session)
	return s, ok
}

// ActorFromContext returns the actor of the authenticated request.
func ActorFromContext(ctx context.Context) (rbac.Actor, bool) {
	s, ok := GetSessionFromContext(ctx)
	if !ok {
		return rbac.Actor{}, false
	}
	return Actor(s), true
}
