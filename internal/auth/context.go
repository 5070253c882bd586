package auth

import (
	"context"
	"errors"
)

type identityKey struct{}

type identity struct {
	userID      string
	workspaceID string
	role        string
}

// WithIdentity stores the verified caller identity in context. Everything
// downstream (quota metering, usage lookups, audit) keys off the workspace
// id carried here.
func WithIdentity(ctx context.Context, userID, workspaceID, role string) context.Context {
	return context.WithValue(ctx, identityKey{}, identity{
		userID:      userID,
		workspaceID: workspaceID,
		role:        role,
	})
}

func fromContext(ctx context.Context) (identity, bool) {
	id, ok := ctx.Value(identityKey{}).(identity)
	return id, ok
}

func UserID(ctx context.Context) (string, error) {
	if id, ok := fromContext(ctx); ok && id.userID != "" {
		return id.userID, nil
	}
	return "", errors.New("user_id not in context")
}

func WorkspaceID(ctx context.Context) (string, error) {
	if id, ok := fromContext(ctx); ok && id.workspaceID != "" {
		return id.workspaceID, nil
	}
	return "", errors.New("workspace_id not in context")
}

func Role(ctx context.Context) (string, error) {
	if id, ok := fromContext(ctx); ok && id.role != "" {
		return id.role, nil
	}
	return "", errors.New("role not in context")
}
