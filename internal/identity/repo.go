package identity

import (
	"context"

	"github.com/Yurzs/ollama-x/internal/store"
)

// UserRepository is the subset of store.Repository[User] the identity
// package needs, named for readability at call sites.
type UserRepository = store.Repository[User]

// ProjectRepository is the subset of store.Repository[Project] the
// identity package needs.
type ProjectRepository = store.Repository[Project]

// SessionRepository is the subset of store.Repository[Session] the
// identity package needs.
type SessionRepository = store.Repository[Session]

// UserIndexes declares the indexes for the users collection (spec §3: a
// user's key is unique, usernames are unique).
func UserIndexes() []store.IndexSpec {
	return []store.IndexSpec{
		{Name: "username_unique", Keys: []string{"username"}, Unique: true},
		{Name: "key_unique", Keys: []string{"key"}, Unique: true},
	}
}

// ProjectIndexes declares the indexes for the projects collection
// (spec §3: a project is unique by name).
func ProjectIndexes() []store.IndexSpec {
	return []store.IndexSpec{
		{Name: "name_unique", Keys: []string{"name"}, Unique: true},
	}
}

// SessionIndexes declares the TTL index for sessions (spec §3: TTL removes
// a session within a few seconds of expires_after).
func SessionIndexes() []store.IndexSpec {
	return []store.IndexSpec{
		{Name: "expires_after_ttl", TTL: true, TTLField: "expires_after", TTLAfter: 0},
	}
}

// FindUserByUsername looks up a user by username.
func FindUserByUsername(ctx context.Context, repo UserRepository, username string) (User, error) {
	return repo.FindOne(ctx, map[string]any{"username": username})
}

// FindUserByKey looks up a user by API key, optionally constrained to
// admins only (ollama_x/model/user.py's one_by_key(is_admin=...)).
func FindUserByKey(ctx context.Context, repo UserRepository, key string, requireAdmin bool) (User, error) {
	filter := map[string]any{"key": key}
	if requireAdmin {
		filter["is_admin"] = true
	}
	return repo.FindOne(ctx, filter)
}

// AnyAdminExists reports whether at least one admin user is persisted.
func AnyAdminExists(ctx context.Context, repo UserRepository) (bool, error) {
	_, err := repo.FindOne(ctx, map[string]any{"is_admin": true})
	if err == store.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
