package identity

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/Yurzs/ollama-x/internal/gwerrors"
	"github.com/Yurzs/ollama-x/internal/store"
)

// Auth implements the three authentication schemes of spec §4.6: bearer
// API key (with guest synthesis), JWT, and local-admin bootstrap.
type Auth struct {
	Users            UserRepository
	Tokens           *TokenIssuer
	AnonymousAllowed bool
}

// AuthenticateBearer resolves a bearer credential to a User, synthesizing
// a transient guest for the "undefined" sentinel when anonymous access is
// enabled (spec §4.6.1). It never persists the guest.
func (a *Auth) AuthenticateBearer(ctx context.Context, credential string) (User, error) {
	if credential == "" {
		return User{}, gwerrors.AccessDenied("missing credential")
	}

	if credential == "undefined" && a.AnonymousAllowed {
		return User{
			ID:       "guest-" + uuid.NewString(),
			Username: GuestUsername,
			IsActive: true,
		}, nil
	}

	user, err := FindUserByKey(ctx, a.Users, credential, false)
	if err == store.ErrNotFound {
		return User{}, gwerrors.AccessDenied("invalid credential")
	}
	if err != nil {
		return User{}, gwerrors.Internal(err)
	}
	if !user.IsActive {
		return User{}, gwerrors.AccessDenied("user is inactive")
	}
	return user, nil
}

// AuthenticateAdmin resolves a bearer credential to an admin User,
// applying the local-admin bootstrap rule: from 127.0.0.1/localhost with
// the literal credential "admin" and no admin yet persisted, an admin user
// is created on the fly. The literal "admin" key from a non-local peer
// always fails, even if such a user already exists (spec §4.6.3).
func (a *Auth) AuthenticateAdmin(ctx context.Context, credential string, remoteIsLocal bool) (User, error) {
	if remoteIsLocal && credential == "admin" {
		exists, err := AnyAdminExists(ctx, a.Users)
		if err != nil {
			return User{}, gwerrors.Internal(err)
		}
		if !exists {
			return a.bootstrapAdmin(ctx)
		}
	}

	if !remoteIsLocal && credential == "admin" {
		return User{}, gwerrors.AccessDenied("local-admin key used from non-local peer")
	}

	user, err := FindUserByKey(ctx, a.Users, credential, true)
	if err == store.ErrNotFound {
		return User{}, gwerrors.AccessDenied("invalid admin credential")
	}
	if err != nil {
		return User{}, gwerrors.Internal(err)
	}

	if !remoteIsLocal && user.Key == "admin" {
		return User{}, gwerrors.AccessDenied("local-admin key used from non-local peer")
	}

	return user, nil
}

func (a *Auth) bootstrapAdmin(ctx context.Context) (User, error) {
	user := User{
		ID:       uuid.NewString(),
		Username: "admin",
		Key:      "admin",
		IsAdmin:  true,
		IsActive: true,
	}
	inserted, err := a.Users.Insert(ctx, user)
	if err != nil {
		return User{}, gwerrors.Internal(err)
	}
	return inserted, nil
}

// AuthenticateJWT verifies a login JWT and resolves its subject to a User
// (spec §4.6.2). Any decode failure, missing subject, or unknown user
// yields AccessDenied overridden to 401, per spec §4.6.2's explicit
// status for the login path (the taxonomy's default for AccessDenied
// is 403; gwerrors.Error.WithStatus applies the override).
func (a *Auth) AuthenticateJWT(ctx context.Context, tokenString string) (User, error) {
	username, err := a.Tokens.Verify(tokenString)
	if err != nil {
		return User{}, gwerrors.AccessDenied("invalid token").WithStatus(401)
	}

	user, err := FindUserByUsername(ctx, a.Users, username)
	if err == store.ErrNotFound {
		return User{}, gwerrors.AccessDenied("unknown user").WithStatus(401)
	}
	if err != nil {
		return User{}, gwerrors.Internal(err)
	}
	return user, nil
}

// SplitProjectBearer splits a "user_key:project_id" bearer (spec §4.6,
// code-assistant config sync) on the first colon.
func SplitProjectBearer(token string) (userKey, projectID string, ok bool) {
	idx := strings.IndexByte(token, ':')
	if idx < 0 {
		return "", "", false
	}
	return token[:idx], token[idx+1:], true
}
