package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/Yurzs/ollama-x/internal/gwerrors"
	"github.com/Yurzs/ollama-x/internal/store"
)

// GenerateInviteID returns a fresh random 24-byte hex invite token
// (spec §3 "Project": "invite_id (random 24-byte hex, regeneratable)").
func GenerateInviteID() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Projects provides the project membership operations shared by the
// continue-dev admin handlers.
type Projects struct {
	Repo  ProjectRepository
	Users UserRepository
}

// Create registers a new project, validating that the admin and every
// listed member exist (mirrors ollama_x/api/continue_dev.py's
// create_project, which resolves admin/users before insert).
func (p *Projects) Create(ctx context.Context, proj Project) (Project, error) {
	if _, err := FindUserByUsername(ctx, p.Users, proj.Admin); err != nil {
		return Project{}, gwerrors.NotFound("project admin user not found")
	}
	for _, u := range proj.Users {
		if _, err := p.Users.FindOne(ctx, map[string]any{"_id": u}); err != nil {
			return Project{}, gwerrors.NotFound("project member user not found")
		}
	}

	inviteID, err := GenerateInviteID()
	if err != nil {
		return Project{}, gwerrors.Internal(err)
	}
	proj.ID = uuid.NewString()
	proj.InviteID = inviteID

	inserted, err := p.Repo.Insert(ctx, proj)
	if dk, ok := err.(*store.ErrDuplicateKey); ok {
		return Project{}, gwerrors.DuplicateKey(dk.Keys)
	}
	if err != nil {
		return Project{}, gwerrors.Internal(err)
	}
	return inserted, nil
}

// Join appends user to the project identified by inviteID, rejecting a
// second join by the same user (spec §8 scenario e: "second call with the
// same pair -> 400 UserAlreadyInProject").
func (p *Projects) Join(ctx context.Context, inviteID string, user User) (Project, error) {
	proj, err := p.Repo.FindOne(ctx, map[string]any{"invite_id": inviteID})
	if err == store.ErrNotFound {
		return Project{}, gwerrors.NotFound("invite not found")
	}
	if err != nil {
		return Project{}, gwerrors.Internal(err)
	}

	if proj.HasMember(user.ID) {
		return Project{}, gwerrors.UserAlreadyInProject(user.Username, proj.Name)
	}

	proj.Users = append(proj.Users, user.ID)
	if err := p.Repo.Update(ctx, map[string]any{"_id": proj.ID}, map[string]any{"users": proj.Users}); err != nil {
		return Project{}, gwerrors.Internal(err)
	}
	return proj, nil
}

// RegenerateInvite assigns and persists a fresh invite id, restricted to
// the project admin or a gateway admin by the caller.
func (p *Projects) RegenerateInvite(ctx context.Context, projectID string) (string, error) {
	inviteID, err := GenerateInviteID()
	if err != nil {
		return "", gwerrors.Internal(err)
	}
	if err := p.Repo.Update(ctx, map[string]any{"_id": projectID}, map[string]any{"invite_id": inviteID}); err != nil {
		return "", gwerrors.Internal(err)
	}
	return inviteID, nil
}

// AuthorizeMember loads project and denies access unless user is a member
// or the project admin (spec §4.6 "Project authorization").
func AuthorizeMember(ctx context.Context, repo ProjectRepository, projectID string, user User) (Project, error) {
	proj, err := repo.FindOne(ctx, map[string]any{"_id": projectID})
	if err == store.ErrNotFound {
		return Project{}, gwerrors.NotFound("project not found")
	}
	if err != nil {
		return Project{}, gwerrors.Internal(err)
	}

	if proj.Admin != user.Username && !proj.HasMember(user.ID) {
		return Project{}, gwerrors.AccessDenied("not a project member")
	}
	return proj, nil
}

// PersonalizeConfig injects the gateway's own base URL as apiBase and a
// Bearer <user_key> + ContinueDevProject:<project_id> header pair into
// every model entry before the config is returned to the requesting user
// (spec §3 "ProjectConfig", mirroring prepare_project in
// ollama_x/api/continue_dev.py).
func PersonalizeConfig(proj Project, user User, gatewayBaseURL string) Project {
	out := proj
	out.Config.Models = make([]ModelEntry, len(proj.Config.Models))
	for i, m := range proj.Config.Models {
		m.APIBase = gatewayBaseURL
		headers := make(map[string]string, len(m.Headers)+2)
		for k, v := range m.Headers {
			headers[k] = v
		}
		headers["Authorization"] = "Bearer " + user.Key
		headers["ContinueDevProject"] = proj.ID
		m.Headers = headers
		out.Config.Models[i] = m
	}
	return out
}
