package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yurzs/ollama-x/internal/gwerrors"
	"github.com/Yurzs/ollama-x/internal/store"
)

func newTestProjects(t *testing.T, users ...User) *Projects {
	t.Helper()
	userRepo := newTestUserRepo(t, users...)
	projectRepo := store.NewMemoryRepository[Project]()
	require.NoError(t, projectRepo.CreateIndexes(context.Background(), ProjectIndexes()))
	return &Projects{Repo: projectRepo, Users: userRepo}
}

func TestProjects_Create_UnknownAdminRejected(t *testing.T) {
	p := newTestProjects(t)
	_, err := p.Create(context.Background(), Project{Admin: "ghost", Name: "proj"})
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.CodeNotFound, ge.Code)
}

func TestProjects_Create_UnknownMemberRejected(t *testing.T) {
	p := newTestProjects(t, User{ID: "u1", Username: "admin1", IsActive: true})
	_, err := p.Create(context.Background(), Project{Admin: "admin1", Name: "proj", Users: []string{"ghost-id"}})
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.CodeNotFound, ge.Code)
}

func TestProjects_Create_AssignsIDAndInvite(t *testing.T) {
	p := newTestProjects(t, User{ID: "u1", Username: "admin1", IsActive: true})
	proj, err := p.Create(context.Background(), Project{Admin: "admin1", Name: "proj"})
	require.NoError(t, err)
	assert.NotEmpty(t, proj.ID)
	assert.Len(t, proj.InviteID, 48) // 24 bytes hex-encoded
}

func TestProjects_Create_DuplicateName(t *testing.T) {
	p := newTestProjects(t, User{ID: "u1", Username: "admin1", IsActive: true})
	_, err := p.Create(context.Background(), Project{Admin: "admin1", Name: "dup"})
	require.NoError(t, err)

	_, err = p.Create(context.Background(), Project{Admin: "admin1", Name: "dup"})
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.CodeDuplicateKey, ge.Code)
}

func TestProjects_Join_SecondJoinRejected(t *testing.T) {
	p := newTestProjects(t, User{ID: "u1", Username: "admin1", IsActive: true})
	proj, err := p.Create(context.Background(), Project{Admin: "admin1", Name: "proj"})
	require.NoError(t, err)

	member := User{ID: "u2", Username: "bob"}
	_, err = p.Join(context.Background(), proj.InviteID, member)
	require.NoError(t, err)

	_, err = p.Join(context.Background(), proj.InviteID, member)
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.CodeUserAlreadyInProj, ge.Code)
}

func TestProjects_Join_UnknownInvite(t *testing.T) {
	p := newTestProjects(t)
	_, err := p.Join(context.Background(), "no-such-invite", User{ID: "u2"})
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.CodeNotFound, ge.Code)
}

func TestProjects_RegenerateInvite_Changes(t *testing.T) {
	p := newTestProjects(t, User{ID: "u1", Username: "admin1", IsActive: true})
	proj, err := p.Create(context.Background(), Project{Admin: "admin1", Name: "proj"})
	require.NoError(t, err)

	newInvite, err := p.RegenerateInvite(context.Background(), proj.ID)
	require.NoError(t, err)
	assert.NotEqual(t, proj.InviteID, newInvite)
}

func TestAuthorizeMember_AdminAndMemberAllowed(t *testing.T) {
	p := newTestProjects(t, User{ID: "u1", Username: "admin1", IsActive: true})
	proj, err := p.Create(context.Background(), Project{Admin: "admin1", Name: "proj"})
	require.NoError(t, err)

	_, err = AuthorizeMember(context.Background(), p.Repo, proj.ID, User{Username: "admin1"})
	assert.NoError(t, err)

	_, err = AuthorizeMember(context.Background(), p.Repo, proj.ID, User{ID: "outsider", Username: "outsider"})
	ge, ok := gwerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, gwerrors.CodeAccessDenied, ge.Code)
}

func TestPersonalizeConfig_InjectsHeadersAndAPIBase(t *testing.T) {
	proj := Project{
		ID: "proj-1",
		Config: ProjectConfig{
			Models: []ModelEntry{{Title: "chat", Provider: "ollama", Model: "llama3"}},
		},
	}
	user := User{Key: "user-key-123"}

	out := PersonalizeConfig(proj, user, "https://gateway.example")
	require.Len(t, out.Config.Models, 1)
	m := out.Config.Models[0]
	assert.Equal(t, "https://gateway.example", m.APIBase)
	assert.Equal(t, "Bearer user-key-123", m.Headers["Authorization"])
	assert.Equal(t, "proj-1", m.Headers["ContinueDevProject"])

	// original project's models are untouched
	assert.Empty(t, proj.Config.Models[0].APIBase)
}
