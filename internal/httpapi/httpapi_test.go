package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Yurzs/ollama-x/internal/config"
	"github.com/Yurzs/ollama-x/internal/dispatch"
	"github.com/Yurzs/ollama-x/internal/gwevent"
	"github.com/Yurzs/ollama-x/internal/gwlog"
	"github.com/Yurzs/ollama-x/internal/identity"
	"github.com/Yurzs/ollama-x/internal/observe"
	"github.com/Yurzs/ollama-x/internal/proxy"
	"github.com/Yurzs/ollama-x/internal/registry"
	"github.com/Yurzs/ollama-x/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, users ...identity.User) (*Server, identity.UserRepository) {
	t.Helper()

	userRepo := store.NewMemoryRepository[identity.User]()
	require.NoError(t, userRepo.CreateIndexes(context.Background(), identity.UserIndexes()))
	for _, u := range users {
		_, err := userRepo.Insert(context.Background(), u)
		require.NoError(t, err)
	}

	backendRepo := store.NewMemoryRepository[registry.Backend]()
	require.NoError(t, backendRepo.CreateIndexes(context.Background(), registry.Indexes()))
	reg := &registry.Registry{Repo: backendRepo}

	projectRepo := store.NewMemoryRepository[identity.Project]()
	require.NoError(t, projectRepo.CreateIndexes(context.Background(), identity.ProjectIndexes()))

	sessionRepo := store.NewMemoryRepository[identity.Session]()
	require.NoError(t, sessionRepo.CreateIndexes(context.Background(), identity.SessionIndexes()))

	modelRepo := store.NewMemoryRepository[registry.OllamaModel]()
	require.NoError(t, modelRepo.CreateIndexes(context.Background(), registry.ModelIndexes()))

	s := &Server{
		Config:   &config.Config{DefaultChatModel: "llama3:latest"},
		Policy:   config.NewPolicyStore(),
		Auth:     &identity.Auth{Users: userRepo, Tokens: identity.NewTokenIssuer("secret", 15)},
		Users:    userRepo,
		Projects: &identity.Projects{Repo: projectRepo, Users: userRepo},
		Sessions: sessionRepo,
		Registry: reg,
		Models:   modelRepo,
		Dispatch: dispatch.NewDispatcher(reg, dispatch.NewQueuePool(), dispatch.AdmissionPolicy{
			EnforceModel:   func() string { return "" },
			AnonymousModel: func() string { return "" },
		}),
		Proxy: proxy.NewClient(),
		Sink:  &observe.Sink{Bus: gwevent.NewDispatcher(), Log: gwlog.Discard("test")},
		Log:   gwlog.Discard("test"),
	}
	return s, userRepo
}

func TestRoutes_MissingBearerRejected(t *testing.T) {
	s, _ := newTestServer(t)
	engine := s.New()

	req := httptest.NewRequest(http.MethodGet, "/api/tags", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRoutes_TagsWithValidUser(t *testing.T) {
	s, _ := newTestServer(t, identity.User{ID: "u1", Username: "bob", Key: "bobkey", IsActive: true})
	engine := s.New()

	req := httptest.NewRequest(http.MethodGet, "/api/tags", nil)
	req.Header.Set("Authorization", "Bearer bobkey")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "models")
}

func TestRoutes_RefactCapsReturnsDefaults(t *testing.T) {
	s, _ := newTestServer(t, identity.User{ID: "u1", Username: "bob", Key: "bobkey", IsActive: true})
	engine := s.New()

	req := httptest.NewRequest(http.MethodGet, "/refact/caps", nil)
	req.Header.Set("Authorization", "Bearer bobkey")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "llama3:latest")
}

func TestRoutes_MetricsEndpointUnauthenticated(t *testing.T) {
	s, _ := newTestServer(t)
	engine := s.New()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoutes_ShowFallsBackToRawNameWhenUnresolved(t *testing.T) {
	s, _ := newTestServer(t, identity.User{ID: "u1", Username: "bob", Key: "bobkey", IsActive: true})
	// No backend is registered, so Selector.Select cannot resolve "llama3"
	// to anything more specific; the cache lookup must still fall back to
	// the raw name instead of reporting a miss.
	_, err := s.Models.Insert(context.Background(), registry.OllamaModel{
		ID: "llama3", Digest: "sha256:aaa", Modelfile: "FROM llama3",
	})
	require.NoError(t, err)

	engine := s.New()
	req := httptest.NewRequest(http.MethodPost, "/api/show", strings.NewReader(`{"name":"llama3"}`))
	req.Header.Set("Authorization", "Bearer bobkey")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "FROM llama3")
}

func TestRoutes_ShowReturnsNotFoundWhenUncached(t *testing.T) {
	s, _ := newTestServer(t, identity.User{ID: "u1", Username: "bob", Key: "bobkey", IsActive: true})
	engine := s.New()

	req := httptest.NewRequest(http.MethodPost, "/api/show", strings.NewReader(`{"name":"unknown"}`))
	req.Header.Set("Authorization", "Bearer bobkey")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutes_GenerateWithoutModelIsValidationError(t *testing.T) {
	s, _ := newTestServer(t, identity.User{ID: "u1", Username: "bob", Key: "bobkey", IsActive: true})
	engine := s.New()

	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(`{"prompt":"hi"}`))
	req.Header.Set("Authorization", "Bearer bobkey")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
