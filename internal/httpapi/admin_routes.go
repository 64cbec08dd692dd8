package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Yurzs/ollama-x/internal/gwerrors"
)

// registerAdminRoutes wires /server/* backend CRUD and per-backend model
// operations (spec §6: "backend admin", "per-backend model ops").
func (s *Server) registerAdminRoutes(r *gin.Engine) {
	admin := r.Group("/server", s.requireAdmin())
	admin.POST("/.create", s.handleCreateBackend)
	admin.POST("/.update", s.handleUpdateBackend)
	admin.POST("/.delete", s.handleDeleteBackend)
	admin.GET("/.one", s.handleGetBackend)
	admin.GET("/.all", s.handleAllBackends)

	admin.GET("/:id/model.list", s.handleListBackendModels)
	admin.POST("/:id/model.pull", s.handlePullBackendModel)
	admin.DELETE("/:id/model.delete", s.handleDeleteBackendModel)
}

func (s *Server) handleCreateBackend(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		fail(c, gwerrors.Validation("url is required"))
		return
	}

	backend, err := s.Registry.Register(c.Request.Context(), url)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, backend)
}

func (s *Server) handleUpdateBackend(c *gin.Context) {
	id := c.Query("id")
	url := c.Query("url")
	if id == "" || url == "" {
		fail(c, gwerrors.Validation("id and url are required"))
		return
	}
	if err := s.Registry.Repo.Update(c.Request.Context(), map[string]any{"_id": id}, map[string]any{"url": url}); err != nil {
		fail(c, gwerrors.Internal(err))
		return
	}
	backend, err := s.Registry.Get(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, backend)
}

func (s *Server) handleDeleteBackend(c *gin.Context) {
	id := c.Query("id")
	if err := s.Registry.Deregister(c.Request.Context(), id); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleGetBackend(c *gin.Context) {
	backend, err := s.Registry.Get(c.Request.Context(), c.Query("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, backend)
}

func (s *Server) handleAllBackends(c *gin.Context) {
	backends, err := s.Registry.All(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, backends)
}

func (s *Server) handleListBackendModels(c *gin.Context) {
	backend, err := s.Registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": backend.Models})
}

// handlePullBackendModel forwards a pull request to the backend's own
// /api/pull; the gateway does not manage pull progress itself, it just
// proxies the call (spec §4.1 scope: the gateway observes backends, it
// does not orchestrate their local model storage).
func (s *Server) handlePullBackendModel(c *gin.Context) {
	backend, err := s.Registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	resp, err := s.Proxy.Do(c.Request.Context(), proxyPullRequest(backend.URL, c), "")
	if err != nil {
		fail(c, gwerrors.Internal(err))
		return
	}
	c.Data(resp.StatusCode, "application/json", resp.Body)
}

func (s *Server) handleDeleteBackendModel(c *gin.Context) {
	backend, err := s.Registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	name := c.Query("name")
	resp, err := s.Proxy.Do(c.Request.Context(), proxyDeleteRequest(backend.URL, name), "")
	if err != nil {
		fail(c, gwerrors.Internal(err))
		return
	}
	c.Data(resp.StatusCode, "application/json", resp.Body)
}
