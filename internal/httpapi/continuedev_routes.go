package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Yurzs/ollama-x/internal/gwerrors"
	"github.com/Yurzs/ollama-x/internal/identity"
)

// registerContinueDevRoutes wires the code-assistant project management
// surface (spec §3 "Project"/"ProjectConfig", §4.6 "Project authorization").
func (s *Server) registerContinueDevRoutes(r *gin.Engine) {
	continueGroup := r.Group("/continue")
	continueGroup.Use(s.requireUser())
	continueGroup.GET("/.all", s.handleProjectsAll)
	continueGroup.GET("/.one", s.handleProjectOne)
	continueGroup.POST("/.create", s.handleProjectCreate)
	continueGroup.POST("/.join", s.handleProjectJoin)
	continueGroup.POST("/.regenerate_invite", s.handleProjectRegenerateInvite)
	continueGroup.PATCH("/.edit", s.handleProjectEdit)

	// sync authenticates with the project bearer form (user_key:project_id)
	// rather than an ordinary user bearer, since the continue.dev client
	// holds a per-project credential once joined.
	r.GET("/continue/sync", s.requireProjectBearer(), s.handleProjectSync)
}

// gatewayBaseURL derives the externally-reachable base URL this gateway is
// serving on from the inbound request, so PersonalizeConfig can inject an
// apiBase without a separate, easy-to-misconfigure setting.
func gatewayBaseURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

func (s *Server) handleProjectsAll(c *gin.Context) {
	user := currentUser(c)
	cur, err := s.Projects.Repo.Iterate(c.Request.Context(), nil)
	if err != nil {
		fail(c, gwerrors.Internal(err))
		return
	}
	defer cur.Close(c.Request.Context())

	out := []identity.Project{}
	for cur.Next(c.Request.Context()) {
		p, err := cur.Decode()
		if err != nil {
			fail(c, gwerrors.Internal(err))
			return
		}
		if p.Admin == user.Username || p.HasMember(user.ID) {
			out = append(out, identity.PersonalizeConfig(p, user, gatewayBaseURL(c)))
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleProjectOne(c *gin.Context) {
	user := currentUser(c)
	proj, err := identity.AuthorizeMember(c.Request.Context(), s.Projects.Repo, c.Query("id"), user)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, identity.PersonalizeConfig(proj, user, gatewayBaseURL(c)))
}

type createProjectRequest struct {
	Name   string                 `json:"name" binding:"required"`
	Config identity.ProjectConfig `json:"config"`
}

func (s *Server) handleProjectCreate(c *gin.Context) {
	user := currentUser(c)

	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, gwerrors.Validation("name is required"))
		return
	}

	proj, err := s.Projects.Create(c.Request.Context(), identity.Project{
		Admin:  user.Username,
		Name:   req.Name,
		Users:  []string{user.ID},
		Config: req.Config,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, identity.PersonalizeConfig(proj, user, gatewayBaseURL(c)))
}

func (s *Server) handleProjectJoin(c *gin.Context) {
	user := currentUser(c)
	inviteID := c.Query("invite_id")
	if inviteID == "" {
		fail(c, gwerrors.Validation("invite_id is required"))
		return
	}

	proj, err := s.Projects.Join(c.Request.Context(), inviteID, user)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, identity.PersonalizeConfig(proj, user, gatewayBaseURL(c)))
}

func (s *Server) handleProjectRegenerateInvite(c *gin.Context) {
	user := currentUser(c)
	projectID := c.Query("id")

	proj, err := identity.AuthorizeMember(c.Request.Context(), s.Projects.Repo, projectID, user)
	if err != nil {
		fail(c, err)
		return
	}
	if proj.Admin != user.Username && !user.IsAdmin {
		fail(c, gwerrors.AccessDenied("only the project admin may regenerate the invite"))
		return
	}

	inviteID, err := s.Projects.RegenerateInvite(c.Request.Context(), projectID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invite_id": inviteID})
}

func (s *Server) handleProjectEdit(c *gin.Context) {
	user := currentUser(c)
	projectID := c.Query("id")

	proj, err := identity.AuthorizeMember(c.Request.Context(), s.Projects.Repo, projectID, user)
	if err != nil {
		fail(c, err)
		return
	}
	if proj.Admin != user.Username && !user.IsAdmin {
		fail(c, gwerrors.AccessDenied("only the project admin may edit configuration"))
		return
	}

	var cfg identity.ProjectConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		fail(c, gwerrors.Validation("invalid project config"))
		return
	}

	if err := s.Projects.Repo.Update(c.Request.Context(), map[string]any{"_id": projectID}, map[string]any{"config": cfg}); err != nil {
		fail(c, gwerrors.Internal(err))
		return
	}
	proj.Config = cfg
	c.JSON(http.StatusOK, identity.PersonalizeConfig(proj, user, gatewayBaseURL(c)))
}

// handleProjectSync returns the requesting user's personalized config for
// the project named by their project-bearer credential (spec §4.6: "Bearer
// (sync: user_key:project_id)").
func (s *Server) handleProjectSync(c *gin.Context) {
	user := currentUser(c)
	proj := currentProject(c)
	c.JSON(http.StatusOK, identity.PersonalizeConfig(proj, user, gatewayBaseURL(c)))
}
