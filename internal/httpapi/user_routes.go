package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Yurzs/ollama-x/internal/config"
	"github.com/Yurzs/ollama-x/internal/gwerrors"
	"github.com/Yurzs/ollama-x/internal/identity"
)

type loginRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// registerUserRoutes wires /api/user/* (login, profile) and /user/* (admin
// CRUD, self-register) per spec §6's HTTP surface table.
func (s *Server) registerUserRoutes(r *gin.Engine) {
	r.POST("/api/user/.login", s.handleLogin)
	r.GET("/api/user/me", s.requireJWT(), s.handleMe)

	r.GET("/user/.register", s.handleSelfRegister)

	admin := r.Group("/user", s.requireAdmin())
	admin.POST("/.create", s.handleCreateUser)
	admin.DELETE("", s.handleDeleteUser)
	admin.POST("/.reset_key", s.handleResetKey)
	admin.GET("/.one", s.handleGetUser)
	admin.GET("/.all", s.handleAllUsers)
}

// handleLogin implements spec §6's "OAuth2 password -> JWT" login path.
// The gateway only ever reaches the password branch of AuthMode
// "password"; in AuthMode "key" there is no password to check, since
// users authenticate to the inference surface with their API key instead.
func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, gwerrors.Validation("invalid login payload"))
		return
	}

	user, err := identity.FindUserByUsername(c.Request.Context(), s.Users, req.Username)
	if err != nil {
		fail(c, gwerrors.AccessDenied("invalid credentials").WithStatus(401))
		return
	}

	if s.Config.AuthMode == config.AuthModePassword {
		if !identity.VerifyPassword(user.PasswordHash, req.Password) {
			fail(c, gwerrors.AccessDenied("invalid credentials").WithStatus(401))
			return
		}
	}

	token, err := s.Auth.Tokens.Issue(user.Username)
	if err != nil {
		fail(c, gwerrors.Internal(err))
		return
	}

	c.JSON(http.StatusOK, loginResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) handleMe(c *gin.Context) {
	c.JSON(http.StatusOK, publicUser(currentUser(c)))
}

type publicUserView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Key      string `json:"key,omitempty"`
	IsAdmin  bool   `json:"is_admin"`
	IsActive bool   `json:"is_active"`
}

func publicUser(u identity.User) publicUserView {
	return publicUserView{ID: u.ID, Username: u.Username, Key: u.Key, IsAdmin: u.IsAdmin, IsActive: u.IsActive}
}

func (s *Server) handleSelfRegister(c *gin.Context) {
	if !s.Config.UserRegistrationEnabled {
		fail(c, gwerrors.AccessDenied("registration is disabled"))
		return
	}

	username := c.Query("username")
	if username == "" {
		fail(c, gwerrors.Validation("username is required"))
		return
	}

	if _, err := identity.FindUserByUsername(c.Request.Context(), s.Users, username); err == nil {
		fail(c, gwerrors.UserAlreadyExist(username))
		return
	}

	user, err := newUserWithKey(c, s.Users, username, false)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, publicUser(user))
}

func (s *Server) handleCreateUser(c *gin.Context) {
	username := c.Query("username")
	isAdmin := c.Query("is_admin") == "true"
	if username == "" {
		fail(c, gwerrors.Validation("username is required"))
		return
	}

	if _, err := identity.FindUserByUsername(c.Request.Context(), s.Users, username); err == nil {
		fail(c, gwerrors.UserAlreadyExist(username))
		return
	}

	user, err := newUserWithKey(c, s.Users, username, isAdmin)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, publicUser(user))
}

func newUserWithKey(c *gin.Context, users identity.UserRepository, username string, isAdmin bool) (identity.User, error) {
	key, err := identity.GenerateKey()
	if err != nil {
		return identity.User{}, gwerrors.Internal(err)
	}

	user := identity.User{ID: newID(), Username: username, Key: key, IsAdmin: isAdmin, IsActive: true}
	inserted, err := users.Insert(c.Request.Context(), user)
	if err != nil {
		return identity.User{}, gwerrors.Internal(err)
	}
	return inserted, nil
}

func (s *Server) handleDeleteUser(c *gin.Context) {
	username := c.Query("username")
	user, err := identity.FindUserByUsername(c.Request.Context(), s.Users, username)
	if err != nil {
		fail(c, gwerrors.NotFound("user not found"))
		return
	}

	if err := s.Users.Delete(c.Request.Context(), map[string]any{"_id": user.ID}); err != nil {
		fail(c, gwerrors.Internal(err))
		return
	}

	c.JSON(http.StatusOK, publicUser(user))
}

func (s *Server) handleResetKey(c *gin.Context) {
	username := c.Query("username")
	user, err := identity.FindUserByUsername(c.Request.Context(), s.Users, username)
	if err != nil {
		fail(c, gwerrors.NotFound("user not found"))
		return
	}

	key, err := identity.GenerateKey()
	if err != nil {
		fail(c, gwerrors.Internal(err))
		return
	}

	if err := s.Users.Update(c.Request.Context(), map[string]any{"_id": user.ID}, map[string]any{"key": key}); err != nil {
		fail(c, gwerrors.Internal(err))
		return
	}
	user.Key = key

	c.JSON(http.StatusOK, publicUser(user))
}

func (s *Server) handleGetUser(c *gin.Context) {
	username := c.Query("username")
	user, err := identity.FindUserByUsername(c.Request.Context(), s.Users, username)
	if err != nil {
		fail(c, gwerrors.NotFound("user not found"))
		return
	}
	c.JSON(http.StatusOK, publicUser(user))
}

func (s *Server) handleAllUsers(c *gin.Context) {
	cur, err := s.Users.Iterate(c.Request.Context(), nil)
	if err != nil {
		fail(c, gwerrors.Internal(err))
		return
	}
	defer cur.Close(c.Request.Context())

	out := []publicUserView{}
	for cur.Next(c.Request.Context()) {
		u, err := cur.Decode()
		if err != nil {
			fail(c, gwerrors.Internal(err))
			return
		}
		out = append(out, publicUser(u))
	}
	c.JSON(http.StatusOK, out)
}
