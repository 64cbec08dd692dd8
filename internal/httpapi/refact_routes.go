package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// registerRefactRoutes wires the refact-protocol capabilities surface
// (SPEC_FULL §4.8): a static document naming the gateway's advertised
// default models, serialization only, no behavior beyond that.
func (s *Server) registerRefactRoutes(r *gin.Engine) {
	refact := r.Group("/refact", s.requireUser())
	refact.GET("/caps", s.handleRefactCaps)
	refact.POST("/coding_assistant/caps.json", s.handleRefactCaps)
}

func (s *Server) handleRefactCaps(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"cloud_name":               "ollama-gateway",
		"endpoint_template":        "/v1/chat/completions",
		"endpoint_chat_passthrough": "/v1/chat/completions",
		"endpoint_embeddings_template": "/v1/embeddings",
		"code_completion_default_model": s.Config.DefaultCompletionsModel,
		"chat_default_model":            s.Config.DefaultChatModel,
		"embedding_default_model":       s.Config.DefaultEmbeddingsModel,
		"running_models": []string{
			s.Config.DefaultChatModel,
			s.Config.DefaultCompletionsModel,
			s.Config.DefaultEmbeddingsModel,
		},
	})
}
