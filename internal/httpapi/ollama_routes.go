package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/Yurzs/ollama-x/internal/gwerrors"
	"github.com/Yurzs/ollama-x/internal/identity"
	"github.com/Yurzs/ollama-x/internal/observe"
	"github.com/Yurzs/ollama-x/internal/proxy"
	"github.com/Yurzs/ollama-x/internal/registry"
	"github.com/Yurzs/ollama-x/internal/store"
)

// registerOllamaRoutes wires the Ollama-compatible inference surface (spec
// §6: "POST /api/chat, /api/generate, /api/embeddings, GET /api/tags, POST
// /api/show, GET /api/ps"), all behind ordinary Bearer auth.
func (s *Server) registerOllamaRoutes(r *gin.Engine) {
	api := r.Group("/api", s.requireUser())
	api.POST("/chat", s.handleChat)
	api.POST("/generate", s.handleGenerate)
	api.POST("/embeddings", s.handleEmbeddings)
	api.POST("/embed", s.handleEmbed)
	api.GET("/tags", s.handleTags)
	api.POST("/show", s.handleShow)
	api.GET("/ps", s.handlePS)
}

// requestHeaders copies the inbound header set for the telemetry sink,
// dropping Authorization so no credential ever reaches a Record, and
// Content-Length, as observe.New expects both stripped by the caller.
func requestHeaders(c *gin.Context) map[string]any {
	out := map[string]any{}
	for k, v := range c.Request.Header {
		if strings.EqualFold(k, "Authorization") || strings.EqualFold(k, "Content-Length") {
			continue
		}
		if len(v) == 1 {
			out[k] = v[0]
			continue
		}
		out[k] = v
	}
	return out
}

// dedupeSession runs the "session dedup" pipeline stage (spec §2 data
// flow: "auth middleware -> protocol detection -> session dedup -> model
// selection"): find-or-create the Session row keyed on (user, messages) or
// (user, context), mirroring ollama_x/model/session.py's find_or_create.
// A no-op for requests carrying neither field (e.g. embeddings).
func (s *Server) dedupeSession(c *gin.Context, user identity.User, raw []byte) error {
	messages := gjson.GetBytes(raw, "messages")
	reqContext := gjson.GetBytes(raw, "context")
	if !messages.Exists() && !reqContext.Exists() {
		return nil
	}

	messagesHash, contextHash := "", ""
	if messages.Exists() {
		messagesHash = identity.HashJSON([]byte(messages.Raw))
	}
	if reqContext.Exists() {
		contextHash = identity.HashJSON([]byte(reqContext.Raw))
	}

	_, err := identity.FindOrCreateSession(c.Request.Context(), s.Sessions, user.ID, messagesHash, contextHash)
	return err
}

func (s *Server) handleChat(c *gin.Context) {
	s.handleGeneration(c, observe.KindChat, "/api/chat")
}

func (s *Server) handleGenerate(c *gin.Context) {
	s.handleGeneration(c, observe.KindGenerate, "/api/generate")
}

// handleGeneration is the shared chat/generate path: read the raw body,
// dispatch it to the least-loaded backend advertising the resolved model,
// then either stream the backend's NDJSON straight through or write its
// buffered JSON body, teeing every chunk to an Observer along the way
// (spec §4.2-§4.5). Fields are read with gjson rather than fully decoded,
// mirroring the teacher's proxymanager.go request path.
func (s *Server) handleGeneration(c *gin.Context, kind observe.Kind, backendPath string) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil || !gjson.ValidBytes(raw) {
		fail(c, gwerrors.Validation("invalid request body"))
		return
	}
	requestedModel := gjson.GetBytes(raw, "model").String()
	if requestedModel == "" {
		fail(c, gwerrors.Validation("model is required"))
		return
	}

	var requestBody map[string]any
	_ = json.Unmarshal(raw, &requestBody)

	user := currentUser(c)

	if err := s.dedupeSession(c, user, raw); err != nil {
		fail(c, err)
		return
	}

	var resolvedModel string
	obs := observe.New(kind, func() string { return resolvedModel }, user, requestHeaders(c), requestBody)

	result, err := s.Dispatch.Dispatch(c.Request.Context(), user, requestedModel,
		func(ctx context.Context, backend registry.Backend, model string) (any, error) {
			resolvedModel = model
			req := proxy.Request{BackendURL: backend.URL, Path: backendPath, Method: http.MethodPost, Body: raw}
			return s.Proxy.Do(ctx, req, model)
		})
	if err != nil {
		fail(c, err)
		return
	}
	resp := result.(*proxy.Response)

	if resp.Stream != nil {
		defer resp.Stream.Close()
		s.streamGeneration(c, resp, obs)
	} else {
		var chunk map[string]any
		if json.Unmarshal(resp.Body, &chunk) == nil {
			obs.Tee(chunk)
		}
		if err := proxy.WriteJSONMaybeGzip(c.Writer, c.GetHeader("Accept-Encoding"), resp.StatusCode, resp.Body); err != nil {
			s.Log.Error("ollama: write response: %v", err)
		}
	}

	s.Sink.Publish(obs.Finish("ollama"))
}

// streamGeneration copies the backend's NDJSON stream to the client
// line-by-line, teeing each decoded line into obs (spec §4.3 point 4:
// streaming paths are never buffered whole).
func (s *Server) streamGeneration(c *gin.Context, resp *proxy.Response, obs *observe.Observer) {
	c.Status(resp.StatusCode)
	c.Header("Content-Type", "application/x-ndjson")
	flusher, _ := c.Writer.(http.Flusher)

	scanner := bufio.NewScanner(resp.Stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var chunk map[string]any
		if json.Unmarshal(line, &chunk) == nil {
			obs.Tee(chunk)
		}
		if _, err := c.Writer.Write(line); err != nil {
			obs.Cancel()
			return
		}
		_, _ = c.Writer.Write([]byte("\n"))
		if flusher != nil {
			flusher.Flush()
		}
	}
	if scanner.Err() != nil {
		obs.Cancel()
	}
}

func (s *Server) handleEmbeddings(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil || !gjson.ValidBytes(raw) {
		fail(c, gwerrors.Validation("invalid request body"))
		return
	}
	s.proxyEmbeddings(c, gjson.GetBytes(raw, "model").String(), raw)
}

// embedRequest is decoded explicitly rather than treating the inbound
// request as a bare mapping, since naively reading request["model"] off the
// unparsed request object was the bug the /api/embed alias originally
// shipped with: the body must be parsed first.
type embedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

func (s *Server) handleEmbed(c *gin.Context) {
	var req embedRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		fail(c, gwerrors.Validation("invalid request body"))
		return
	}
	body, _ := sjson.SetBytes([]byte("{}"), "model", req.Model)
	body, _ = sjson.SetBytes(body, "input", req.Input)
	s.proxyEmbeddings(c, req.Model, body)
}

// proxyEmbeddings dispatches an embeddings request; both /api/embeddings
// and /api/embed forward to the backend's /api/embeddings (spec §4.3
// "Endpoint map"). Embeddings calls are not observed: the telemetry record
// shape (response_content, usage) models chat/generate completions, which
// an embedding vector has no equivalent of.
func (s *Server) proxyEmbeddings(c *gin.Context, requestedModel string, body []byte) {
	if requestedModel == "" {
		fail(c, gwerrors.Validation("model is required"))
		return
	}

	user := currentUser(c)
	result, err := s.Dispatch.Dispatch(c.Request.Context(), user, requestedModel,
		func(ctx context.Context, backend registry.Backend, model string) (any, error) {
			req := proxy.Request{BackendURL: backend.URL, Path: "/api/embeddings", Method: http.MethodPost, Body: body}
			return s.Proxy.Do(ctx, req, model)
		})
	if err != nil {
		fail(c, err)
		return
	}
	resp := result.(*proxy.Response)
	if resp.Stream != nil {
		defer resp.Stream.Close()
	}
	if err := proxy.WriteJSONMaybeGzip(c.Writer, c.GetHeader("Accept-Encoding"), resp.StatusCode, resp.Body); err != nil {
		s.Log.Error("embeddings: write response: %v", err)
	}
}

// handleTags unions every active backend's advertised models (spec §4.3).
func (s *Server) handleTags(c *gin.Context) {
	models, err := proxy.AggregateTags(c.Request.Context(), s.Registry)
	if err != nil {
		fail(c, gwerrors.Internal(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// handlePS unions every active backend's running models (spec §4.3).
func (s *Server) handlePS(c *gin.Context) {
	models, err := proxy.AggregatePS(c.Request.Context(), s.Registry)
	if err != nil {
		fail(c, gwerrors.Internal(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// handleShow looks up cached metadata in the store by model name (spec
// §4.1 "/api/show looks up cached metadata in the store by model name"):
// it is a metadata read against the scheduler's save_models_info cache,
// never a live call to a backend.
func (s *Server) handleShow(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil || !gjson.ValidBytes(raw) {
		fail(c, gwerrors.Validation("invalid request body"))
		return
	}
	name := gjson.GetBytes(raw, "name").String()
	if name == "" {
		name = gjson.GetBytes(raw, "model").String()
	}
	if name == "" {
		fail(c, gwerrors.Validation("name is required"))
		return
	}

	// Resolve a bare name ("llama3") to the full advertised name
	// ("llama3:latest") the same way the dispatcher would, without
	// contacting any backend. Selector resolution only succeeds against a
	// currently active backend, so a cache hit must never depend on one
	// being up right now: fall back to the raw name whenever resolution
	// fails or lands on a miss.
	lookupNames := []string{name}
	if _, resolved, err := s.Dispatch.Selector.Select(c.Request.Context(), name); err == nil && resolved != name {
		lookupNames = []string{resolved, name}
	}

	var info registry.OllamaModel
	var lookupErr error
	for _, candidate := range lookupNames {
		info, lookupErr = s.Models.FindOne(c.Request.Context(), map[string]any{"_id": candidate})
		if lookupErr == nil {
			break
		}
		if lookupErr != store.ErrNotFound {
			fail(c, gwerrors.Internal(lookupErr))
			return
		}
	}
	if lookupErr == store.ErrNotFound {
		fail(c, gwerrors.NotFound("model metadata not cached yet"))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"modelfile":  info.Modelfile,
		"template":   info.Template,
		"details":    info.Details,
		"model_info": info.Info,
	})
}
