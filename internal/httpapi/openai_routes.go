package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/sjson"

	"github.com/Yurzs/ollama-x/internal/gwerrors"
	"github.com/Yurzs/ollama-x/internal/identity"
	"github.com/Yurzs/ollama-x/internal/observe"
	"github.com/Yurzs/ollama-x/internal/proxy"
	"github.com/Yurzs/ollama-x/internal/registry"
	"github.com/Yurzs/ollama-x/internal/translate"
)

// registerOpenAIRoutes wires the OpenAI-compatible inference surface (spec
// §6: "POST /v1/chat/completions, /v1/completions, /v1/embeddings"),
// translating each call to and from the Ollama wire shape.
func (s *Server) registerOpenAIRoutes(r *gin.Engine) {
	v1 := r.Group("/v1", s.requireUser())
	v1.POST("/chat/completions", s.handleOpenAIChat)
	v1.POST("/completions", s.handleOpenAILegacyCompletion)
	v1.POST("/embeddings", s.handleOpenAIEmbeddings)
}

// handleOpenAIChat translates an OpenAI chat request into the Ollama shape,
// dispatches it, and translates the response (or stream) back (spec §4.4).
func (s *Server) handleOpenAIChat(c *gin.Context) {
	var req translate.OpenAIChatRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		fail(c, gwerrors.Validation("invalid request body"))
		return
	}
	if req.Model == "" {
		fail(c, gwerrors.Validation("model is required"))
		return
	}

	ollamaModelName, err := translate.ConvertModelName(req.Model, translate.Ollama)
	if err != nil {
		fail(c, gwerrors.Validation(err.Error()))
		return
	}

	user := currentUser(c)

	if messagesJSON, err := json.Marshal(req.Messages); err == nil {
		if _, err := identity.FindOrCreateSession(c.Request.Context(), s.Sessions, user.ID, identity.HashJSON(messagesJSON), ""); err != nil {
			fail(c, err)
			return
		}
	}

	var resolvedModel string
	obs := observe.New(observe.KindChat, func() string { return resolvedModel }, user, requestHeaders(c), map[string]any{"messages": req.Messages})

	result, err := s.Dispatch.Dispatch(c.Request.Context(), user, ollamaModelName,
		func(ctx context.Context, backend registry.Backend, model string) (any, error) {
			resolvedModel = model
			body, err := json.Marshal(translate.ToOllamaChatRequest(req, model))
			if err != nil {
				return nil, err
			}
			return s.Proxy.Do(ctx, proxy.Request{BackendURL: backend.URL, Path: "/api/chat", Method: http.MethodPost, Body: body}, model)
		})
	if err != nil {
		fail(c, err)
		return
	}
	resp := result.(*proxy.Response)

	if resp.Stream != nil {
		defer resp.Stream.Close()
		s.streamOpenAIChat(c, resp, obs)
	} else {
		var msg translate.OllamaChatResponse
		if json.Unmarshal(resp.Body, &msg) == nil {
			obs.Tee(map[string]any{
				"done":              true,
				"message":           map[string]any{"content": msg.Message.Content},
				"prompt_eval_count": msg.PromptEvalCount,
				"eval_count":        msg.EvalCount,
			})
			converted := translate.FromOllamaMessage(msg, false, "chatcmpl-"+newID(), translate.StreamCreated(msg))
			out, _ := json.Marshal(converted)
			_ = proxy.WriteJSONMaybeGzip(c.Writer, c.GetHeader("Accept-Encoding"), resp.StatusCode, out)
		} else {
			_ = proxy.WriteJSONMaybeGzip(c.Writer, c.GetHeader("Accept-Encoding"), resp.StatusCode, resp.Body)
		}
	}

	s.Sink.Publish(obs.Finish("openai"))
}

// streamOpenAIChat relays the backend's Ollama NDJSON stream to the client
// as OpenAI SSE chunks, mirroring the teacher's transformingResponseWriter
// technique in the opposite protocol direction (spec §4.4).
func (s *Server) streamOpenAIChat(c *gin.Context, resp *proxy.Response, obs *observe.Observer) {
	c.Status(resp.StatusCode)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, _ := c.Writer.(http.Flusher)
	var flush func()
	if flusher != nil {
		flush = flusher.Flush
	}

	sw := translate.NewStreamWriter(c.Writer, flush, true)
	defer sw.Close()

	scanner := bufio.NewScanner(resp.Stream)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var chunk map[string]any
		if json.Unmarshal(line, &chunk) == nil {
			obs.Tee(chunk)
		}
		if err := sw.WriteChunk(line); err != nil {
			obs.Cancel()
			return
		}
	}
	if scanner.Err() != nil {
		obs.Cancel()
	}
}

// handleOpenAILegacyCompletion adapts the legacy /v1/completions prompt
// shape onto the same chat path, since this gateway's only backend protocol
// is Ollama's chat/generate pair and the legacy completion shape carries no
// information a single-turn chat message can't.
func (s *Server) handleOpenAILegacyCompletion(c *gin.Context) {
	var legacy struct {
		Model  string `json:"model"`
		Prompt string `json:"prompt"`
		Stream *bool  `json:"stream,omitempty"`
	}
	if err := json.NewDecoder(c.Request.Body).Decode(&legacy); err != nil {
		fail(c, gwerrors.Validation("invalid request body"))
		return
	}

	body, _ := json.Marshal(translate.OpenAIChatRequest{
		Model:    legacy.Model,
		Messages: []translate.ChatMessage{{Role: "user", Content: legacy.Prompt}},
		Stream:   legacy.Stream,
	})
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	s.handleOpenAIChat(c)
}

func (s *Server) handleOpenAIEmbeddings(c *gin.Context) {
	var req struct {
		Model string `json:"model"`
		Input any    `json:"input"`
	}
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		fail(c, gwerrors.Validation("invalid request body"))
		return
	}
	ollamaModelName, err := translate.ConvertModelName(req.Model, translate.Ollama)
	if err != nil {
		fail(c, gwerrors.Validation(err.Error()))
		return
	}
	body, _ := sjson.SetBytes([]byte("{}"), "model", ollamaModelName)
	body, _ = sjson.SetBytes(body, "input", req.Input)
	s.proxyEmbeddings(c, ollamaModelName, body)
}
