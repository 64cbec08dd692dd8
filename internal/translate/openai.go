package translate

import (
	"strings"
	"time"
)

// ChatMessage is the {role, content} shape shared by both protocols.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// OpenAIChatRequest is the inbound shape accepted at the OpenAI-compatible
// endpoints (spec §4.4 "Request translation").
type OpenAIChatRequest struct {
	Model     string        `json:"model"`
	Messages  []ChatMessage `json:"messages"`
	Stream    *bool         `json:"stream,omitempty"`
	Tools     any           `json:"tools,omitempty"`
	MaxTokens *int          `json:"max_tokens,omitempty"`
}

// OllamaOptions carries the subset of Ollama's generation options this
// gateway passes through.
type OllamaOptions struct {
	NumPredict *int `json:"num_predict,omitempty"`
}

// OllamaChatRequest is the outbound shape sent to a backend.
type OllamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Tools    any           `json:"tools,omitempty"`
	Options  OllamaOptions `json:"options,omitempty"`
}

// ToOllamaChatRequest builds the outbound Ollama request for req, with
// model already converted to Ollama flavor by the caller (the OpenAI chat
// handler converts it with ConvertModelName before dispatch).
func ToOllamaChatRequest(req OpenAIChatRequest, ollamaModel string) OllamaChatRequest {
	out := OllamaChatRequest{
		Model:    ollamaModel,
		Messages: req.Messages,
		Stream:   req.Stream == nil || *req.Stream,
		Tools:    req.Tools,
	}
	if req.MaxTokens != nil {
		out.Options.NumPredict = req.MaxTokens
	}
	return out
}

// OllamaChatResponse is a single (or final streamed) Ollama chat response.
type OllamaChatResponse struct {
	Model           string      `json:"model"`
	CreatedAt       string      `json:"created_at"`
	Message         ChatMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason,omitempty"`
	EvalCount       int         `json:"eval_count,omitempty"`
	PromptEvalCount int         `json:"prompt_eval_count,omitempty"`
	Error           string      `json:"error,omitempty"`
}

// Choice is one OpenAI choice entry; exactly one of Message/Delta is set.
type Choice struct {
	Index        int          `json:"index"`
	FinishReason *string      `json:"finish_reason"`
	Logprobs     any          `json:"logprobs"`
	Message      *ChatMessage `json:"message,omitempty"`
	Delta        *ChatMessage `json:"delta,omitempty"`
}

// Usage is the OpenAI token-usage block, present only on the terminal
// chunk/response (spec §4.4).
type Usage struct {
	CompletionTokens int `json:"completion_tokens"`
	PromptTokens     int `json:"prompt_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAICompletionMessage is the OpenAI Chat Completion response shape,
// used for both the non-streaming response and every streamed chunk (with
// Object switched to "chat.completion.chunk" and Choices[0].Delta set).
type OpenAICompletionMessage struct {
	ID      string   `json:"id"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Object  string   `json:"object"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

const ollamaCreatedAtLayout = "2006-01-02T15:04:05.000000Z"

func parseCreatedAt(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	t, err := time.Parse(ollamaCreatedAtLayout, s)
	if err != nil {
		return time.Now().UTC()
	}
	return t
}

// FromOllamaMessage converts a single Ollama chat response into the OpenAI
// shape (spec §4.4 "Response translation"). isChunk selects
// chat.completion vs chat.completion.chunk and whether the message lands
// in Choices[0].Message or Choices[0].Delta; streamID/created pin every
// chunk of one stream to the same id/created pair. Ollama's implicit
// ":latest" tag is dropped from the reported model name.
func FromOllamaMessage(msg OllamaChatResponse, isChunk bool, streamID string, created int64) OpenAICompletionMessage {
	model, err := ConvertModelName(strings.TrimSuffix(msg.Model, ":latest"), OpenAI)
	if err != nil {
		model = msg.Model
	}

	object := "chat.completion"
	if isChunk {
		object = "chat.completion.chunk"
	}

	var finishReason *string
	if msg.DoneReason != "" {
		fr := msg.DoneReason
		finishReason = &fr
	}

	choice := Choice{Index: 0, FinishReason: finishReason}
	if isChunk {
		choice.Delta = &msg.Message
	} else {
		choice.Message = &msg.Message
	}

	out := OpenAICompletionMessage{
		ID:      streamID,
		Created: created,
		Model:   model,
		Object:  object,
		Choices: []Choice{choice},
	}

	if msg.Done {
		out.Usage = &Usage{
			CompletionTokens: msg.EvalCount,
			PromptTokens:     msg.PromptEvalCount,
			TotalTokens:      msg.EvalCount + msg.PromptEvalCount,
		}
	}

	return out
}

// StreamCreated returns the created timestamp a stream's chunks should all
// share: the first chunk's parsed created_at, falling back to now.
func StreamCreated(firstChunk OllamaChatResponse) int64 {
	return parseCreatedAt(firstChunk.CreatedAt).Unix()
}
