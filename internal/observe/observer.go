// Package observe reconstructs the full prompt/completion, timing, and
// token counts of each chat/generate call for an external telemetry sink,
// without adding latency to the client response (spec §4.5).
package observe

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/Yurzs/ollama-x/internal/gwevent"
	"github.com/Yurzs/ollama-x/internal/gwlog"
	"github.com/Yurzs/ollama-x/internal/identity"
)

// Kind distinguishes a chat call from a generate call, since the derived
// response_content/input_text fields are assembled differently for each
// (spec §4.5 "Derived fields").
type Kind string

const (
	KindChat     Kind = "chat"
	KindGenerate Kind = "generate"
)

// Usage is the token-usage summary handed to the sink.
type Usage struct {
	Input  int    `json:"input"`
	Output int    `json:"output"`
	Unit   string `json:"unit"`

	// Estimated is set when Input/Output came from a local tiktoken
	// fallback (the backend chunk never reported eval_count/
	// prompt_eval_count) rather than the backend's own figures, so the
	// sink can tell a measured count from a guessed one.
	Estimated bool `json:"estimated,omitempty"`
}

// Record is the complete set of fields handed to the external sink for one
// call (spec §4.5 "Sink contract").
type Record struct {
	Action           string         `json:"action"`
	Protocol         string         `json:"protocol"`
	Model            string         `json:"model"`
	User             string         `json:"user"`
	RequestHeaders   map[string]any `json:"request_headers"`
	RequestBody      map[string]any `json:"request_body"`
	InputText        string         `json:"input_text"`
	ResponseContent  string         `json:"response_content"`
	ResponseMetadata map[string]any `json:"response_metadata,omitempty"`
	Usage            Usage          `json:"usage"`
	Cancelled        bool           `json:"cancelled"`
	StartTime        time.Time      `json:"start_time"`
	CompletionStart  time.Time      `json:"completion_start,omitempty"`
	CompletionStop   time.Time      `json:"completion_stop,omitempty"`
}

// RecordEvent wraps a finished Record so it can travel over gwevent.
type RecordEvent struct {
	Record Record
}

func (RecordEvent) Type() uint32 { return 2 }

// Observer accumulates one call's chunks and derives Record fields from
// them. The dispatcher instantiates one per request (spec §4.5 "Design").
type Observer struct {
	kind           Kind
	modelGetter    func() string
	user           identity.User
	requestHeaders map[string]any
	requestBody    map[string]any

	startTime time.Time

	mu               sync.Mutex
	chunks           []map[string]any
	completionStart  time.Time
	completionStop   time.Time
	terminalDone     bool
	cancelled        bool
}

// New builds an Observer for one call. modelGetter is a lazily-evaluated
// getter so the recorded model name reflects post-resolution naming (spec
// §4.5: "obtained lazily via a getter so that post-resolution naming is
// reflected"). headers must already have authorization/content-length
// stripped by the caller.
func New(kind Kind, modelGetter func() string, user identity.User, headers map[string]any, body map[string]any) *Observer {
	return &Observer{
		kind:           kind,
		modelGetter:    modelGetter,
		user:           user,
		requestHeaders: headers,
		requestBody:    body,
		startTime:      time.Now().UTC(),
	}
}

// Tee appends chunk to the observer's history, stamping completion_start on
// the first call and completion_stop on any chunk whose "done" is truthy.
func (o *Observer) Tee(chunk map[string]any) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now().UTC()
	if len(o.chunks) == 0 {
		o.completionStart = now
	}
	o.chunks = append(o.chunks, chunk)

	if done, _ := chunk["done"].(bool); done {
		o.completionStop = now
		o.terminalDone = true
	}
}

// Cancel marks the call as cancelled by the client (spec §4.5: "Client
// cancellation is reflected as is_done resolving to a falsy value, which
// the observer treats as cancelled").
func (o *Observer) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancelled = !o.terminalDone
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// responseMetadata returns the first chunk whose "done" is truthy (spec
// §4.5 "response_metadata").
func (o *Observer) responseMetadata() map[string]any {
	for _, c := range o.chunks {
		if done, _ := c["done"].(bool); done {
			return c
		}
	}
	return nil
}

// responseContent concatenates either every chunk's message.content (chat)
// or every chunk's response (generate), per spec §4.5.
func (o *Observer) responseContent() string {
	var sb strings.Builder
	for _, c := range o.chunks {
		switch o.kind {
		case KindChat:
			if msg, ok := c["message"].(map[string]any); ok {
				sb.WriteString(stringField(msg, "content"))
			}
		case KindGenerate:
			sb.WriteString(stringField(c, "response"))
		}
	}
	return sb.String()
}

// inputText returns the chat messages (JSON-encoded) for chat, or the
// prompt string for generate (spec §4.5 "input_text").
func (o *Observer) inputText() string {
	switch o.kind {
	case KindGenerate:
		return stringField(o.requestBody, "prompt")
	default:
		b, _ := json.Marshal(o.requestBody["messages"])
		return string(b)
	}
}

// estimator is shared across observers; tiktoken's cl100k_base encoding is
// a reasonable stand-in for models this gateway has no native tokenizer
// for (grounded on the pack's tiktoken-go usage for telemetry-only
// estimates, never for anything client-facing).
var (
	estimatorOnce sync.Once
	estimator     *tiktoken.Tiktoken
)

func getEstimator() *tiktoken.Tiktoken {
	estimatorOnce.Do(func() {
		estimator, _ = tiktoken.GetEncoding("cl100k_base")
	})
	return estimator
}

func estimateTokens(text string) int {
	enc := getEstimator()
	if enc == nil || text == "" {
		return 0
	}
	return len(enc.Encode(text, nil, nil))
}

// Finish derives the final Record. meta is the terminal chunk if one was
// ever seen (nil otherwise, e.g. the client disconnected mid-stream).
func (o *Observer) Finish(protocol string) Record {
	o.mu.Lock()
	defer o.mu.Unlock()

	meta := o.responseMetadata()
	content := o.responseContent()
	input := o.inputText()

	usage := Usage{Unit: "TOKENS"}
	if meta != nil {
		usage.Input = intField(meta, "prompt_eval_count")
		usage.Output = intField(meta, "eval_count")
	}
	if usage.Input == 0 && usage.Output == 0 && content != "" {
		usage.Input = estimateTokens(input)
		usage.Output = estimateTokens(content)
		usage.Estimated = true
	}

	return Record{
		Action:           "ollama",
		Protocol:         protocol,
		Model:            o.modelGetter(),
		User:             o.user.Username,
		RequestHeaders:   o.requestHeaders,
		RequestBody:      o.requestBody,
		InputText:        input,
		ResponseContent:  content,
		ResponseMetadata: meta,
		Usage:            usage,
		Cancelled:        o.cancelled,
		StartTime:        o.startTime,
		CompletionStart:  o.completionStart,
		CompletionStop:   o.completionStop,
	}
}

// Sink publishes a finished Record to an external telemetry surface.
// Failures are logged and never propagated (spec §4.5 "Sink contract").
type Sink struct {
	Bus *gwevent.Dispatcher
	Log *gwlog.Monitor
}

func (s *Sink) Publish(rec Record) {
	defer func() {
		if r := recover(); r != nil {
			s.Log.Error("observe: sink publish panicked: %v", r)
		}
	}()
	gwevent.Publish(s.Bus, RecordEvent{Record: rec})
}
