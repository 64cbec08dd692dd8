package translate

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StreamWriter consumes a backend's newline-delimited Ollama chat stream
// and writes the OpenAI-shaped equivalent to w, either as SSE
// (Content-Type: text/event-stream) or as newline-delimited JSON,
// mirroring the teacher's transformingResponseWriter but in the opposite
// direction (OpenAI client <- Ollama backend, rather than Ollama client <-
// OpenAI-speaking backend).
type StreamWriter struct {
	w        io.Writer
	flush    func()
	sse      bool
	streamID string
	created  int64
	seenAny  bool
	eventID  int64
}

// NewStreamWriter wraps w. When sse is true, chunks are framed as Server-
// Sent Events with a monotonic event_id counter seeded at stream start
// (spec §4.4); otherwise chunks are newline-delimited JSON.
func NewStreamWriter(w io.Writer, flush func(), sse bool) *StreamWriter {
	return &StreamWriter{
		w:        w,
		flush:    flush,
		sse:      sse,
		streamID: "chatcmpl-" + uuid.NewString(),
		eventID:  time.Now().Unix(),
	}
}

// WriteChunk translates one line of backend NDJSON and writes the result.
// A chunk containing {"error": ...} is forwarded verbatim, unwrapped (spec
// §4.4 "Error passthrough").
func (sw *StreamWriter) WriteChunk(line []byte) error {
	line = []byte(strings.TrimSpace(string(line)))
	if len(line) == 0 {
		return nil
	}

	var probe map[string]any
	if err := json.Unmarshal(line, &probe); err == nil {
		if _, isErr := probe["error"]; isErr {
			return sw.emit(line)
		}
	}

	var msg OllamaChatResponse
	if err := json.Unmarshal(line, &msg); err != nil {
		return sw.emit([]byte(fmt.Sprintf(`{"error":"malformed backend chunk: %v"}`, err)))
	}

	if !sw.seenAny {
		sw.created = StreamCreated(msg)
		sw.seenAny = true
	}

	converted := FromOllamaMessage(msg, true, sw.streamID, sw.created)
	out, err := json.Marshal(converted)
	if err != nil {
		return err
	}
	return sw.emit(out)
}

func (sw *StreamWriter) emit(jsonBody []byte) error {
	var err error
	if sw.sse {
		sw.eventID++
		_, err = fmt.Fprintf(sw.w, "id: %d\ndata: %s\n\n", sw.eventID, jsonBody)
	} else {
		_, err = fmt.Fprintf(sw.w, "%s\n", jsonBody)
	}
	if err != nil {
		return err
	}
	if sw.flush != nil {
		sw.flush()
	}
	return nil
}

// Close writes the terminal marker for SSE streams ("data: [DONE]"), the
// OpenAI convention for signaling stream end over text/event-stream.
func (sw *StreamWriter) Close() error {
	if !sw.sse {
		return nil
	}
	_, err := fmt.Fprint(sw.w, "data: [DONE]\n\n")
	if sw.flush != nil {
		sw.flush()
	}
	return err
}

// CopyLines reads newline-delimited chunks from r and feeds each to
// WriteChunk until r is exhausted or returns an error.
func CopyLines(sw *StreamWriter, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		if err := sw.WriteChunk(scanner.Bytes()); err != nil {
			return err
		}
	}
	return scanner.Err()
}
