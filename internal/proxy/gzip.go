package proxy

import (
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// AcceptsGzip reports whether acceptEncoding (the inbound Accept-Encoding
// header) lists gzip, adapted from the teacher's selectEncoding in
// ui_compress.go (same Accept-Encoding scan, narrowed to the one encoding
// this gateway ever produces).
func AcceptsGzip(acceptEncoding string) bool {
	return strings.Contains(acceptEncoding, "gzip")
}

// WriteJSONMaybeGzip writes body as the HTTP response, gzip-compressing it
// when the client advertises support. Only non-streaming JSON responses
// are ever routed through this helper (spec §4.3: "Streaming responses are
// never compressed").
func WriteJSONMaybeGzip(w http.ResponseWriter, acceptEncoding string, status int, body []byte) error {
	w.Header().Set("Content-Type", "application/json")

	if !AcceptsGzip(acceptEncoding) {
		w.WriteHeader(status)
		_, err := w.Write(body)
		return err
	}

	w.Header().Set("Content-Encoding", "gzip")
	w.WriteHeader(status)

	gz := gzip.NewWriter(w)
	if _, err := gz.Write(body); err != nil {
		return err
	}
	return gz.Close()
}
