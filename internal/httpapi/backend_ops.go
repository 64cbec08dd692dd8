package httpapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/sjson"

	"github.com/Yurzs/ollama-x/internal/proxy"
)

func proxyPullRequest(backendURL string, c *gin.Context) proxy.Request {
	raw, _ := io.ReadAll(c.Request.Body)
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	// admin pull/delete ops are read to completion, never streamed back to
	// the caller as progress events.
	raw, _ = sjson.SetBytes(raw, "stream", false)
	return proxy.Request{BackendURL: backendURL, Path: "/api/pull", Method: http.MethodPost, Body: raw}
}

func proxyDeleteRequest(backendURL, modelName string) proxy.Request {
	body, _ := sjson.SetBytes([]byte("{}"), "name", modelName)
	return proxy.Request{
		BackendURL: backendURL,
		Path:       "/api/delete",
		Method:     http.MethodDelete,
		Body:       body,
	}
}
