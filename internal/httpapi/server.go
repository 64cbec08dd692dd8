// Package httpapi assembles the gateway's gin engine: route registration,
// auth middleware, error mapping, metrics, and project-config
// personalization (spec §6 "External interfaces").
package httpapi

import (
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Yurzs/ollama-x/internal/config"
	"github.com/Yurzs/ollama-x/internal/dispatch"
	"github.com/Yurzs/ollama-x/internal/gwlog"
	"github.com/Yurzs/ollama-x/internal/identity"
	"github.com/Yurzs/ollama-x/internal/observe"
	"github.com/Yurzs/ollama-x/internal/proxy"
	"github.com/Yurzs/ollama-x/internal/registry"
)

// Server bundles everything a request handler needs.
type Server struct {
	Config   *config.Config
	Policy   *config.PolicyStore
	Auth     *identity.Auth
	Users    identity.UserRepository
	Projects *identity.Projects
	Sessions identity.SessionRepository
	Registry *registry.Registry
	Models   registry.ModelRepository
	Dispatch *dispatch.Dispatcher
	Proxy    *proxy.Client
	Sink     *observe.Sink
	Log      *gwlog.Monitor
	Tracer   trace.Tracer

	engine *gin.Engine
}

var requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Name: "ollama_gateway_request_duration_seconds",
	Help: "Request latency by route and status.",
}, []string{"route", "method", "status"})

func init() {
	prometheus.MustRegister(requestDuration)
}

// New builds and wires the gin engine (spec §6's full HTTP surface table).
func (s *Server) New() *gin.Engine {
	r := gin.New()
	r.Use(s.accessLogMiddleware())
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.registerUserRoutes(r)
	s.registerAdminRoutes(r)
	s.registerOllamaRoutes(r)
	s.registerOpenAIRoutes(r)
	s.registerContinueDevRoutes(r)
	s.registerRefactRoutes(r)

	s.engine = r
	return r
}

// accessLogMiddleware mirrors the teacher's request-timing log line in
// setupGinEngine, adapted to the gateway's ring-buffered Monitor and to
// additionally record the Prometheus latency histogram.
func (s *Server) accessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		if s.Tracer != nil {
			ctx, span := s.Tracer.Start(c.Request.Context(), method+" "+path)
			span.SetAttributes(attribute.String("http.method", method), attribute.String("http.path", path))
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			status := c.Writer.Status()
			span.SetAttributes(attribute.Int("http.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			span.End()
		} else {
			c.Next()
		}

		duration := time.Since(start)
		status := c.Writer.Status()

		requestDuration.WithLabelValues(path, method, http.StatusText(status)).Observe(duration.Seconds())
		s.Log.Info("%s %s %d %s %v", method, path, status, c.ClientIP(), duration)
	}
}

// remoteIsLocal reports whether the request's peer address is loopback,
// the signal the local-admin bootstrap rule keys off (spec §4.6.3).
func remoteIsLocal(c *gin.Context) bool {
	host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		host = c.Request.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
