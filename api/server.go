package api

import (
	"net/http"

	"github.com/ericfitz/sketchroom/internal/slogging"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

// RouterConfig wires the HTTP surface of the relay
type RouterConfig struct {
	ServiceName    string
	TracerProvider trace.TracerProvider
	Metrics        http.Handler
}

// NewRouter builds the gin engine serving the WebSocket endpoint, health and
// metrics
func NewRouter(cfg RouterConfig, hub *Hub, health *HealthChecker) *gin.Engine {
	r := gin.New()

	if cfg.TracerProvider != nil {
		r.Use(otelgin.Middleware(cfg.ServiceName, otelgin.WithTracerProvider(cfg.TracerProvider)))
	}
	r.Use(slogging.LoggerMiddleware())
	r.Use(slogging.Recoverer())

	r.GET("/ws", hub.HandleWS)
	r.GET("/health", health.HandleHealth)
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	return r
}
