package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/archivolt/mnemos/internal/http/handlers"
	"github.com/archivolt/mnemos/internal/http/middleware"
	"github.com/archivolt/mnemos/internal/observability"
	"github.com/archivolt/mnemos/internal/platform/envutil"
	"github.com/archivolt/mnemos/internal/platform/logger"
)

// NewRouter assembles the gin engine: CORS, request ids, access logging,
// health and metrics endpoints, and the versioned run API.
func NewRouter(runs *handlers.RunHandler, metrics *observability.Metrics, log *logger.Logger) *gin.Engine {
	if envutil.Str("LOG_MODE", "development") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(log))

	corsCfg := cors.DefaultConfig()
	if origins := envutil.Str("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		corsCfg.AllowOrigins = splitCSV(origins)
	} else {
		corsCfg.AllowAllOrigins = true
	}
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", "X-Request-ID")
	corsCfg.MaxAge = 12 * time.Hour
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", func(c *gin.Context) {
		c.JSON(http.StatusOK, metrics.Snapshot())
	})

	v1 := r.Group("/v1")
	runs.Mount(v1)

	return r
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
