// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging, panic recovery, metrics, CORS, and
// rate limiting, and mounts both the REST surface and the WebSocket
// handshake endpoint.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS posture
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/haechan419/smartspend-chat/internal/auth"
	"github.com/haechan419/smartspend-chat/internal/config"
	"github.com/haechan419/smartspend-chat/internal/http/handlers"
	"github.com/haechan419/smartspend-chat/internal/http/middleware"
	"github.com/haechan419/smartspend-chat/internal/services"
	"github.com/haechan419/smartspend-chat/internal/storage"
	"github.com/haechan419/smartspend-chat/internal/ws"
)

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It wires services to the database and the live dispatch hub,
// mounts /health and /metrics, the /ws handshake, and the authenticated
// REST API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured request logs
//  4. Recovery: capture panics after logger
//  5. Security headers, then body size limiter
//  6. Metrics
//  7. CORS
//  8. gzip on responses
//
// The per-user rate limiter is mounted on the authenticated API group,
// after Authenticate, so it can key buckets by principal.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, hub *ws.Hub, blobs storage.BlobStore, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured request logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// Baseline hardening headers on every response
	r.Use(middleware.SecurityHeaders(cfg.EnableHSTS))

	// 5) Global body size limit; uploads raise their own cap per-route
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Content-Disposition"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "Content-Disposition"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// 8) Compress JSON responses; WebSocket upgrades are excluded
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws", "/metrics"})))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← db/hub/blobs
	verifier := auth.NewVerifier(cfg.JWTSecret)
	roomSvc := services.NewRoomService(db, hub)
	msgSvc := services.NewMessageService(db, hub)
	searchSvc := services.NewSearchService(db, time.Duration(cfg.CtxSeconds)*time.Second)

	gw := ws.NewGateway(hub, verifier, roomSvc, msgSvc, cfg.WSSendBuffer)
	h := handlers.New(roomSvc, msgSvc, searchSvc)
	up := handlers.NewUploadHandler(blobs, msgSvc)

	// WebSocket handshake; the gateway does its own token check so the
	// endpoint can also accept ?token= for browser clients
	r.GET("/ws", gw.Handshake)

	// Authenticated REST API. The rate limiter sits after Authenticate so
	// its buckets key on the bound principal, not just the client IP.
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.Authenticate(verifier), rl.Handler())
	{
		// Rooms
		api.POST("/rooms/direct", h.CreateDirectRoom)
		api.POST("/rooms/group", h.CreateGroupRoom)
		api.POST("/rooms/:id/invite", h.Invite)
		api.GET("/rooms", h.ListRooms)
		api.GET("/rooms/:id/meta", h.RoomMeta)
		api.POST("/rooms/:id/read", h.MarkRead)

		// Messages
		api.GET("/rooms/:id/messages", h.History)
		api.POST("/rooms/:id/messages", h.SendMessage)
		api.DELETE("/messages/:id", h.DeleteMessage)

		// Attachments
		api.POST("/rooms/:id/attachments", up.Upload)
		api.GET("/attachments/:id/download", up.Download)
		api.GET("/attachments/search", h.SearchAttachments)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error. Multipart upload routes carry
// their own, larger cap and are skipped here (a MaxBytesReader wrap cannot
// be widened downstream).
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodPost && strings.HasSuffix(c.FullPath(), "/attachments") {
			c.Next()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
