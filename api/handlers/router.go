package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/0MATRIX0/agent-connect/internal/logging"
	"github.com/0MATRIX0/agent-connect/internal/notify"
	"github.com/0MATRIX0/agent-connect/internal/repository"
	"github.com/0MATRIX0/agent-connect/internal/session"
	"github.com/0MATRIX0/agent-connect/internal/ws"
)

// Deps is everything the HTTP surface is built from.
type Deps struct {
	Sessions      *session.Manager
	Projects      *repository.ProjectRepository
	Notifications *repository.NotificationRepository
	Subscriptions *repository.SubscriptionRepository
	Dispatcher    *notify.Dispatcher

	VAPIDPublicKey  string
	AllowedOrigins  []string
	NotifyPerMinute int
	RecordDir       string
}

// NewRouter builds the Gin engine with every route registered.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(corsMiddleware())

	r.GET("/health", healthHandler(d))

	api := r.Group("/api")
	{
		api.GET("/health", healthHandler(d))
		NewSessionHandler(d.Sessions, d.RecordDir).RegisterRoutes(api)
		NewProjectHandler(d.Projects).RegisterRoutes(api)
		NewNotificationHandler(d.Notifications, d.Subscriptions, d.Dispatcher, d.VAPIDPublicKey, d.NotifyPerMinute).RegisterRoutes(api)
	}

	NewWebSocketHandler(ws.NewHandler(d.Sessions, d.AllowedOrigins)).RegisterRoutes(r)

	r.NoRoute(func(c *gin.Context) {
		sendError(c, http.StatusNotFound, "NOT_FOUND", "Not found")
	})

	return r
}

func healthHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		total, running := d.Sessions.Count()
		subs, err := d.Subscriptions.Count(c.Request.Context())
		if err != nil {
			sendModelError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":        "ok",
			"sessions":      total,
			"running":       running,
			"subscriptions": subs,
		})
	}
}

// requestLogger logs every request at debug level, and failures above it.
func requestLogger() gin.HandlerFunc {
	log := logging.For(logging.CompHTTP)
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		ev := log.Debug()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Info()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// corsMiddleware returns a CORS middleware for browser clients served from
// another origin.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
