package relay

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handler returns the relay's HTTP routes.
func (r *Relay) Handler() http.Handler {
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(gin.Recovery(), requestLogger(r.log))

	engine.GET("/", r.handleHealth)
	engine.GET("/clients", r.handleClients)
	engine.GET("/events", r.handleEvents)
	engine.GET("/stats", r.handleStats)
	engine.GET("/ws", r.handleWebSocket)

	engine.NoMethod(func(c *gin.Context) {
		c.String(http.StatusMethodNotAllowed, "Method not allowed. Only GET requests are accepted.")
	})
	return engine
}

// requestLogger logs each plain HTTP request at debug level.
func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"latency":     time.Since(start),
			"remote_addr": c.ClientIP(),
		}).Debug("HTTP request")
	}
}
