package relay

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Tyrowin/chatrelay/internal/audit"
)

// HealthText is the body served on the health endpoint.
const HealthText = "Chat relay is running!"

// maxEventsLimit caps /events so one request cannot dump the whole table.
const maxEventsLimit = 1000

// ClientsResponse is the body of GET /clients.
type ClientsResponse struct {
	Clients []string `json:"clients"`
	Count   int      `json:"count"`
}

// EventsResponse is the body of GET /events.
type EventsResponse struct {
	Events []audit.Event `json:"events"`
}

func (r *Relay) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, HealthText)
}

func (r *Relay) handleClients(c *gin.Context) {
	names := r.reg.Snapshot()
	c.JSON(http.StatusOK, ClientsResponse{Clients: names, Count: len(names)})
}

func (r *Relay) handleEvents(c *gin.Context) {
	limit := audit.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxEventsLimit)
	}

	events, err := r.audit.Recent(c.Request.Context(), limit)
	if err != nil {
		r.log.WithError(err).Error("Failed to read audit events")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read events"})
		return
	}
	c.JSON(http.StatusOK, EventsResponse{Events: events})
}

func (r *Relay) handleWebSocket(c *gin.Context) {
	if r.isShuttingDown() {
		c.String(http.StatusServiceUnavailable, "Relay is shutting down.")
		return
	}
	r.serveSession(c.Writer, c.Request)
}
