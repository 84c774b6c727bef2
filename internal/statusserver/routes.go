package statusserver

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	dmsPerChannel = 10
	dmsTotal      = 20
	maxListLimit  = 200
)

// registerRoutes sets up all status routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/dms", handleDMs(opts))
	router.GET("/status", handleStatus(opts))
	router.GET("/cursors", handleCursors(opts))
	router.GET("/interactions", handleInteractions(opts))
	router.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "Not found")
	})
}

func handleDMs(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		msgs, err := opts.DMs.RecentDMs(c.Request.Context(), dmsPerChannel, dmsTotal)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.IndentedJSON(http.StatusOK, gin.H{"messages": msgs})
	}
}

func handleStatus(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"agent": opts.Agent}
		if b := opts.Breaker; b != nil {
			body["failures"] = b.Failures()
			body["max_failures"] = b.Threshold
			body["tripped"] = b.Tripped()
		}
		if g := opts.Gate; g != nil {
			body["active"] = g.Active()
			body["capacity"] = g.Capacity()
		}
		c.JSON(http.StatusOK, body)
	}
}

func handleCursors(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts.Cursors == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "cursor store not configured"})
			return
		}
		all, err := opts.Cursors.All(c.Request.Context(), opts.Agent)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"agent": opts.Agent, "cursors": all})
	}
}

// handleInteractions lists logged exchanges, newest first. Query params:
// channel (optional filter) and limit (default 50).
func handleInteractions(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		if opts.Interactions == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "interaction log not enabled"})
			return
		}
		limit := 50
		if s := c.Query("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxListLimit)
		}
		rows, err := opts.Interactions.Recent(c.Request.Context(), opts.Agent, c.Query("channel"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"interactions": rows})
	}
}
