package statusapi

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/signalbox/internal/approval"
	"gorm.io/gorm"
)

var (
	eventInterval     = 3 * time.Second
	heartbeatInterval = 15 * time.Second
)

// handleEvents streams an "approval" event for every approval that becomes
// pending after the client connects.
func handleEvents(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		// Only approvals raised after connecting are reported.
		seen := make(map[string]bool)
		if pending, err := approval.ListPending(db); err == nil {
			for _, a := range pending {
				seen[a.ID] = true
			}
		}

		ctx := c.Request.Context()
		ticker := time.NewTicker(eventInterval)
		heartbeat := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case <-ticker.C:
				pending, err := approval.ListPending(db)
				if err != nil {
					continue
				}
				current := make(map[string]bool, len(pending))
				for _, a := range pending {
					current[a.ID] = true
					if seen[a.ID] {
						continue
					}
					writeSSE(c.Writer, "approval", toApprovalView(a))
				}
				seen = current
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
