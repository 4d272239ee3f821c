package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/waybill/waybill/internal/models"
)

// submissionEvent holds data for a newly submitted request SSE event.
type submissionEvent struct {
	ID             uint   `json:"id"`
	UserName       string `json:"user_name"`
	Classification string `json:"classification"`
	TicketID       string `json:"ticket_id"`
	TicketURL      string `json:"ticket_url,omitempty"`
	Pending        int64  `json:"pending"`
}

// handleSSE streams newly submitted requests to the client. It polls for
// sessions that reached the review pipeline since the connection opened.
func handleSSE(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		// Only alert on submissions newer than the connection.
		var lastSeenID uint
		var latest models.IntakeSession
		if err := db.Where("ticket_id != ''").
			Order("id DESC").Limit(1).First(&latest).Error; err == nil {
			lastSeenID = latest.ID
		}

		ctx := c.Request.Context()
		ticker := time.NewTicker(3 * time.Second)
		heartbeat := time.NewTicker(15 * time.Second)
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
				var submitted []models.IntakeSession
				db.Where("ticket_id != '' AND id > ?", lastSeenID).
					Order("id ASC").
					Find(&submitted)

				if len(submitted) == 0 {
					continue
				}
				lastSeenID = submitted[len(submitted)-1].ID

				var pending int64
				db.Model(&models.IntakeSession{}).
					Where("status = ?", models.StatusPendingApproval).
					Count(&pending)

				for i := range submitted {
					s := &submitted[i]
					writeSSE(c.Writer, "submission", submissionEvent{
						ID:             s.ID,
						UserName:       s.UserName,
						Classification: s.Classification,
						TicketID:       s.TicketID,
						TicketURL:      s.TicketURL,
						Pending:        pending,
					})
				}
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
