package statusapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/signalbox/internal/approval"
	"github.com/zulandar/signalbox/internal/metrics"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/settings"
	"github.com/zulandar/signalbox/internal/telegraph"
	"gorm.io/gorm"
)

const (
	defaultApprovalLimit = 50
	maxApprovalLimit     = 500
)

// registerRoutes sets up all status routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB, m *metrics.Metrics) {
	router.GET("/healthz", handleHealth(db))
	router.GET("/api/sessions", handleSessions(db, m))
	router.GET("/api/approvals", handleApprovals(db))
	router.GET("/api/events", handleEvents(db))
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}
}

type sessionView struct {
	ID             string    `json:"id"`
	Description    string    `json:"description,omitempty"`
	OwnerPID       int       `json:"owner_pid"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivity   time.Time `json:"last_activity"`
	Pending        int64     `json:"pending_instructions"`
	AwaitingAnswer bool      `json:"awaiting_answer"`
	IsDefault      bool      `json:"default"`
}

type approvalView struct {
	ID            string                  `json:"id"`
	Category      string                  `json:"category,omitempty"`
	Title         string                  `json:"title"`
	Status        string                  `json:"status"`
	ResponseValue string                  `json:"response,omitempty"`
	Options       []models.ApprovalOption `json:"options"`
	CreatedAt     time.Time               `json:"created_at"`
	RespondedAt   *time.Time              `json:"responded_at,omitempty"`
}

func toApprovalView(a models.Approval) approvalView {
	return approvalView{
		ID:            a.ID,
		Category:      a.Category,
		Title:         a.Title,
		Status:        a.Status,
		ResponseValue: a.ResponseValue,
		Options:       a.Options,
		CreatedAt:     a.CreatedAt,
		RespondedAt:   a.RespondedAt,
	}
}

func handleHealth(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":          "ok",
			"paused":          settings.Paused(db),
			"cursor":          settings.Cursor(db),
			"default_session": settings.DefaultSession(db),
		})
	}
}

func handleSessions(db *gorm.DB, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := telegraph.CollectStatus(db)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if m != nil {
			m.ActiveSessions.Set(float64(len(rows)))
		}
		out := make([]sessionView, len(rows))
		for i, r := range rows {
			out[i] = sessionView{
				ID:             r.Session.ID,
				Description:    r.Session.Description,
				OwnerPID:       r.Session.OwnerPID,
				Status:         r.Session.Status,
				CreatedAt:      r.Session.CreatedAt,
				LastActivity:   r.Session.LastActivity,
				Pending:        r.Pending,
				AwaitingAnswer: r.AwaitingAnswer,
				IsDefault:      r.IsDefault,
			}
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out})
	}
}

func handleApprovals(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := c.Query("status")
		switch status {
		case "", models.ApprovalPending, models.ApprovalResponded, models.ApprovalExpired:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "status must be pending, responded or expired"})
			return
		}

		limit := defaultApprovalLimit
		if s := c.Query("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, maxApprovalLimit)
		}

		approvals, err := approval.List(db, status, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]approvalView, len(approvals))
		for i, a := range approvals {
			out[i] = toApprovalView(a)
		}
		c.JSON(http.StatusOK, gin.H{"approvals": out})
	}
}
