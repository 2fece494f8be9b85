package server

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/crewline/internal/apperr"
	"github.com/zulandar/crewline/internal/convo"
	"github.com/zulandar/crewline/internal/models"
	"github.com/zulandar/crewline/internal/normalize"
	"github.com/zulandar/crewline/internal/relay"
	"github.com/zulandar/crewline/internal/transport"
	"gorm.io/gorm"
)

// registerRoutes sets up all HTTP routes on the Gin router.
func registerRoutes(router *gin.Engine, db *gorm.DB, relaySvc *relay.Service, engine *convo.Engine) {
	router.POST("/integrations/:connectId", handleIngest(db, relaySvc))
	router.GET("/integrations/:connectId", handleVerify(db))
	router.GET("/integrations/:connectId/tracking", handleTracking(db))
	router.POST("/conversation", handleConversation(engine))
}

// handleIngest receives a platform-specific payload on the integration's
// secret URL, normalizes it, and relays the task. Failures are visible to
// the caller: the PM tool can usefully retry, and the upsert rule absorbs
// the duplicates retrying produces.
func handleIngest(db *gorm.DB, relaySvc *relay.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		integ, err := findIntegration(c, db, c.Param("connectId"), true)
		if err != nil {
			return // response already written
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unreadable body"})
			return
		}

		td := normalize.Normalize(integ.Platform, body)
		if td == nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "payload not recognized"})
			return
		}

		res, err := relaySvc.Relay(c.Request.Context(), integ, td)
		if err != nil {
			if apperr.IsKind(err, apperr.Persistence) {
				log.Printf("server: ingest %s: %v", integ.ConnectID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "storage failure"})
				return
			}
			log.Printf("server: ingest %s: %v", integ.ConnectID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "relay failure"})
			return
		}

		status := "created"
		if res.Updated {
			status = "updated"
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data": gin.H{
				"taskId": res.TaskID,
				"sentTo": res.SentTo,
				"status": status,
			},
		})
	}
}

// handleVerify lets setup tooling confirm an integration exists and see its
// stats. Not used by the relay itself.
func handleVerify(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		integ, err := findIntegration(c, db, c.Param("connectId"), false)
		if err != nil {
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data": gin.H{
				"name":     integ.Name,
				"platform": integ.Platform,
				"active":   integ.Active,
				"workers":  len(integ.ActiveWorkers()),
				"stats": gin.H{
					"tasksSent":       integ.TasksSent,
					"tasksCompleted":  integ.TasksCompleted,
					"avgResponseMins": integ.AvgResponseMins,
				},
			},
		})
	}
}

// handleTracking reports each unit's progress and last known position for
// the dispatcher's map view.
func handleTracking(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		integ, err := findIntegration(c, db, c.Param("connectId"), false)
		if err != nil {
			return
		}

		q := db.WithContext(c.Request.Context()).Where("integration_id = ?", integ.ID)
		if c.Query("completed") == "true" {
			q = q.Where("status = ?", models.StatusCompleted)
		} else {
			q = q.Where("status <> ?", models.StatusCompleted)
		}

		var tasks []models.WorkerTask
		if err := q.Order("created_at DESC").Find(&tasks).Error; err != nil {
			log.Printf("server: tracking %s: %v", integ.ConnectID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "storage failure"})
			return
		}

		items := make([]gin.H, 0, len(tasks))
		for i := range tasks {
			t := &tasks[i]
			item := gin.H{
				"taskId":      t.ID,
				"title":       t.Title,
				"status":      t.Status,
				"worker":      t.AssignedChatID,
				"destination": t.Location,
				"distanceKm":  t.DistanceKm,
				"trackingOn":  t.TrackingOn,
			}
			if t.LastLat != nil && t.LastLng != nil {
				item["position"] = gin.H{"lat": *t.LastLat, "lng": *t.LastLng}
			}
			items = append(items, item)
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": items})
	}
}

// handleConversation receives a chat-transport update. It always answers
// with a generic ack: surfacing errors here would make the transport
// retry-storm and duplicate worker-facing messages.
func handleConversation(engine *convo.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var update transport.Update
		if err := c.ShouldBindJSON(&update); err != nil {
			log.Printf("server: conversation: bad update: %v", err)
			c.JSON(http.StatusOK, gin.H{"ok": true})
			return
		}
		engine.HandleUpdate(c.Request.Context(), update)
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

// findIntegration loads an integration by connect ID, writing the 404
// response itself when missing. Ingestion additionally treats inactive
// integrations as missing; the read endpoints still serve them, with the
// active flag in the body.
func findIntegration(c *gin.Context, db *gorm.DB, connectID string, requireActive bool) (*models.Integration, error) {
	var integ models.Integration
	err := db.WithContext(c.Request.Context()).
		Preload("Workers").
		Where("connect_id = ?", connectID).
		First(&integ).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && requireActive && !integ.Active) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "integration not found"})
		return nil, apperr.New(apperr.NotFound, "server: integration not found")
	}
	if err != nil {
		log.Printf("server: load integration %s: %v", connectID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "storage failure"})
		return nil, apperr.Wrap(apperr.Persistence, "server: load integration", err)
	}
	return &integ, nil
}
