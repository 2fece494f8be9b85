// Package stats maintains per-integration usage counters and the rolling
// response-time estimate shown to dispatchers.
package stats

import (
	"fmt"
	"time"

	"github.com/zulandar/crewline/internal/models"
	"gorm.io/gorm"
)

// Aggregator applies counter mutations to Integration rows. All updates are
// single-row field writes; concurrent completions race last-write-wins,
// which is accepted for human-paced input.
type Aggregator struct {
	db *gorm.DB
}

// New creates an Aggregator.
func New(db *gorm.DB) *Aggregator {
	return &Aggregator{db: db}
}

// RecordSent increments the tasks_sent counter. Only a creation with a
// successful send counts; upsert updates and failed deliveries do not.
func (a *Aggregator) RecordSent(integrationID uint) error {
	err := a.db.Model(&models.Integration{}).
		Where("id = ?", integrationID).
		UpdateColumn("tasks_sent", gorm.Expr("tasks_sent + 1")).Error
	if err != nil {
		return fmt.Errorf("stats: record sent: %w", err)
	}
	return nil
}

// RecordCompleted increments tasks_completed and folds the observed response
// time into the rolling estimate. The estimate is (old+new)/2 smoothing, not
// a true mean: recent completions weigh heavier, and the first observation
// seeds the value directly.
func (a *Aggregator) RecordCompleted(integrationID uint, sentAt, completedAt time.Time) error {
	var integ models.Integration
	if err := a.db.First(&integ, integrationID).Error; err != nil {
		return fmt.Errorf("stats: load integration %d: %w", integrationID, err)
	}

	observed := completedAt.Sub(sentAt).Minutes()
	if observed < 0 {
		observed = 0
	}

	avg := observed
	if integ.TasksCompleted > 0 {
		avg = (integ.AvgResponseMins + observed) / 2
	}

	err := a.db.Model(&models.Integration{}).
		Where("id = ?", integrationID).
		UpdateColumns(map[string]interface{}{
			"tasks_completed":   gorm.Expr("tasks_completed + 1"),
			"avg_response_mins": avg,
		}).Error
	if err != nil {
		return fmt.Errorf("stats: record completed: %w", err)
	}
	return nil
}
