// Package relay turns normalized task data into tracked WorkerTasks and
// delivers them to the resolved worker's chat.
package relay

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/zulandar/crewline/internal/apperr"
	"github.com/zulandar/crewline/internal/models"
	"github.com/zulandar/crewline/internal/normalize"
	"github.com/zulandar/crewline/internal/stats"
	"github.com/zulandar/crewline/internal/transport"
	"gorm.io/gorm"
)

// Service relays normalized tasks: idempotent upsert keyed on
// (integration, external task id), outbound message with action buttons,
// and the tasks_sent counter.
type Service struct {
	db        *gorm.DB
	transport transport.Transport
	stats     *stats.Aggregator
	now       func() time.Time
}

// New creates a relay Service.
func New(db *gorm.DB, tr transport.Transport, agg *stats.Aggregator) *Service {
	return &Service{db: db, transport: tr, stats: agg, now: time.Now}
}

// Result describes the outcome of a relay call.
type Result struct {
	TaskID  uint
	SentTo  string
	Updated bool // true when an existing task was refreshed instead of created
}

// Relay upserts the unit of work. An existing task gets its mutable fields
// refreshed in place — status and conversational history are never touched,
// so a re-delivery cannot regress a task the worker already acted on. A new
// task is created with status sent, composed into a chat message with the
// start/done/problem button row, and delivered to the resolved worker.
func (s *Service) Relay(ctx context.Context, integ *models.Integration, td *normalize.TaskData) (Result, error) {
	var existing models.WorkerTask
	err := s.db.WithContext(ctx).
		Where("integration_id = ? AND external_task_id = ?", integ.ID, td.ExternalTaskID).
		First(&existing).Error

	switch {
	case err == nil:
		return s.update(ctx, &existing, td)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return s.create(ctx, integ, td)
	default:
		return Result{}, apperr.Wrap(apperr.Persistence, "relay: lookup task", err)
	}
}

// update refreshes the mutable fields of an already-relayed task. No message
// is sent and no counter moves: the PM tool re-delivering is routine.
func (s *Service) update(ctx context.Context, task *models.WorkerTask, td *normalize.TaskData) (Result, error) {
	err := s.db.WithContext(ctx).Model(task).Updates(map[string]interface{}{
		"title":       td.Title,
		"description": td.Description,
		"location":    td.Location,
		"due_date":    td.DueDate,
		"priority":    td.Priority,
	}).Error
	if err != nil {
		return Result{}, apperr.Wrap(apperr.Persistence, "relay: update task", err)
	}
	return Result{TaskID: task.ID, SentTo: task.AssignedChatID, Updated: true}, nil
}

// create persists a new task and sends the task card. A failed send leaves
// the task persisted with an empty message ID and the sent counter
// untouched: tasks_sent counts delivered cards, not accepted payloads.
func (s *Service) create(ctx context.Context, integ *models.Integration, td *normalize.TaskData) (Result, error) {
	chatID := ResolveWorker(integ, td.ExternalUserID)

	task := models.WorkerTask{
		IntegrationID:  integ.ID,
		ExternalTaskID: td.ExternalTaskID,
		BoardID:        td.BoardID,
		Title:          td.Title,
		Description:    td.Description,
		Location:       td.Location,
		DueDate:        td.DueDate,
		Priority:       td.Priority,
		Status:         models.StatusSent,
		AssignedChatID: chatID,
	}
	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		return Result{}, apperr.Wrap(apperr.Persistence, "relay: create task", err)
	}

	msgID, err := s.transport.SendTask(ctx, chatID, transport.TaskMessage{
		Text:    ComposeTaskMessage(&task, s.now()),
		TaskID:  task.ID,
		Buttons: transport.TaskButtons(task.ID),
	})
	if err != nil {
		// Transport failures are logged, never surfaced; the PM tool got
		// its task accepted.
		log.Printf("relay: send task %d to %s: %v", task.ID, chatID, err)
		return Result{TaskID: task.ID, SentTo: chatID}, nil
	}
	if msgID != "" {
		if err := s.db.WithContext(ctx).Model(&task).UpdateColumn("message_id", msgID).Error; err != nil {
			log.Printf("relay: store message id for task %d: %v", task.ID, err)
		}
	}

	if err := s.stats.RecordSent(integ.ID); err != nil {
		log.Printf("relay: %v", err)
	}

	return Result{TaskID: task.ID, SentTo: chatID}, nil
}
