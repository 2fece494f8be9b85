// Package convo processes inbound chat events against the worker's active
// task and drives its lifecycle state machine. Every failure on this path is
// logged and swallowed: the chat transport always gets its generic ack, and
// retries here would duplicate worker-facing messages.
package convo

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/crewline/internal/models"
	"github.com/zulandar/crewline/internal/relay"
	"github.com/zulandar/crewline/internal/stats"
	"github.com/zulandar/crewline/internal/transport"
	"gorm.io/gorm"
)

// ProblemNotifier alerts an integration owner when a worker reports a
// problem. Implementations are best-effort.
type ProblemNotifier interface {
	ProblemAlert(ctx context.Context, integ *models.Integration, task *models.WorkerTask, workerChatID string)
}

// Engine is the conversation state machine.
type Engine struct {
	db        *gorm.DB
	transport transport.Transport
	stats     *stats.Aggregator
	notifier  ProblemNotifier
	now       func() time.Time
}

// EngineOpts holds parameters for creating an Engine.
type EngineOpts struct {
	DB        *gorm.DB
	Transport transport.Transport
	Stats     *stats.Aggregator
	Notifier  ProblemNotifier // optional; nil disables problem alerts
}

// NewEngine creates an Engine.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("convo: db is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("convo: transport is required")
	}
	if opts.Stats == nil {
		return nil, fmt.Errorf("convo: stats aggregator is required")
	}
	return &Engine{
		db:        opts.DB,
		transport: opts.Transport,
		stats:     opts.Stats,
		notifier:  opts.Notifier,
		now:       time.Now,
	}, nil
}

// HandleUpdate routes one inbound chat update. It never returns an error:
// the transport gets its ack regardless of what happened inside.
func (e *Engine) HandleUpdate(ctx context.Context, u transport.Update) {
	switch {
	case u.Callback != nil:
		e.handleCallback(ctx, u.Callback)
	case u.Message != nil && len(u.Message.Photos) > 0:
		e.handlePhoto(ctx, u.Message)
	case u.Message != nil:
		e.handleText(ctx, u.Message)
	}
}

// handleCallback processes a button press. The task is resolved by the ID
// embedded in the button payload, independent of recency — a worker may
// press a stale button on an older message.
func (e *Engine) handleCallback(ctx context.Context, cb *transport.Callback) {
	var task models.WorkerTask
	err := e.db.WithContext(ctx).First(&task, cb.TaskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		e.reply(ctx, cb.ChatID, "No active task found.")
		return
	}
	if err != nil {
		log.Printf("convo: load task %d: %v", cb.TaskID, err)
		return
	}
	if task.Terminal() {
		e.reply(ctx, cb.ChatID, "That task is already completed.")
		return
	}

	if cb.Action == transport.ActionViewed {
		e.handleViewed(ctx, &task, cb.ChatID)
		return
	}

	trigger := actionTrigger(cb.Action)
	if trigger == TriggerNone {
		return
	}
	e.applyTrigger(ctx, &task, cb.ChatID, trigger)
}

// handleViewed auto-starts a freshly sent task when the integration has the
// auto-start-on-view setting enabled.
func (e *Engine) handleViewed(ctx context.Context, task *models.WorkerTask, chatID string) {
	integ, err := e.loadIntegration(ctx, task.IntegrationID)
	if err != nil {
		log.Printf("convo: %v", err)
		return
	}
	if integ.AutoStartOnView && task.Status == models.StatusSent {
		e.start(ctx, task, chatID)
	}
}

// handleText processes free text. The active task is the most recently
// created non-terminal task for this chat — at most one is assumed live at
// a time per worker.
func (e *Engine) handleText(ctx context.Context, msg *transport.Message) {
	task, err := e.activeTask(ctx, msg.ChatID)
	if err != nil {
		log.Printf("convo: find active task for %s: %v", msg.ChatID, err)
		return
	}

	trigger := classify(msg.Text)

	if task == nil {
		// Recognized command words get a "no active task" reply;
		// everything else is silently ignored.
		if trigger != TriggerNone {
			e.reply(ctx, msg.ChatID, "You have no active task right now.")
		}
		return
	}

	// While a problem description is pending, any text that is not a
	// completion becomes the description. A "done" still wins: the press
	// or word closes the task over the pending episode.
	if task.Status == models.StatusAwaitingProblem {
		if trigger == TriggerDone {
			e.complete(ctx, task, msg.ChatID)
			return
		}
		e.captureProblem(ctx, task, msg.ChatID, msg.Text)
		return
	}

	if trigger != TriggerNone {
		e.applyTrigger(ctx, task, msg.ChatID, trigger)
		return
	}

	// Plain text against an active task: append to the comment log.
	task.AppendComment(msg.Text)
	if err := e.db.WithContext(ctx).Model(task).UpdateColumn("comments", task.Comments).Error; err != nil {
		log.Printf("convo: append comment to task %d: %v", task.ID, err)
		return
	}
	e.reply(ctx, msg.ChatID, "Noted 📝")
}

// handlePhoto stores photo evidence against the active task.
func (e *Engine) handlePhoto(ctx context.Context, msg *transport.Message) {
	task, err := e.activeTask(ctx, msg.ChatID)
	if err != nil {
		log.Printf("convo: find active task for %s: %v", msg.ChatID, err)
		return
	}
	if task == nil {
		e.reply(ctx, msg.ChatID, "You have no active task — the photo was not saved.")
		return
	}

	photo, ok := msg.LargestPhoto()
	if !ok {
		return
	}
	url, err := e.transport.FileURL(ctx, photo.FileID)
	if err != nil {
		log.Printf("convo: resolve photo %s: %v", photo.FileID, err)
		e.reply(ctx, msg.ChatID, "Could not save the photo, please try again.")
		return
	}

	task.AppendPhoto(url)
	updates := map[string]interface{}{"photo_urls": task.PhotoURLs}
	if msg.Caption != "" {
		task.AppendComment(msg.Caption)
		updates["comments"] = task.Comments
	}
	if err := e.db.WithContext(ctx).Model(task).UpdateColumns(updates).Error; err != nil {
		log.Printf("convo: store photo for task %d: %v", task.ID, err)
		return
	}
	e.reply(ctx, msg.ChatID, "📷 Photo saved.")
}

// applyTrigger applies a recognized command uniformly regardless of channel.
func (e *Engine) applyTrigger(ctx context.Context, task *models.WorkerTask, chatID string, trigger Trigger) {
	switch trigger {
	case TriggerStart:
		switch task.Status {
		case models.StatusSent, models.StatusStarted, models.StatusProblem:
			e.start(ctx, task, chatID)
		case models.StatusAwaitingProblem:
			e.reply(ctx, chatID, "Please describe the problem first, or press Done.")
		}
	case TriggerDone:
		e.complete(ctx, task, chatID)
	case TriggerProblem:
		e.beginProblem(ctx, task, chatID)
	}
}

// start moves the task to started, records the start time, edits the task
// card, and acknowledges.
func (e *Engine) start(ctx context.Context, task *models.WorkerTask, chatID string) {
	now := e.now()
	task.Status = models.StatusStarted
	if task.StartedAt == nil {
		task.StartedAt = &now
	}
	if err := e.db.WithContext(ctx).Model(task).UpdateColumns(map[string]interface{}{
		"status":     task.Status,
		"started_at": task.StartedAt,
	}).Error; err != nil {
		log.Printf("convo: start task %d: %v", task.ID, err)
		return
	}
	e.editCard(ctx, task, true)
	e.reply(ctx, chatID, "👍 Started. Good luck!")
}

// complete moves the task to its terminal state: completion time recorded,
// card edited with the buttons removed, counters updated, worker thanked.
// Integrations with the photo-proof setting refuse completion until at least
// one photo is attached.
func (e *Engine) complete(ctx context.Context, task *models.WorkerTask, chatID string) {
	integ, err := e.loadIntegration(ctx, task.IntegrationID)
	if err != nil {
		// Completion is never blocked on a failed settings read.
		log.Printf("convo: %v", err)
	} else if integ.RequirePhotoProof && len(task.PhotoList()) == 0 {
		e.reply(ctx, chatID, "📷 This task needs photo evidence — send a photo first, then mark it done.")
		return
	}

	now := e.now()
	task.Status = models.StatusCompleted
	task.CompletedAt = &now
	if err := e.db.WithContext(ctx).Model(task).UpdateColumns(map[string]interface{}{
		"status":       task.Status,
		"completed_at": task.CompletedAt,
	}).Error; err != nil {
		log.Printf("convo: complete task %d: %v", task.ID, err)
		return
	}
	e.editCard(ctx, task, false)

	if err := e.stats.RecordCompleted(task.IntegrationID, task.CreatedAt, now); err != nil {
		log.Printf("convo: %v", err)
	}
	e.reply(ctx, chatID, "✅ Task completed — nice work!")
}

// beginProblem opens a problem episode: the next free-text message will be
// captured as the description.
func (e *Engine) beginProblem(ctx context.Context, task *models.WorkerTask, chatID string) {
	task.Status = models.StatusAwaitingProblem
	if err := e.db.WithContext(ctx).Model(task).UpdateColumn("status", task.Status).Error; err != nil {
		log.Printf("convo: mark problem on task %d: %v", task.ID, err)
		return
	}
	e.reply(ctx, chatID, "⚠ What's the problem? Describe it in one message.")
}

// captureProblem stores the description (once per episode), edits the card,
// alerts the owner if enabled, and acknowledges the worker.
func (e *Engine) captureProblem(ctx context.Context, task *models.WorkerTask, chatID, text string) {
	task.Status = models.StatusProblem
	task.ProblemNote = text
	if err := e.db.WithContext(ctx).Model(task).UpdateColumns(map[string]interface{}{
		"status":       task.Status,
		"problem_note": task.ProblemNote,
	}).Error; err != nil {
		log.Printf("convo: capture problem on task %d: %v", task.ID, err)
		return
	}
	e.editCard(ctx, task, true)

	if e.notifier != nil {
		if integ, err := e.loadIntegration(ctx, task.IntegrationID); err == nil {
			e.notifier.ProblemAlert(ctx, integ, task, chatID)
		} else {
			log.Printf("convo: %v", err)
		}
	}
	e.reply(ctx, chatID, "Got it — the dispatcher has been told. You can keep working or wait for instructions.")
}

// activeTask returns the most recently created non-terminal task assigned to
// chatID, or nil when there is none.
func (e *Engine) activeTask(ctx context.Context, chatID string) (*models.WorkerTask, error) {
	var task models.WorkerTask
	err := e.db.WithContext(ctx).
		Where("assigned_chat_id = ? AND status <> ?", chatID, models.StatusCompleted).
		Order("created_at DESC, id DESC").
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (e *Engine) loadIntegration(ctx context.Context, id uint) (*models.Integration, error) {
	var integ models.Integration
	if err := e.db.WithContext(ctx).First(&integ, id).Error; err != nil {
		return nil, fmt.Errorf("convo: load integration %d: %w", id, err)
	}
	return &integ, nil
}

// editCard rewrites the task's original message in place. Tasks relayed
// before a transport was connected have no message ID; that is not an error.
func (e *Engine) editCard(ctx context.Context, task *models.WorkerTask, keepButtons bool) {
	if task.MessageID == "" {
		return
	}
	text := relay.ComposeEditedMessage(task, e.now())
	if err := e.transport.EditMessage(ctx, task.AssignedChatID, task.MessageID, text, keepButtons); err != nil {
		log.Printf("convo: edit message for task %d: %v", task.ID, err)
	}
}

// reply sends a short acknowledgement. Best-effort.
func (e *Engine) reply(ctx context.Context, chatID, text string) {
	if err := e.transport.SendText(ctx, chatID, text); err != nil {
		log.Printf("convo: reply to %s: %v", chatID, err)
	}
}
