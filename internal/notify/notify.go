// Package notify delivers best-effort side-channel alerts to integration
// owners. Nothing here ever blocks or fails the primary flow: errors are
// logged and dropped.
package notify

import (
	"context"
	"fmt"
	"log"

	"github.com/zulandar/crewline/internal/models"
	"github.com/zulandar/crewline/internal/transport"
)

// Dispatcher sends owner-facing alerts over the chat transport.
type Dispatcher struct {
	transport transport.Transport
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(tr transport.Transport) *Dispatcher {
	return &Dispatcher{transport: tr}
}

// ProblemAlert tells the integration owner that a worker reported a problem.
// Honors the integration's notify-on-problem setting.
func (d *Dispatcher) ProblemAlert(ctx context.Context, integ *models.Integration, task *models.WorkerTask, workerChatID string) {
	if !integ.NotifyOnProblem {
		return
	}
	text := fmt.Sprintf("🚨 Problem on %q\n%s\nReported by worker %s", task.Title, task.ProblemNote, workerChatID)
	if err := d.transport.SendText(ctx, integ.OwnerChatID, text); err != nil {
		log.Printf("notify: problem alert to %s: %v", integ.OwnerChatID, err)
	}
}
