package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/crewline/internal/models"
	"github.com/zulandar/crewline/internal/transport"
)

func TestProblemAlert_Enabled(t *testing.T) {
	tr := transport.NewMockTransport()
	d := NewDispatcher(tr)

	integ := &models.Integration{OwnerChatID: "owner", NotifyOnProblem: true}
	task := &models.WorkerTask{Title: "Fix sink", ProblemNote: "valve rusted"}

	d.ProblemAlert(context.Background(), integ, task, "worker-7")

	sent, ok := tr.LastSent()
	if !ok {
		t.Fatal("no alert sent")
	}
	if sent.ChatID != "owner" {
		t.Errorf("alert sent to %q, want owner", sent.ChatID)
	}
	for _, want := range []string{"Fix sink", "valve rusted", "worker-7"} {
		if !strings.Contains(sent.Text, want) {
			t.Errorf("alert missing %q:\n%s", want, sent.Text)
		}
	}
}

func TestProblemAlert_Disabled(t *testing.T) {
	tr := transport.NewMockTransport()
	d := NewDispatcher(tr)

	integ := &models.Integration{OwnerChatID: "owner", NotifyOnProblem: false}
	d.ProblemAlert(context.Background(), integ, &models.WorkerTask{Title: "T"}, "w")

	if tr.SentCount() != 0 {
		t.Error("alert sent despite notify_on_problem disabled")
	}
}

func TestProblemAlert_SendFailureSwallowed(t *testing.T) {
	tr := transport.NewMockTransport()
	tr.FailSends = true
	d := NewDispatcher(tr)

	// Must not panic or propagate.
	d.ProblemAlert(context.Background(),
		&models.Integration{OwnerChatID: "owner", NotifyOnProblem: true},
		&models.WorkerTask{Title: "T"}, "w")
}

func TestFormatDigest(t *testing.T) {
	integ := &models.Integration{
		Name: "North crew", TasksSent: 12, TasksCompleted: 9, AvgResponseMins: 34.6,
	}
	got := FormatDigest(integ)
	for _, want := range []string{"North crew", "Sent: 12", "Completed: 9", "Avg response: 35 min"} {
		if !strings.Contains(got, want) {
			t.Errorf("digest missing %q:\n%s", want, got)
		}
	}
}

func TestFormatDigest_FallsBackToPlatform(t *testing.T) {
	integ := &models.Integration{Platform: "trello", TasksSent: 1}
	if got := FormatDigest(integ); !strings.Contains(got, "trello") {
		t.Errorf("digest = %q, want platform name fallback", got)
	}
}

func TestNextCronDuration(t *testing.T) {
	if d := nextCronDuration("*/5 * * * *"); d <= 0 || d > 5*time.Minute {
		t.Errorf("nextCronDuration(*/5) = %v, want within 5 minutes", d)
	}
	if d := nextCronDuration("not a cron"); d != 0 {
		t.Errorf("nextCronDuration(invalid) = %v, want 0", d)
	}
}
