package relay

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/crewline/internal/models"
)

// priorityMarkers render the normalized priority on the task card.
var priorityMarkers = map[string]string{
	models.PriorityLow:    "🟢 Low",
	models.PriorityMedium: "🟡 Medium",
	models.PriorityHigh:   "🟠 High",
	models.PriorityUrgent: "🔴 Urgent",
}

// ComposeTaskMessage builds the outbound task card: title, details, and the
// instruction block naming the three recognized replies. now anchors the
// "today" special-case for due dates.
func ComposeTaskMessage(task *models.WorkerTask, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 %s\n", task.Title)
	writeDetails(&b, task, now)
	b.WriteString("\nReply start, done, or problem — or use the buttons below.")
	return b.String()
}

// ComposeEditedMessage rebuilds the card for an in-place edit, reflecting
// the task's current status instead of the instruction block.
func ComposeEditedMessage(task *models.WorkerTask, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 %s\n", task.Title)
	writeDetails(&b, task, now)

	switch task.Status {
	case models.StatusStarted:
		if task.StartedAt != nil {
			fmt.Fprintf(&b, "\n▶ Started at %s", task.StartedAt.Format("15:04"))
		} else {
			b.WriteString("\n▶ Started")
		}
	case models.StatusAwaitingProblem:
		b.WriteString("\n⚠ Problem reported — waiting for details")
	case models.StatusProblem:
		fmt.Fprintf(&b, "\n⚠ Problem: %s", task.ProblemNote)
	case models.StatusCompleted:
		if task.CompletedAt != nil {
			fmt.Fprintf(&b, "\n✅ Completed at %s", task.CompletedAt.Format("15:04 on 2 Jan"))
		} else {
			b.WriteString("\n✅ Completed")
		}
	}
	return b.String()
}

func writeDetails(b *strings.Builder, task *models.WorkerTask, now time.Time) {
	if task.Description != "" {
		fmt.Fprintf(b, "%s\n", task.Description)
	}
	if task.Location != "" {
		fmt.Fprintf(b, "📍 %s\n", task.Location)
	}
	if task.DueDate != nil {
		fmt.Fprintf(b, "📅 Due: %s\n", FormatDue(*task.DueDate, now))
	}
	if marker, ok := priorityMarkers[task.Priority]; ok {
		fmt.Fprintf(b, "%s\n", marker)
	}
}

// FormatDue renders a due date, collapsing same-day dates to "today".
func FormatDue(due, now time.Time) string {
	sameDay := due.Year() == now.Year() && due.YearDay() == now.YearDay()

	clock := ""
	if due.Hour() != 0 || due.Minute() != 0 {
		clock = due.Format("15:04")
	}

	if sameDay {
		if clock != "" {
			return "today at " + clock
		}
		return "today"
	}
	if clock != "" {
		return due.Format("2 Jan") + " at " + clock
	}
	return due.Format("2 Jan 2006")
}
