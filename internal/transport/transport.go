// Package transport bridges Crewline to chat platforms (Slack, Discord, or a
// plain webhook feed). It defines the canonical update shape the conversation
// engine consumes and the outbound operations the relay needs.
package transport

import "context"

// Button actions recognized by the conversation engine. The action is
// embedded in the button payload together with the task ID, so a press
// always targets the task it was sent for, regardless of recency.
const (
	ActionStart   = "start"
	ActionDone    = "done"
	ActionProblem = "problem"
	ActionViewed  = "viewed"
)

// Transport is the interface platform-specific implementations must satisfy.
// All operations are synchronous; callers decide what a failure means
// (ingestion surfaces it, the conversation path logs and moves on).
type Transport interface {
	// SendTask posts a task message with its action-button row and returns
	// the platform message identifier used for later in-place edits.
	SendTask(ctx context.Context, chatID string, msg TaskMessage) (string, error)

	// EditMessage replaces the text of a previously sent message.
	// When keepButtons is false the action-button row is removed.
	EditMessage(ctx context.Context, chatID, messageID, text string, keepButtons bool) error

	// SendText posts a plain text message (acknowledgements, prompts, alerts).
	SendText(ctx context.Context, chatID, text string) error

	// FileURL resolves a platform file reference to a durable URL.
	FileURL(ctx context.Context, fileID string) (string, error)
}

// TaskMessage is an outbound task card: formatted text plus the action
// buttons keyed by the task ID.
type TaskMessage struct {
	Text    string
	TaskID  uint
	Buttons []Button
}

// Button is a single action button on a task message.
type Button struct {
	Label  string
	Action string // one of the Action* constants
	TaskID uint
}

// TaskButtons returns the standard start/done/problem row for a task.
func TaskButtons(taskID uint) []Button {
	return []Button{
		{Label: "▶ Start", Action: ActionStart, TaskID: taskID},
		{Label: "✅ Done", Action: ActionDone, TaskID: taskID},
		{Label: "⚠ Problem", Action: ActionProblem, TaskID: taskID},
	}
}

// Update is the canonical inbound event. Exactly one of Message or Callback
// is set. This is also the wire shape of the POST /conversation body.
type Update struct {
	Message  *Message  `json:"message,omitempty"`
	Callback *Callback `json:"callback,omitempty"`
}

// Message is an inbound chat message: free text, an optional caption, and
// zero or more photo size variants.
type Message struct {
	ChatID    string  `json:"chat_id"`
	MessageID string  `json:"message_id,omitempty"`
	Text      string  `json:"text,omitempty"`
	Caption   string  `json:"caption,omitempty"`
	Photos    []Photo `json:"photos,omitempty"`
}

// Photo is one resolution variant of an attached photo.
type Photo struct {
	FileID string `json:"file_id"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Callback is a button-press event. TaskID identifies the task the button
// was attached to; Action is one of the Action* constants.
type Callback struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id,omitempty"`
	Action    string `json:"action"`
	TaskID    uint   `json:"task_id"`
}

// LargestPhoto returns the highest-resolution variant, or a zero Photo and
// false when the message has no photos.
func (m *Message) LargestPhoto() (Photo, bool) {
	if len(m.Photos) == 0 {
		return Photo{}, false
	}
	best := m.Photos[0]
	for _, p := range m.Photos[1:] {
		if p.Width*p.Height > best.Width*best.Height {
			best = p
		}
	}
	return best, true
}
