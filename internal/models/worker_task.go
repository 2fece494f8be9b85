package models

import (
	"encoding/json"
	"time"
)

// Task lifecycle statuses. AwaitingProblem is its own state: the worker
// pressed "problem" but has not yet described it, and the next free-text
// message will be captured as the description.
const (
	StatusSent            = "sent"
	StatusStarted         = "started"
	StatusAwaitingProblem = "awaiting_problem"
	StatusProblem         = "problem"
	StatusCompleted       = "completed"
)

// Normalized task priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// WorkerTask is a relayed unit of work, tracked from delivery to completion.
// The pair (IntegrationID, ExternalTaskID) is unique: a duplicate delivery
// from the PM tool updates the existing row instead of creating a new one.
// Rows are never deleted; they are the historical record behind stats and
// tracking queries.
type WorkerTask struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	IntegrationID  uint   `gorm:"not null;uniqueIndex:idx_integration_external,priority:1"`
	ExternalTaskID string `gorm:"size:64;not null;uniqueIndex:idx_integration_external,priority:2"`
	BoardID        string `gorm:"size:64"`

	Title       string     `gorm:"size:256;not null"`
	Description string     `gorm:"type:text"`
	Location    string     `gorm:"size:256"`
	DueDate     *time.Time
	Priority    string     `gorm:"size:8;default:medium"`

	Status         string `gorm:"size:16;default:sent;index"`
	AssignedChatID string `gorm:"size:64;index"`
	MessageID      string `gorm:"size:64"`

	Comments    string `gorm:"type:json"` // append-only JSON array of strings
	PhotoURLs   string `gorm:"type:json"` // append-only JSON array of URLs
	ProblemNote string `gorm:"type:text"`

	// Location-tracking snapshot.
	LastLat    *float64
	LastLng    *float64
	DistanceKm float64 `gorm:"default:0"`
	TrackingOn bool

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Terminal reports whether the task has reached its terminal state.
func (t *WorkerTask) Terminal() bool {
	return t.Status == StatusCompleted
}

// CommentList decodes the JSON-encoded comment log. An empty or malformed
// column yields an empty list.
func (t *WorkerTask) CommentList() []string {
	return decodeList(t.Comments)
}

// AppendComment appends text to the comment log. Comments are append-only.
func (t *WorkerTask) AppendComment(text string) {
	t.Comments = encodeList(append(decodeList(t.Comments), text))
}

// PhotoList decodes the JSON-encoded photo-evidence URLs.
func (t *WorkerTask) PhotoList() []string {
	return decodeList(t.PhotoURLs)
}

// AppendPhoto appends a photo URL to the evidence list.
func (t *WorkerTask) AppendPhoto(url string) {
	t.PhotoURLs = encodeList(append(decodeList(t.PhotoURLs), url))
}

func decodeList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func encodeList(items []string) string {
	data, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// ValidPriority reports whether p is one of the four normalized priorities.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}
