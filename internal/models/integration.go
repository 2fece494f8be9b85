package models

import "time"

// Integration is a configured bridge between one external PM tool and a set
// of field workers. The ConnectID is the public token embedded in the
// ingestion URL; possession of the URL is what authorizes deliveries.
type Integration struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	ConnectID   string `gorm:"size:64;uniqueIndex;not null"`
	Name        string `gorm:"size:128"`
	Platform    string `gorm:"size:32;not null"`
	OwnerChatID string `gorm:"size:64;not null"`

	// Boolean columns carry no gorm default tag: gorm skips zero-valued
	// fields with a default on Create, which would make an explicit false
	// unwritable at creation. Every creation site sets these itself.
	Active bool `gorm:"index"`

	// Behavior toggles set by the owner at setup time.
	AutoStartOnView   bool
	RequirePhotoProof bool
	NotifyOnProblem   bool

	// Usage stats, mutated in place by the relay and conversation engine.
	TasksSent       int     `gorm:"default:0"`
	TasksCompleted  int     `gorm:"default:0"`
	AvgResponseMins float64 `gorm:"default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Workers []Worker `gorm:"foreignKey:IntegrationID"`
}

// Worker maps an external-system assignee to a chat identifier. Workers are
// soft-deactivated, never deleted, so completed tasks keep their attribution.
type Worker struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	IntegrationID uint   `gorm:"not null;index"`
	ExternalID    string `gorm:"size:64;index"`
	Name          string `gorm:"size:128"`
	ChatID        string `gorm:"size:64;not null"`
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ActiveWorkers returns the integration's workers with the active flag set.
func (i *Integration) ActiveWorkers() []Worker {
	var out []Worker
	for _, w := range i.Workers {
		if w.Active {
			out = append(out, w)
		}
	}
	return out
}
