package stats

import (
	"math"
	"testing"
	"time"

	"github.com/zulandar/crewline/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Integration{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return db
}

func seedIntegration(t *testing.T, db *gorm.DB) models.Integration {
	t.Helper()
	integ := models.Integration{ConnectID: "c1", Platform: "planfix", OwnerChatID: "900", Active: true}
	if err := db.Create(&integ).Error; err != nil {
		t.Fatalf("seed integration: %v", err)
	}
	return integ
}

func TestRecordSent(t *testing.T) {
	db := openTestDB(t)
	integ := seedIntegration(t, db)
	agg := New(db)

	for i := 0; i < 3; i++ {
		if err := agg.RecordSent(integ.ID); err != nil {
			t.Fatalf("RecordSent() error: %v", err)
		}
	}

	var got models.Integration
	db.First(&got, integ.ID)
	if got.TasksSent != 3 {
		t.Errorf("TasksSent = %d, want 3", got.TasksSent)
	}
}

func TestRecordCompleted_SeedsFirstObservation(t *testing.T) {
	db := openTestDB(t)
	integ := seedIntegration(t, db)
	agg := New(db)

	sent := time.Now().Add(-30 * time.Minute)
	if err := agg.RecordCompleted(integ.ID, sent, time.Now()); err != nil {
		t.Fatalf("RecordCompleted() error: %v", err)
	}

	var got models.Integration
	db.First(&got, integ.ID)
	if got.TasksCompleted != 1 {
		t.Errorf("TasksCompleted = %d, want 1", got.TasksCompleted)
	}
	if math.Abs(got.AvgResponseMins-30) > 0.1 {
		t.Errorf("AvgResponseMins = %f, want ~30 (seeded directly)", got.AvgResponseMins)
	}
}

func TestRecordCompleted_RollingEstimate(t *testing.T) {
	db := openTestDB(t)
	integ := seedIntegration(t, db)
	agg := New(db)

	base := time.Now()
	// First completion: 20 minutes → avg 20.
	if err := agg.RecordCompleted(integ.ID, base.Add(-20*time.Minute), base); err != nil {
		t.Fatal(err)
	}
	// Second completion: 60 minutes → (20+60)/2 = 40.
	if err := agg.RecordCompleted(integ.ID, base.Add(-60*time.Minute), base); err != nil {
		t.Fatal(err)
	}

	var got models.Integration
	db.First(&got, integ.ID)
	if got.TasksCompleted != 2 {
		t.Errorf("TasksCompleted = %d, want 2", got.TasksCompleted)
	}
	if math.Abs(got.AvgResponseMins-40) > 0.1 {
		t.Errorf("AvgResponseMins = %f, want ~40", got.AvgResponseMins)
	}
}

func TestRecordCompleted_NegativeDurationClamped(t *testing.T) {
	db := openTestDB(t)
	integ := seedIntegration(t, db)
	agg := New(db)

	// Clock skew: completion before send. Clamp to zero rather than going negative.
	now := time.Now()
	if err := agg.RecordCompleted(integ.ID, now.Add(5*time.Minute), now); err != nil {
		t.Fatal(err)
	}

	var got models.Integration
	db.First(&got, integ.ID)
	if got.AvgResponseMins != 0 {
		t.Errorf("AvgResponseMins = %f, want 0", got.AvgResponseMins)
	}
}

func TestRecordCompleted_UnknownIntegration(t *testing.T) {
	db := openTestDB(t)
	agg := New(db)
	if err := agg.RecordCompleted(999, time.Now(), time.Now()); err == nil {
		t.Error("expected error for unknown integration")
	}
}
