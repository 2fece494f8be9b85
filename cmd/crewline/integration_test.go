package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/zulandar/crewline/internal/config"
	"github.com/zulandar/crewline/internal/models"
	"github.com/zulandar/crewline/internal/transport"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := gdb.AutoMigrate(&models.Integration{}, &models.Worker{}, &models.WorkerTask{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return gdb
}

func TestNewConnectID(t *testing.T) {
	a, err := newConnectID()
	if err != nil {
		t.Fatalf("newConnectID: %v", err)
	}
	b, err := newConnectID()
	if err != nil {
		t.Fatalf("newConnectID: %v", err)
	}
	if len(a) != 32 {
		t.Errorf("connect ID length = %d, want 32 hex chars", len(a))
	}
	if a == b {
		t.Error("consecutive connect IDs are identical")
	}
}

func TestPrintIntegrations_Empty(t *testing.T) {
	buf := new(bytes.Buffer)
	printIntegrations(buf, nil)
	if !strings.Contains(buf.String(), "No integrations.") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestPrintIntegrations_Table(t *testing.T) {
	buf := new(bytes.Buffer)
	printIntegrations(buf, []models.Integration{
		{
			ID: 1, Name: "North crew", Platform: "planfix", Active: true,
			TasksSent: 12, TasksCompleted: 9, AvgResponseMins: 34.6,
			Workers: []models.Worker{{Active: true}, {Active: false}},
		},
	})

	out := buf.String()
	for _, want := range []string{"North crew", "planfix", "12", "9", "35"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	// Only the active worker counts.
	if !strings.Contains(out, "\ttrue\t") && !strings.Contains(out, "true") {
		t.Errorf("table missing active flag:\n%s", out)
	}
}

func TestUpsertWorker_NoDuplicateRows(t *testing.T) {
	gdb := openTestDB(t)
	integ := models.Integration{ConnectID: "c1", Platform: "planfix", OwnerChatID: "owner", Active: true}
	if err := gdb.Create(&integ).Error; err != nil {
		t.Fatalf("seed integration: %v", err)
	}

	first, created, err := upsertWorker(gdb, &integ, "chat-1", "u1", "Ana")
	if err != nil {
		t.Fatalf("upsertWorker: %v", err)
	}
	if !created {
		t.Error("created = false for a new chat ID")
	}

	// Same chat ID again: the existing row is refreshed, not duplicated.
	second, created, err := upsertWorker(gdb, &integ, "chat-1", "u1-new", "Ana B")
	if err != nil {
		t.Fatalf("upsertWorker: %v", err)
	}
	if created {
		t.Error("created = true for an already-registered chat ID")
	}
	if second.ID != first.ID {
		t.Errorf("second upsert produced row %d, want %d", second.ID, first.ID)
	}

	var count int64
	gdb.Model(&models.Worker{}).Where("integration_id = ?", integ.ID).Count(&count)
	if count != 1 {
		t.Errorf("worker rows = %d, want 1", count)
	}

	var loaded models.Worker
	gdb.First(&loaded, first.ID)
	if loaded.ExternalID != "u1-new" || loaded.Name != "Ana B" {
		t.Errorf("row not refreshed: %+v", loaded)
	}
}

func TestUpsertWorker_ReactivatesRemovedWorker(t *testing.T) {
	gdb := openTestDB(t)
	integ := models.Integration{ConnectID: "c1", Platform: "planfix", OwnerChatID: "owner", Active: true}
	if err := gdb.Create(&integ).Error; err != nil {
		t.Fatalf("seed integration: %v", err)
	}
	removed := models.Worker{IntegrationID: integ.ID, ChatID: "chat-1", Name: "Ana", Active: false}
	if err := gdb.Create(&removed).Error; err != nil {
		t.Fatalf("seed worker: %v", err)
	}

	worker, created, err := upsertWorker(gdb, &integ, "chat-1", "u1", "Ana")
	if err != nil {
		t.Fatalf("upsertWorker: %v", err)
	}
	if created {
		t.Error("created = true, want the removed row revived")
	}
	if worker.ID != removed.ID {
		t.Errorf("revived row %d, want %d", worker.ID, removed.ID)
	}

	var loaded models.Worker
	gdb.First(&loaded, removed.ID)
	if !loaded.Active {
		t.Error("worker still inactive after re-adding")
	}
}

func TestBuildTransport_Webhook(t *testing.T) {
	cfg := &config.Config{}
	cfg.Transport.Platform = "webhook"

	tr, listener, err := buildTransport(cfg)
	if err != nil {
		t.Fatalf("buildTransport: %v", err)
	}
	if _, ok := tr.(*transport.Webhook); !ok {
		t.Errorf("transport = %T, want *transport.Webhook", tr)
	}
	if listener != nil {
		t.Error("webhook transport should not have a chat listener")
	}
}

func TestBuildTransport_Slack(t *testing.T) {
	cfg := &config.Config{}
	cfg.Transport.Platform = "slack"
	cfg.Transport.Slack.AppToken = "xapp-x"
	cfg.Transport.Slack.BotToken = "xoxb-x"

	tr, listener, err := buildTransport(cfg)
	if err != nil {
		t.Fatalf("buildTransport: %v", err)
	}
	if tr == nil || listener == nil {
		t.Error("slack transport must serve both roles")
	}
}

func TestBuildTransport_Discord(t *testing.T) {
	cfg := &config.Config{}
	cfg.Transport.Platform = "discord"
	cfg.Transport.Discord.BotToken = "token"

	tr, listener, err := buildTransport(cfg)
	if err != nil {
		t.Fatalf("buildTransport: %v", err)
	}
	if tr == nil || listener == nil {
		t.Error("discord transport must serve both roles")
	}
}

func TestBuildTransport_Unknown(t *testing.T) {
	cfg := &config.Config{}
	cfg.Transport.Platform = "telegram"

	if _, _, err := buildTransport(cfg); err == nil {
		t.Fatal("expected error for unknown platform")
	}
}
