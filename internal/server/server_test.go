package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/crewline/internal/models"
	"github.com/zulandar/crewline/internal/transport"
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
	if err := db.AutoMigrate(&models.Integration{}, &models.Worker{}, &models.WorkerTask{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return db
}

func newTestRouter(t *testing.T) (*gin.Engine, *gorm.DB, *transport.MockTransport) {
	t.Helper()
	db := openTestDB(t)
	tr := transport.NewMockTransport()
	router, err := NewRouter(db, tr)
	if err != nil {
		t.Fatalf("NewRouter() error: %v", err)
	}
	return router, db, tr
}

func seedIntegration(t *testing.T, db *gorm.DB, active bool) models.Integration {
	t.Helper()
	integ := models.Integration{
		ConnectID:   "conn-abc",
		Name:        "North crew",
		Platform:    "planfix",
		OwnerChatID: "owner-chat",
		Active:      active,
	}
	if err := db.Create(&integ).Error; err != nil {
		t.Fatalf("seed integration: %v", err)
	}
	return integ
}

func doJSON(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIngest_UnknownIntegration(t *testing.T) {
	router, _, _ := newTestRouter(t)
	w := doJSON(router, http.MethodPost, "/integrations/nope", `{"task_id":1,"name":"x"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestIngest_InactiveIntegration(t *testing.T) {
	router, db, _ := newTestRouter(t)
	seedIntegration(t, db, false)
	w := doJSON(router, http.MethodPost, "/integrations/conn-abc", `{"task_id":1,"name":"x"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for inactive integration", w.Code)
	}
}

func TestIngest_UnrecognizedPayload(t *testing.T) {
	router, db, _ := newTestRouter(t)
	seedIntegration(t, db, true)
	w := doJSON(router, http.MethodPost, "/integrations/conn-abc", `{"unrelated":"fields"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestIngest_CreateThenUpdate(t *testing.T) {
	router, db, tr := newTestRouter(t)
	seedIntegration(t, db, true)

	payload := `{"task_id":"9","priority":{"id":2},"name":"Fix sink"}`
	w := doJSON(router, http.MethodPost, "/integrations/conn-abc", payload)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			TaskID uint   `json:"taskId"`
			SentTo string `json:"sentTo"`
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if !resp.Success || resp.Data.Status != "created" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Data.SentTo != "owner-chat" {
		t.Errorf("SentTo = %q, want owner fallback", resp.Data.SentTo)
	}
	if tr.SentCount() != 1 {
		t.Errorf("SentCount = %d, want 1", tr.SentCount())
	}

	// Re-delivery: same external id, new title → updated, no new message.
	w = doJSON(router, http.MethodPost, "/integrations/conn-abc",
		`{"task_id":"9","priority":{"id":1},"name":"Fix kitchen sink"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d on re-delivery", w.Code)
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.Status != "updated" {
		t.Errorf("status = %q, want updated", resp.Data.Status)
	}
	if tr.SentCount() != 1 {
		t.Errorf("SentCount = %d after re-delivery, want 1", tr.SentCount())
	}

	var count int64
	db.Model(&models.WorkerTask{}).Count(&count)
	if count != 1 {
		t.Errorf("task count = %d, want 1", count)
	}

	var task models.WorkerTask
	db.First(&task)
	if task.Title != "Fix kitchen sink" || task.Priority != "urgent" {
		t.Errorf("task = %q / %q, want refreshed fields", task.Title, task.Priority)
	}
}

func TestVerify(t *testing.T) {
	router, db, _ := newTestRouter(t)
	integ := seedIntegration(t, db, true)
	db.Create(&models.Worker{IntegrationID: integ.ID, ChatID: "w1", Active: true})
	db.Create(&models.Worker{IntegrationID: integ.ID, ChatID: "w2", Active: false})

	w := doJSON(router, http.MethodGet, "/integrations/conn-abc", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Data struct {
			Name     string `json:"name"`
			Platform string `json:"platform"`
			Active   bool   `json:"active"`
			Workers  int    `json:"workers"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.Name != "North crew" || resp.Data.Platform != "planfix" {
		t.Errorf("data = %+v", resp.Data)
	}
	if resp.Data.Workers != 1 {
		t.Errorf("Workers = %d, want 1 (active only)", resp.Data.Workers)
	}
}

func TestVerify_InactiveStillServed(t *testing.T) {
	router, db, _ := newTestRouter(t)
	seedIntegration(t, db, false)

	w := doJSON(router, http.MethodGet, "/integrations/conn-abc", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 — only ingestion hides inactive integrations", w.Code)
	}

	var resp struct {
		Data struct {
			Active bool `json:"active"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Data.Active {
		t.Error("active = true for an inactive integration")
	}
}

func TestVerify_Unknown(t *testing.T) {
	router, _, _ := newTestRouter(t)
	w := doJSON(router, http.MethodGet, "/integrations/ghost", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestConversation_AlwaysAcks(t *testing.T) {
	router, _, _ := newTestRouter(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{{{`},
		{"empty update", `{}`},
		{"message for unknown chat", `{"message":{"chat_id":"900","text":"done"}}`},
		{"callback for unknown task", `{"callback":{"chat_id":"900","action":"done","task_id":424242}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(router, http.MethodPost, "/conversation", tt.body)
			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want 200 — the transport must never see an error", w.Code)
			}
			if !strings.Contains(w.Body.String(), `"ok":true`) {
				t.Errorf("body = %s", w.Body.String())
			}
		})
	}
}

func TestConversation_DrivesStateMachine(t *testing.T) {
	router, db, _ := newTestRouter(t)
	integ := seedIntegration(t, db, true)

	task := models.WorkerTask{
		IntegrationID: integ.ID, ExternalTaskID: "e1", Title: "Fix sink",
		Status: models.StatusSent, AssignedChatID: "100", MessageID: "m1",
	}
	db.Create(&task)

	doJSON(router, http.MethodPost, "/conversation", `{"message":{"chat_id":"100","text":"start"}}`)
	doJSON(router, http.MethodPost, "/conversation", `{"message":{"chat_id":"100","text":"done"}}`)

	var loaded models.WorkerTask
	db.First(&loaded, task.ID)
	if loaded.Status != models.StatusCompleted {
		t.Errorf("status = %q, want completed", loaded.Status)
	}

	var got models.Integration
	db.First(&got, integ.ID)
	if got.TasksCompleted != 1 {
		t.Errorf("TasksCompleted = %d, want 1", got.TasksCompleted)
	}
}

func TestTracking(t *testing.T) {
	router, db, _ := newTestRouter(t)
	integ := seedIntegration(t, db, true)

	lat, lng := 40.4168, -3.7038
	db.Create(&models.WorkerTask{
		IntegrationID: integ.ID, ExternalTaskID: "e1", Title: "En route",
		Status: models.StatusStarted, AssignedChatID: "100",
		Location: "12 Harbor Rd", LastLat: &lat, LastLng: &lng,
		DistanceKm: 4.2, TrackingOn: true,
	})
	db.Create(&models.WorkerTask{
		IntegrationID: integ.ID, ExternalTaskID: "e2", Title: "Done job",
		Status: models.StatusCompleted, AssignedChatID: "100",
	})

	w := doJSON(router, http.MethodGet, "/integrations/conn-abc/tracking", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Data []struct {
			Title       string  `json:"title"`
			Status      string  `json:"status"`
			Destination string  `json:"destination"`
			DistanceKm  float64 `json:"distanceKm"`
			Position    *struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"position"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("in-flight items = %d, want 1 (completed excluded by default)", len(resp.Data))
	}
	item := resp.Data[0]
	if item.Title != "En route" || item.Destination != "12 Harbor Rd" || item.DistanceKm != 4.2 {
		t.Errorf("item = %+v", item)
	}
	if item.Position == nil || item.Position.Lat != lat {
		t.Errorf("position = %+v", item.Position)
	}

	// completed=true flips the filter.
	w = doJSON(router, http.MethodGet, "/integrations/conn-abc/tracking?completed=true", "")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 1 || resp.Data[0].Title != "Done job" {
		t.Errorf("completed items = %+v", resp.Data)
	}
}
