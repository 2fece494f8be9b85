package transport

import (
	"context"
	"encoding/json"
	"testing"
)

func TestLargestPhoto(t *testing.T) {
	tests := []struct {
		name   string
		photos []Photo
		want   string
		ok     bool
	}{
		{
			name: "picks largest area",
			photos: []Photo{
				{FileID: "thumb", Width: 90, Height: 90},
				{FileID: "full", Width: 1280, Height: 960},
				{FileID: "mid", Width: 320, Height: 240},
			},
			want: "full",
			ok:   true,
		},
		{
			name:   "single variant",
			photos: []Photo{{FileID: "only", Width: 100, Height: 100}},
			want:   "only",
			ok:     true,
		},
		{
			name: "no photos",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Message{Photos: tt.photos}
			got, ok := m.LargestPhoto()
			if ok != tt.ok {
				t.Fatalf("LargestPhoto() ok = %v, want %v", ok, tt.ok)
			}
			if ok && got.FileID != tt.want {
				t.Errorf("LargestPhoto() = %s, want %s", got.FileID, tt.want)
			}
		})
	}
}

func TestUpdate_WireShape(t *testing.T) {
	raw := `{"callback":{"chat_id":"555","action":"done","task_id":7}}`
	var u Update
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if u.Message != nil {
		t.Error("Message should be nil for a callback update")
	}
	if u.Callback == nil || u.Callback.Action != ActionDone || u.Callback.TaskID != 7 {
		t.Errorf("Callback = %+v", u.Callback)
	}
}

func TestTaskButtons(t *testing.T) {
	btns := TaskButtons(42)
	if len(btns) != 3 {
		t.Fatalf("TaskButtons() returned %d buttons, want 3", len(btns))
	}
	actions := []string{ActionStart, ActionDone, ActionProblem}
	for i, b := range btns {
		if b.Action != actions[i] {
			t.Errorf("button %d action = %s, want %s", i, b.Action, actions[i])
		}
		if b.TaskID != 42 {
			t.Errorf("button %d task ID = %d, want 42", i, b.TaskID)
		}
	}
}

func TestMockTransport_RecordsSends(t *testing.T) {
	m := NewMockTransport()
	ctx := context.Background()

	id, err := m.SendTask(ctx, "100", TaskMessage{Text: "fix sink", TaskID: 1, Buttons: TaskButtons(1)})
	if err != nil {
		t.Fatalf("SendTask() error: %v", err)
	}
	if id == "" {
		t.Error("SendTask() returned empty message ID")
	}

	if err := m.EditMessage(ctx, "100", id, "fix sink (started)", true); err != nil {
		t.Fatalf("EditMessage() error: %v", err)
	}

	last, ok := m.LastEdit()
	if !ok || last.MessageID != id || !last.KeepButtons {
		t.Errorf("LastEdit() = %+v, ok=%v", last, ok)
	}
}

func TestMockTransport_FailSends(t *testing.T) {
	m := NewMockTransport()
	m.FailSends = true
	if _, err := m.SendTask(context.Background(), "100", TaskMessage{}); err == nil {
		t.Error("expected send failure")
	}
	if m.SentCount() != 0 {
		t.Errorf("SentCount() = %d after failed send", m.SentCount())
	}
}
