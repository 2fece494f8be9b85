package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// Webhook is the transport for integrations that bring their own chat bridge:
// inbound updates arrive on the conversation endpoint, and outbound sends are
// POSTed as JSON to the configured URL. With no URL configured, sends succeed
// without delivering anywhere, which keeps single-binary trials working.
type Webhook struct {
	url    string
	client *http.Client
	nextID atomic.Uint64
}

// NewWebhook creates a webhook transport posting to url. An empty url makes
// all sends no-ops.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// outboundEvent is the wire shape of an outbound webhook POST.
type outboundEvent struct {
	Type        string   `json:"type"` // task, edit, or text
	ChatID      string   `json:"chat_id"`
	MessageID   string   `json:"message_id,omitempty"`
	Text        string   `json:"text"`
	KeepButtons bool     `json:"keep_buttons,omitempty"`
	Buttons     []Button `json:"buttons,omitempty"`
	TaskID      uint     `json:"task_id,omitempty"`
}

// SendTask posts a task card event and returns a locally generated message ID
// the bridge echoes back in later edits.
func (w *Webhook) SendTask(ctx context.Context, chatID string, msg TaskMessage) (string, error) {
	id := fmt.Sprintf("wh-%d", w.nextID.Add(1))
	err := w.post(ctx, outboundEvent{
		Type:      "task",
		ChatID:    chatID,
		MessageID: id,
		Text:      msg.Text,
		Buttons:   msg.Buttons,
		TaskID:    msg.TaskID,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// EditMessage posts an edit event for a previously sent card.
func (w *Webhook) EditMessage(ctx context.Context, chatID, messageID, text string, keepButtons bool) error {
	return w.post(ctx, outboundEvent{
		Type:        "edit",
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		KeepButtons: keepButtons,
	})
}

// SendText posts a plain text event.
func (w *Webhook) SendText(ctx context.Context, chatID, text string) error {
	return w.post(ctx, outboundEvent{Type: "text", ChatID: chatID, Text: text})
}

// FileURL returns the reference unchanged: webhook bridges submit photos as
// plain URLs.
func (w *Webhook) FileURL(ctx context.Context, fileID string) (string, error) {
	return fileID, nil
}

func (w *Webhook) post(ctx context.Context, event outboundEvent) error {
	if w.url == "" {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post %s event: %w", event.Type, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: post %s event: status %d", event.Type, resp.StatusCode)
	}
	return nil
}
