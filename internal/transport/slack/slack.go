// Package slack implements the chat transport for Slack using Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/crewline/internal/transport"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
	// actionsBlockID identifies the action-button row on a task card.
	actionsBlockID = "task_actions"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	UpdateMessage(channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error)
	GetConversationReplies(params *slackapi.GetConversationRepliesParameters) ([]slackapi.Message, bool, string, error)
	GetFileInfo(fileID string, count, page int) (*slackapi.File, []slackapi.Comment, *slackapi.Paging, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Transport implements transport.Transport for Slack. Task cards are Block
// Kit messages: a section with the card text and an actions row whose button
// values carry "action:taskID", so a press identifies its task without any
// server-side session state.
type Transport struct {
	client       slackClient
	socket       socketClient
	botUserID    string
	appToken     string
	botToken     string
	mu           sync.Mutex
	connected    bool
	closed       bool
	inbound      chan transport.Update
	cancelFunc   context.CancelFunc
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int
}

// Opts holds parameters for creating a Slack Transport.
type Opts struct {
	AppToken string // xapp-... Slack app-level token for Socket Mode
	BotToken string // xoxb-... Slack bot token
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Transport.
func New(opts Opts) (*Transport, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}

	t := &Transport{
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		inbound:      make(chan transport.Update, 100),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}

	if opts.Client != nil {
		t.client = opts.Client
	}
	if opts.Socket != nil {
		t.socket = opts.Socket
	}

	return t, nil
}

// Connect establishes the Socket Mode WebSocket connection.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("slack: transport already closed")
	}
	if t.connected {
		return nil
	}

	// Create real clients if not injected (production path).
	if t.client == nil {
		api := slackapi.New(t.botToken, slackapi.OptionAppLevelToken(t.appToken))
		t.client = api
		t.socket = &realSocketClient{client: socketmode.New(api)}
	}

	// Get bot user ID for self-message filtering.
	auth, err := t.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	t.botUserID = auth.UserID

	t.connected = true
	return nil
}

// Listen returns a channel of canonical updates. Starts the Socket Mode
// event pump in a background goroutine. Must be called after Connect.
func (t *Transport) Listen(ctx context.Context) (<-chan transport.Update, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil, fmt.Errorf("slack: not connected")
	}
	t.mu.Unlock()

	listenCtx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancelFunc = cancel
	t.mu.Unlock()

	go t.runWithReconnect(listenCtx)
	go t.pumpEvents(listenCtx)

	return t.inbound, nil
}

// SendTask posts a task card with its action-button row. The returned message
// ID is the Slack message timestamp, which chat.update needs for edits.
func (t *Transport) SendTask(ctx context.Context, chatID string, msg transport.TaskMessage) (string, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return "", fmt.Errorf("slack: not connected")
	}
	t.mu.Unlock()

	blocks := taskBlocks(msg.Text, msg.Buttons)

	var timestamp string
	err := retryOnRateLimit(ctx, func() error {
		_, ts, postErr := t.client.PostMessage(chatID,
			slackapi.MsgOptionBlocks(blocks...),
			slackapi.MsgOptionText(msg.Text, false))
		timestamp = ts
		return postErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: post task: %w", err)
	}
	return timestamp, nil
}

// EditMessage replaces the card text via chat.update. When keepButtons is
// true the original actions row is carried over; chat.update replaces all
// blocks, so the row is fetched back from the message being edited.
func (t *Transport) EditMessage(ctx context.Context, chatID, messageID, text string, keepButtons bool) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return fmt.Errorf("slack: not connected")
	}
	t.mu.Unlock()

	blocks := []slackapi.Block{sectionBlock(text)}
	if keepButtons {
		if row := t.fetchActionsRow(ctx, chatID, messageID); row != nil {
			blocks = append(blocks, row)
		}
	}

	err := retryOnRateLimit(ctx, func() error {
		_, _, _, updateErr := t.client.UpdateMessage(chatID, messageID,
			slackapi.MsgOptionBlocks(blocks...),
			slackapi.MsgOptionText(text, false))
		return updateErr
	})
	if err != nil {
		return fmt.Errorf("slack: update message: %w", err)
	}
	return nil
}

// SendText posts a plain text message.
func (t *Transport) SendText(ctx context.Context, chatID, text string) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return fmt.Errorf("slack: not connected")
	}
	t.mu.Unlock()

	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := t.client.PostMessage(chatID, slackapi.MsgOptionText(text, false))
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// FileURL resolves an uploaded file to its private download URL.
func (t *Transport) FileURL(ctx context.Context, fileID string) (string, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return "", fmt.Errorf("slack: not connected")
	}
	t.mu.Unlock()

	var file *slackapi.File
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		file, _, _, apiErr = t.client.GetFileInfo(fileID, 0, 0)
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: file info: %w", err)
	}
	if file.URLPrivateDownload != "" {
		return file.URLPrivateDownload, nil
	}
	return file.URLPrivate, nil
}

// Close shuts down the transport and closes the inbound channel.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.connected = false
	if t.cancelFunc != nil {
		t.cancelFunc()
	}
	close(t.inbound)
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (t *Transport) BotUserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.botUserID
}

// fetchActionsRow retrieves the actions block of a previously posted card.
// Returns nil when the message cannot be fetched or has no buttons.
func (t *Transport) fetchActionsRow(ctx context.Context, chatID, messageID string) slackapi.Block {
	var msgs []slackapi.Message
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		msgs, _, _, apiErr = t.client.GetConversationReplies(&slackapi.GetConversationRepliesParameters{
			ChannelID: chatID,
			Timestamp: messageID,
			Limit:     1,
		})
		return apiErr
	})
	if err != nil || len(msgs) == 0 {
		log.Printf("slack: fetch card %s: %v", messageID, err)
		return nil
	}
	for _, block := range msgs[0].Blocks.BlockSet {
		if action, ok := block.(*slackapi.ActionBlock); ok {
			return action
		}
	}
	return nil
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when Run() returns an error.
func (t *Transport) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < t.maxReconnect; attempt++ {
		err := t.socket.Run()
		if err == nil {
			return // clean shutdown
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * t.baseBackoff
		if wait > t.maxBackoff {
			wait = t.maxBackoff
		}

		log.Printf("slack: socket mode disconnected (attempt %d/%d): %v, reconnecting in %v",
			attempt+1, t.maxReconnect, err, wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	log.Printf("slack: socket mode exhausted %d reconnection attempts, giving up", t.maxReconnect)
}

// pumpEvents reads Socket Mode events and converts them to canonical updates.
func (t *Transport) pumpEvents(ctx context.Context) {
	events := t.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			t.handleSocketEvent(evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (t *Transport) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			t.socket.Ack(*evt.Request)
		}
		t.handleEventsAPI(eventsAPIEvent)

	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slackapi.InteractionCallback)
		if !ok {
			return
		}
		if evt.Request != nil {
			t.socket.Ack(*evt.Request)
		}
		t.handleInteraction(callback)

	case socketmode.EventTypeConnecting:
		log.Printf("slack: connecting to Socket Mode...")

	case socketmode.EventTypeConnected:
		log.Printf("slack: connected to Socket Mode")

	case socketmode.EventTypeConnectionError:
		log.Printf("slack: connection error: %v", evt.Data)

	case socketmode.EventTypeDisconnect:
		log.Printf("slack: server requested disconnect, will reconnect")
	}
}

// handleEventsAPI processes Events API callbacks.
func (t *Transport) handleEventsAPI(event slackevents.EventsAPIEvent) {
	switch event.Type {
	case slackevents.CallbackEvent:
		if ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			t.handleMessage(ev)
		}
	}
}

// handleMessage converts a Slack message event to a canonical update.
func (t *Transport) handleMessage(ev *slackevents.MessageEvent) {
	// Filter bot self-messages, other bots, and message subtypes
	// (edits, deletes, etc.).
	if ev.User == t.botUserID || ev.BotID != "" || ev.SubType != "" {
		return
	}

	msg := transport.Message{
		ChatID:    ev.Channel,
		MessageID: ev.TimeStamp,
		Text:      ev.Text,
	}
	for _, f := range ev.Files {
		msg.Photos = append(msg.Photos, transport.Photo{FileID: f.ID})
	}
	if len(msg.Photos) > 0 {
		// File uploads carry their text as a caption.
		msg.Caption = ev.Text
		msg.Text = ""
	}

	t.inbound <- transport.Update{Message: &msg}
}

// handleInteraction converts a block-actions button press to a callback update.
func (t *Transport) handleInteraction(callback slackapi.InteractionCallback) {
	if callback.Type != slackapi.InteractionTypeBlockActions {
		return
	}
	for _, action := range callback.ActionCallback.BlockActions {
		act, taskID, ok := parseButtonValue(action.Value)
		if !ok {
			log.Printf("slack: unparseable button value %q", action.Value)
			continue
		}
		t.inbound <- transport.Update{Callback: &transport.Callback{
			ChatID:    callback.Channel.ID,
			MessageID: callback.Message.Timestamp,
			Action:    act,
			TaskID:    taskID,
		}}
	}
}

// taskBlocks builds the Block Kit layout for a task card.
func taskBlocks(text string, buttons []transport.Button) []slackapi.Block {
	blocks := []slackapi.Block{sectionBlock(text)}
	if len(buttons) == 0 {
		return blocks
	}
	var elems []slackapi.BlockElement
	for _, b := range buttons {
		elems = append(elems, slackapi.NewButtonBlockElement(
			b.Action,
			buttonValue(b),
			slackapi.NewTextBlockObject(slackapi.PlainTextType, b.Label, true, false)))
	}
	return append(blocks, slackapi.NewActionBlock(actionsBlockID, elems...))
}

func sectionBlock(text string) slackapi.Block {
	return slackapi.NewSectionBlock(
		slackapi.NewTextBlockObject(slackapi.MarkdownType, text, false, false), nil, nil)
}

// buttonValue encodes the action and task ID into the button payload.
func buttonValue(b transport.Button) string {
	return fmt.Sprintf("%s:%d", b.Action, b.TaskID)
}

// parseButtonValue decodes an "action:taskID" button payload.
func parseButtonValue(value string) (action string, taskID uint, ok bool) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", 0, false
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return parts[0], uint(id), true
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit
// errors. It respects context cancellation and the RetryAfter duration.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err // not a rate limit error, don't retry
		}

		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
