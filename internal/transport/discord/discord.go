// Package discord implements the chat transport for Discord via the Gateway
// WebSocket.
package discord

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/crewline/internal/transport"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}
func (r *realSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSend(channelID, content, options...)
}
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageEditComplex(m, options...)
}
func (r *realSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	return r.s.InteractionRespond(interaction, resp, options...)
}

// Transport implements transport.Transport for Discord. Task cards carry a
// component button row whose custom IDs encode "action:taskID"; photo
// attachments arrive with direct CDN URLs, so FileURL is the identity.
type Transport struct {
	sess           session
	botToken       string
	botUserID      string
	mu             sync.Mutex
	connected      bool
	closed         bool
	inbound        chan transport.Update
	removeHandlers []func()
	baseBackoff    time.Duration
	maxBackoff     time.Duration
}

// Opts holds parameters for creating a Discord Transport.
type Opts struct {
	BotToken string // Discord bot token
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Transport.
func New(opts Opts) (*Transport, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}

	t := &Transport{
		botToken:    opts.BotToken,
		inbound:     make(chan transport.Update, 100),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
	if opts.Session != nil {
		t.sess = opts.Session
	}
	return t, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("discord: transport already closed")
	}
	if t.connected {
		return nil
	}

	// Create real session if not injected (production path).
	if t.sess == nil {
		dg, err := discordgo.New("Bot " + t.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages |
			discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
		t.sess = &realSession{s: dg}
	}

	// Capture the bot user ID on connect/reconnect for self-message filtering.
	t.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		t.mu.Lock()
		t.botUserID = r.User.ID
		t.mu.Unlock()
		log.Printf("discord: connected as %s (ID: %s)", r.User.Username, r.User.ID)
	})

	// discordgo reconnects on its own; log it for observability.
	t.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		log.Printf("discord: gateway disconnected, discordgo will auto-reconnect")
	})

	if err := t.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	t.connected = true
	return nil
}

// Listen returns a channel of canonical updates. Registers message and
// interaction handlers on the Gateway session. Must be called after Connect.
func (t *Transport) Listen(ctx context.Context) (<-chan transport.Update, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return nil, fmt.Errorf("discord: not connected")
	}
	t.mu.Unlock()

	t.mu.Lock()
	t.removeHandlers = append(t.removeHandlers,
		t.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			t.handleMessage(m)
		}),
		t.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			t.handleInteraction(i)
		}))
	t.mu.Unlock()

	return t.inbound, nil
}

// SendTask posts a task card with its button row and returns the message ID.
func (t *Transport) SendTask(ctx context.Context, chatID string, msg transport.TaskMessage) (string, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return "", fmt.Errorf("discord: not connected")
	}
	t.mu.Unlock()

	data := &discordgo.MessageSend{Content: msg.Text}
	if len(msg.Buttons) > 0 {
		data.Components = []discordgo.MessageComponent{buttonRow(msg.Buttons)}
	}

	var sent *discordgo.Message
	err := t.retryOnRateLimit(ctx, func() error {
		var sendErr error
		sent, sendErr = t.sess.ChannelMessageSendComplex(chatID, data)
		return sendErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: send task: %w", err)
	}
	return sent.ID, nil
}

// EditMessage replaces the card text in place. When keepButtons is false the
// component row is cleared.
func (t *Transport) EditMessage(ctx context.Context, chatID, messageID, text string, keepButtons bool) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return fmt.Errorf("discord: not connected")
	}
	t.mu.Unlock()

	edit := &discordgo.MessageEdit{
		Channel: chatID,
		ID:      messageID,
		Content: &text,
	}
	if !keepButtons {
		empty := []discordgo.MessageComponent{}
		edit.Components = &empty
	}

	err := t.retryOnRateLimit(ctx, func() error {
		_, editErr := t.sess.ChannelMessageEditComplex(edit)
		return editErr
	})
	if err != nil {
		return fmt.Errorf("discord: edit message: %w", err)
	}
	return nil
}

// SendText posts a plain text message.
func (t *Transport) SendText(ctx context.Context, chatID, text string) error {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return fmt.Errorf("discord: not connected")
	}
	t.mu.Unlock()

	err := t.retryOnRateLimit(ctx, func() error {
		_, sendErr := t.sess.ChannelMessageSend(chatID, text)
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

// FileURL returns the reference unchanged: attachment events already carry
// durable CDN URLs.
func (t *Transport) FileURL(ctx context.Context, fileID string) (string, error) {
	return fileID, nil
}

// Close gracefully shuts down the transport connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.connected = false
	for _, remove := range t.removeHandlers {
		remove()
	}
	close(t.inbound)
	if t.sess != nil {
		return t.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Connect).
func (t *Transport) BotUserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.botUserID
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (t *Transport) SetBotUserID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.botUserID = id
}

// handleMessage converts a Discord message event to a canonical update.
func (t *Transport) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}

	t.mu.Lock()
	botID := t.botUserID
	t.mu.Unlock()

	// Filter bot self-messages and other bots.
	if m.Author.ID == botID || m.Author.Bot {
		return
	}

	msg := transport.Message{
		ChatID:    m.ChannelID,
		MessageID: m.ID,
		Text:      m.Content,
	}
	for _, att := range m.Attachments {
		if !strings.HasPrefix(att.ContentType, "image/") {
			continue
		}
		msg.Photos = append(msg.Photos, transport.Photo{
			FileID: att.URL,
			Width:  att.Width,
			Height: att.Height,
		})
	}
	if len(msg.Photos) > 0 {
		// Message text alongside an image is its caption.
		msg.Caption = m.Content
		msg.Text = ""
	}

	t.inbound <- transport.Update{Message: &msg}
}

// handleInteraction converts a component button press to a callback update.
// The press is acknowledged with a deferred update so Discord does not show
// an interaction failure; the card edit follows through EditMessage.
func (t *Transport) handleInteraction(i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}

	if err := t.sess.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		log.Printf("discord: ack interaction: %v", err)
	}

	data := i.MessageComponentData()
	action, taskID, ok := parseCustomID(data.CustomID)
	if !ok {
		log.Printf("discord: unparseable custom ID %q", data.CustomID)
		return
	}

	messageID := ""
	if i.Message != nil {
		messageID = i.Message.ID
	}

	t.inbound <- transport.Update{Callback: &transport.Callback{
		ChatID:    i.ChannelID,
		MessageID: messageID,
		Action:    action,
		TaskID:    taskID,
	}}
}

// buttonRow builds the component row for a task card.
func buttonRow(buttons []transport.Button) discordgo.ActionsRow {
	row := discordgo.ActionsRow{}
	for _, b := range buttons {
		row.Components = append(row.Components, discordgo.Button{
			Label:    b.Label,
			Style:    buttonStyle(b.Action),
			CustomID: customID(b),
		})
	}
	return row
}

func buttonStyle(action string) discordgo.ButtonStyle {
	switch action {
	case transport.ActionStart:
		return discordgo.PrimaryButton
	case transport.ActionDone:
		return discordgo.SuccessButton
	case transport.ActionProblem:
		return discordgo.DangerButton
	}
	return discordgo.SecondaryButton
}

// customID encodes the action and task ID into the button payload.
func customID(b transport.Button) string {
	return fmt.Sprintf("%s:%d", b.Action, b.TaskID)
}

// parseCustomID decodes an "action:taskID" button payload.
func parseCustomID(value string) (action string, taskID uint, ok bool) {
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

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (t *Transport) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err // not a rate limit error
		}

		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * t.baseBackoff
		if wait > t.maxBackoff {
			wait = t.maxBackoff
		}

		log.Printf("discord: rate limited (attempt %d/%d), retrying in %v",
			attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
