package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/flotilla-dev/flotilla/pkg/compose"
)

// Telegram caps messages at 4096 characters; longer replies are split.
const chatMessageLimit = 4096

const telegramAPI = "https://api.telegram.org"

// chatTrigger long-polls the Telegram Bot API and emits one event per
// allowed inbound message. Each event carries a reply capability bound
// to the originating chat.
type chatTrigger struct {
	service      string
	token        string
	baseURL      string
	allowedUsers map[string]bool
	allowedChats map[int64]bool

	client *http.Client
	cancel context.CancelFunc

	mu       sync.Mutex
	started  bool
	stopOnce sync.Once
	done     chan struct{}
}

func newChat(service string, cfg compose.TriggerConfig) (Trigger, error) {
	users := make(map[string]bool, len(cfg.AllowedUsers))
	for _, u := range cfg.AllowedUsers {
		users[strings.TrimPrefix(u, "@")] = true
	}
	chats := make(map[int64]bool, len(cfg.AllowedChats))
	for _, c := range cfg.AllowedChats {
		chats[c] = true
	}

	return &chatTrigger{
		service:      service,
		token:        cfg.Token,
		baseURL:      telegramAPI,
		allowedUsers: users,
		allowedChats: chats,
		client:       &http.Client{Timeout: 40 * time.Second},
		done:         make(chan struct{}),
	}, nil
}

type tgUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		From      *struct {
			Username string `json:"username"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

type tgResponse struct {
	OK     bool       `json:"ok"`
	Result []tgUpdate `json:"result"`
}

func (t *chatTrigger) Start(onEvent Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return fmt.Errorf("chat trigger for service %q already started", t.service)
	}
	t.started = true

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	go t.poll(ctx, onEvent)
	return nil
}

func (t *chatTrigger) poll(ctx context.Context, onEvent Handler) {
	defer close(t.done)

	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}

		updates, err := t.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("Chat long-poll failed, retrying", "service", t.service, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(3 * time.Second):
			}
			continue
		}

		for _, update := range updates {
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			if !t.allowed(update) {
				slog.Debug("Chat message filtered by allow-list", "service", t.service, "chat_id", update.Message.Chat.ID)
				continue
			}

			event := NewEvent(TypeChat, update.Message.Text, map[string]string{
				"chat_id":    strconv.FormatInt(update.Message.Chat.ID, 10),
				"message_id": strconv.FormatInt(update.Message.MessageID, 10),
			})
			if update.Message.From != nil {
				event.Metadata["user"] = update.Message.From.Username
			}
			event.Reply = &chatReply{trigger: t, chatID: update.Message.Chat.ID}

			onEvent(event)
		}
	}
}

func (t *chatTrigger) allowed(update tgUpdate) bool {
	if len(t.allowedChats) > 0 && !t.allowedChats[update.Message.Chat.ID] {
		return false
	}
	if len(t.allowedUsers) > 0 {
		if update.Message.From == nil || !t.allowedUsers[update.Message.From.Username] {
			return false
		}
	}
	return true
}

func (t *chatTrigger) getUpdates(ctx context.Context, offset int64) ([]tgUpdate, error) {
	url := fmt.Sprintf("%s/bot%s/getUpdates?timeout=30&offset=%d", t.baseURL, t.token, offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("getUpdates returned status %d", resp.StatusCode)
	}

	var decoded tgResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode getUpdates response: %w", err)
	}
	if !decoded.OK {
		return nil, fmt.Errorf("getUpdates returned ok=false")
	}

	return decoded.Result, nil
}

func (t *chatTrigger) sendMessage(chatID int64, text string) error {
	payload, err := json.Marshal(map[string]any{
		"chat_id": chatID,
		"text":    text,
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	resp, err := t.client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sendMessage failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sendMessage returned status %d", resp.StatusCode)
	}
	return nil
}

func (t *chatTrigger) Stop() {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		cancel := t.cancel
		t.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}

func (t *chatTrigger) Done() <-chan struct{} {
	return t.done
}

// chatReply sends a service's output back to the originating chat,
// chunked to the platform message-size limit.
type chatReply struct {
	trigger *chatTrigger
	chatID  int64
}

func (r *chatReply) Send(text string) error {
	for _, chunk := range chunkMessage(text, chatMessageLimit) {
		if err := r.trigger.sendMessage(r.chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// chunkMessage splits text into pieces of at most limit bytes,
// preferring to break at line boundaries and never inside a rune.
func chunkMessage(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := limit
		if idx := strings.LastIndexByte(text[:limit], '\n'); idx > 0 {
			cut = idx
		} else {
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
