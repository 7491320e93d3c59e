package logx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

// AlertSender delivers a rendered alert line to an operator channel.
type AlertSender interface {
	SendAlert(ctx context.Context, text string) error
}

const (
	alertQueueSize   = 64
	alertTextLimit   = 3500
	alertSendTimeout = 10 * time.Second
	alertDrainWait   = 3 * time.Second
)

// telegramSender posts alerts to a Telegram chat (optionally a forum topic).
type telegramSender struct {
	bot      *tele.Bot
	chat     *tele.Chat
	threadID int
}

// NewTelegramSender builds an AlertSender backed by a Telegram bot.
// The bot is created offline: no getMe round trip happens at startup.
func NewTelegramSender(cfg AlertConfig) (AlertSender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("alert telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("alert telegram chat_id is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &telegramSender{bot: b, chat: &tele.Chat{ID: cfg.ChatID}, threadID: cfg.ThreadID}, nil
}

func (t *telegramSender) SendAlert(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, text, &tele.SendOptions{
		DisableWebPagePreview: true,
		ThreadID:              t.threadID,
	})
	return err
}

// alertSink is a zerolog.LevelWriter that forwards records at or above
// min level to an AlertSender. Writes never block the caller.
type alertSink struct {
	sender AlertSender

	mu       sync.Mutex
	limiter  *rate.Limiter
	minLevel zerolog.Level

	queue  chan string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func newAlertSink(sender AlertSender, cfg AlertConfig) *alertSink {
	ctx, cancel := context.WithCancel(context.Background())
	a := &alertSink{
		sender: sender,
		queue:  make(chan string, alertQueueSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	a.apply(cfg)
	go a.worker(ctx)
	return a
}

func (a *alertSink) apply(cfg AlertConfig) {
	rps := max(1, cfg.RatePerSec)
	a.mu.Lock()
	a.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	a.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	a.mu.Unlock()
}

func (a *alertSink) Write(p []byte) (int, error) {
	return a.WriteLevel(zerolog.InfoLevel, p)
}

func (a *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	minLevel := a.minLevel
	lim := a.limiter
	a.mu.Unlock()

	if level < minLevel || lim == nil || !lim.Allow() {
		return len(p), nil
	}
	msg := formatAlert(p)
	if msg == "" {
		return len(p), nil
	}
	select {
	case a.queue <- msg:
	default:
		// drop; alerting must never stall the pipeline
	}
	return len(p), nil
}

func (a *alertSink) worker(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return
		case msg := <-a.queue:
			a.send(msg)
		}
	}
}

// drain sends whatever is still queued, bounded by alertDrainWait.
func (a *alertSink) drain() {
	deadline := time.Now().Add(alertDrainWait)
	for time.Now().Before(deadline) {
		select {
		case msg := <-a.queue:
			a.send(msg)
		default:
			return
		}
	}
}

func (a *alertSink) send(msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), alertSendTimeout)
	defer cancel()
	if err := a.sender.SendAlert(ctx, msg); err != nil {
		fmt.Fprintf(Stderr(), "logx: alert delivery failed: %v\n", err)
	}
}

func (a *alertSink) close() {
	a.once.Do(func() {
		a.cancel()
		<-a.done
	})
}

// formatAlert renders one zerolog JSON line as "[LEVEL] message" followed by
// "- key=value" lines in key order.
func formatAlert(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(p))), &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), alertTextLimit)
	}

	lvl, _ := m[zerolog.LevelFieldName].(string)
	msg, _ := m[zerolog.MessageFieldName].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[")
		b.WriteString(strings.ToUpper(lvl))
		b.WriteString("] ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName, zerolog.CallerFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString("\n- ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(truncate(fmt.Sprint(m[k]), 600))
	}

	return truncate(b.String(), alertTextLimit)
}
