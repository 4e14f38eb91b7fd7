package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notifier defines the alert delivery interface.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API to every configured chat.
type TelegramNotifier struct {
	botToken  string
	chatIDs   []string
	baseURL   string
	parseMode string
	client    *http.Client
	logger    zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken string, chatIDs []string, baseURL, parseMode string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken:  botToken,
		chatIDs:   append([]string(nil), chatIDs...),
		baseURL:   strings.TrimRight(baseURL, "/"),
		parseMode: parseMode,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify sends the rendered message to each chat. A failing chat does not stop
// delivery to the others; all failures are returned joined.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	text := note.PlainText()
	if strings.EqualFold(n.parseMode, "Markdown") {
		text = note.Text()
	}
	var errs []error
	for _, chatID := range n.chatIDs {
		if err := n.send(ctx, chatID, text); err != nil {
			n.logger.Error().Err(err).Str("chat_id", chatID).Str("pool", note.PoolID).Msg("telegram delivery failed")
			errs = append(errs, fmt.Errorf("chat %s: %w", chatID, err))
			continue
		}
	}

	n.logger.Info().Str("pool", note.PoolID).
		Str("metric", note.Metric).
		Str("kind", string(note.Kind)).
		Int("chats", len(n.chatIDs)-len(errs)).
		Msg("alert sent (Telegram)")
	return errors.Join(errs...)
}

func (n *TelegramNotifier) send(ctx context.Context, chatID, text string) error {
	payload := map[string]string{
		"chat_id": chatID,
		"text":    text,
	}
	if n.parseMode != "" {
		payload["parse_mode"] = n.parseMode
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false: %s", result.Description)
		}
	}
	return nil
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier returns a notifier that only logs.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the notification at warn level for breaches and info for recoveries.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	event := n.logger.Warn()
	if note.Kind == KindRecovery {
		event = n.logger.Info()
	}
	event.Str("pool", note.PoolID).
		Str("pair", note.Pair).
		Str("metric", note.Metric).
		Str("kind", string(note.Kind)).
		Bool("repeat", note.Repeat).
		Str("direction", note.Direction).
		Str("change_pct", note.ChangePct.StringFixed(2)).
		Str("threshold_pct", note.ThresholdPct.String()).
		Str("value", note.Value.String()).
		Time("at", note.At).
		Msg(note.Title())
	return nil
}

// Broadcast fans a notification out to several notifiers.
type Broadcast []Notifier

// Notify delivers to every notifier and joins their errors.
func (b Broadcast) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range b {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Broadcast(nil)
)
