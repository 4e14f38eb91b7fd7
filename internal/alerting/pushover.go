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

// PushoverNotifier delivers notifications through the Pushover messages API.
type PushoverNotifier struct {
	token   string
	user    string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewPushoverNotifier constructs a Pushover notifier.
func NewPushoverNotifier(applicationKey, userKey, baseURL string, timeout time.Duration, logger zerolog.Logger) *PushoverNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.pushover.net"
	}
	return &PushoverNotifier{
		token:   applicationKey,
		user:    userKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "alert_pushover").Logger(),
	}
}

// Notify posts the message. Pushover shows no Markdown, so the plain rendering is sent.
func (p *PushoverNotifier) Notify(ctx context.Context, note Notification) error {
	type message struct {
		Token     string `json:"token"`
		User      string `json:"user"`
		Title     string `json:"title"`
		Message   string `json:"message"`
		Timestamp int64  `json:"timestamp"`
		Priority  int    `json:"priority"`
	}
	m := message{
		Token:     p.token,
		User:      p.user,
		Title:     note.Title(),
		Message:   note.PlainText(),
		Timestamp: note.At.Unix(),
	}
	if note.Kind == KindBreach {
		m.Priority = 1
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(m); err != nil {
		return fmt.Errorf("could not json-encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/1/messages.json", &buf)
	if err != nil {
		return fmt.Errorf("could not create post request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("could not perform post request: %w", err)
	}
	defer resp.Body.Close()

	var r struct {
		Status  int      `json:"status"`
		Request string   `json:"request"`
		Errors  []string `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return fmt.Errorf("could not json-decode response for http-status %d: %w", resp.StatusCode, err)
	}
	if r.Status != 1 {
		if len(r.Errors) != 0 {
			return fmt.Errorf("send failed with http-status %d: %w", resp.StatusCode, errors.New(r.Errors[0]))
		}
		return fmt.Errorf("send failed with http-status %d and zero response status", resp.StatusCode)
	}

	p.logger.Info().Str("pool", note.PoolID).Str("metric", note.Metric).Str("request", r.Request).Msg("alert sent (Pushover)")
	return nil
}

var _ Notifier = (*PushoverNotifier)(nil)
