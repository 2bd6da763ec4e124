package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Sink delivers events to an external channel.
type Sink interface {
	Name() string
	Notify(ctx context.Context, ev Event) error
}

// SinkError reports a failed delivery. The transition it describes still
// happened.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("alert sink %s: %v", e.Sink, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// LogSink writes events to the process log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string {
	return "log"
}

func (s *LogSink) Notify(ctx context.Context, ev Event) error {
	level := slog.LevelWarn
	if ev.Kind == EventCleared {
		level = slog.LevelInfo
	}

	s.logger.LogAttrs(ctx, level, "Alert event",
		slog.String("id", ev.ID),
		slog.String("kind", string(ev.Kind)),
		slog.String("pool", ev.Pool),
		slog.String("previous_pool", ev.PreviousPool),
		slog.Float64("ratio", ev.Ratio),
		slog.Int("errors", ev.Errors),
		slog.Int("samples", ev.Samples),
		slog.Time("at", ev.At),
		slog.String("reason", ev.Reason))

	return nil
}

// WebhookSink posts Slack-compatible messages to an incoming webhook URL.
type WebhookSink struct {
	url    string
	client *http.Client
}

func NewWebhookSink(url string, timeout time.Duration) *WebhookSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (s *WebhookSink) Name() string {
	return "webhook"
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

func title(ev Event) string {
	switch ev.Kind {
	case EventRaised:
		return "High Error Rate Alert"
	case EventCleared:
		return "Error Rate Recovered"
	case EventFailover:
		return "Failover Detected"
	default:
		return string(ev.Kind)
	}
}

func body(ev Event) string {
	switch ev.Kind {
	case EventFailover:
		return fmt.Sprintf("Traffic has shifted from *%s* to *%s*\n\nWindow size: %d requests\nPlease investigate the %s pool health.",
			strings.ToUpper(ev.PreviousPool), strings.ToUpper(ev.Pool), ev.Samples, strings.ToUpper(ev.PreviousPool))
	case EventRaised:
		return fmt.Sprintf("High error rate detected: *%.1f%%* 5xx errors\n\n%d errors in last %d requests\nCurrent pool: *%s*\nThreshold: %.1f%%",
			ev.Ratio*100, ev.Errors, ev.Samples, strings.ToUpper(ev.Pool), ev.Threshold*100)
	default:
		return ev.Reason
	}
}

func slackPayload(ev Event) slackMessage {
	heading := title(ev)
	return slackMessage{
		Text: "*" + heading + "*",
		Blocks: []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: heading, Emoji: true}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: body(ev)}},
			{Type: "context", Elements: []slackText{
				{Type: "mrkdwn", Text: ev.At.UTC().Format("2006-01-02 15:04:05 UTC")},
			}},
		},
	}
}

func (s *WebhookSink) Notify(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(slackPayload(ev))
	if err != nil {
		return &SinkError{Sink: s.Name(), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return &SinkError{Sink: s.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return &SinkError{Sink: s.Name(), Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 200))
		return &SinkError{Sink: s.Name(), Err: fmt.Errorf("status %d: %s", res.StatusCode, snippet)}
	}

	return nil
}
