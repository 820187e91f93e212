package alert

import (
	"context"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Sink delivers a rendered alert to an external channel. Implementations
// must not block indefinitely and must not panic; delivery failure is logged
// and dropped, never propagated to trading paths.
type Sink interface {
	Send(ctx context.Context, level, title, message string) error
}

// Notifier dispatches alerts with a per-key minimum interval so a flapping
// condition (repeated stop-loss churn, reconnect storms) cannot flood the
// downstream channel.
type Notifier struct {
	sink        Sink
	minInterval time.Duration
	logger      zerolog.Logger

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewNotifier creates a dispatcher. A nil sink logs alerts and drops them.
func NewNotifier(sink Sink, minInterval time.Duration, logger zerolog.Logger) *Notifier {
	if minInterval <= 0 {
		minInterval = time.Minute
	}
	return &Notifier{
		sink:        sink,
		minInterval: minInterval,
		logger:      logger.With().Str("component", "notifier").Logger(),
		lastSent:    make(map[string]time.Time),
	}
}

// Notify sends an alert unless the same key fired within the minimum
// interval. Returns true when the alert was dispatched (or logged).
func (n *Notifier) Notify(ctx context.Context, key, level, title, message string) bool {
	n.mu.Lock()
	last, seen := n.lastSent[key]
	now := time.Now()
	if seen && now.Sub(last) < n.minInterval {
		n.mu.Unlock()
		return false
	}
	n.lastSent[key] = now
	n.mu.Unlock()

	if n.sink == nil {
		lg := Logger(ctx, n.logger)
		lg.Info().
			Str("level", level).
			Str("title", title).
			Msg(message)
		return true
	}
	if err := n.sink.Send(ctx, level, title, message); err != nil {
		lg := Logger(ctx, n.logger)
		lg.Warn().Err(err).Str("title", title).Msg("alert delivery failed")
	}
	return true
}

// WebhookSink posts alerts as JSON to a configured URL. Missing
// configuration or delivery errors degrade to a log line; trading continues.
type WebhookSink struct {
	http *resty.Client
	url  string
}

// NewWebhookSink creates a sink for the given webhook URL.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		http: resty.New().SetTimeout(5 * time.Second),
		url:  url,
	}
}

// Send posts the alert payload.
func (w *WebhookSink) Send(ctx context.Context, level, title, message string) error {
	_, err := w.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"level":   level,
			"title":   title,
			"message": message,
		}).
		Post(w.url)
	return err
}
