package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
	"github.com/yndnr/captoken-go/internal/infra/buildinfo"
	"github.com/yndnr/captoken-go/internal/telemetry/logger"
	"github.com/yndnr/captoken-go/pkg/clock"
	"github.com/yndnr/captoken-go/pkg/crypto/seal"
)

// Message is the payload a dispatcher delivers.
type Message struct {
	Template  string            `json:"template"`
	Recipient domain.Recipient  `json:"recipient"`
	Vars      map[string]string `json:"vars,omitempty"`
	SentAt    int64             `json:"sent_at"`
}

// LogDispatcher writes notifications to the log. Link variables are
// redacted by the logger.
type LogDispatcher struct {
	logger logger.Logger
	clock  clock.Clock
}

var _ service.Notifier = (*LogDispatcher)(nil)

// NewLogDispatcher creates a log dispatcher.
func NewLogDispatcher(l logger.Logger) *LogDispatcher {
	if l == nil {
		l = logger.Default()
	}
	return &LogDispatcher{logger: l, clock: clock.Real()}
}

// Send logs the notification.
func (d *LogDispatcher) Send(ctx context.Context, to domain.Recipient, template string, vars map[string]string) error {
	args := []any{
		"template", template,
		"recipient_type", string(to.RecipientType),
		"subject_id", to.SubjectID,
		"address", to.Address,
	}
	for k, v := range vars {
		args = append(args, "var."+k, v)
	}
	d.logger.WithContext(ctx).Info("notification", args...)
	return nil
}

// WebhookConfig configures a WebhookDispatcher.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration

	// SigningKey, when set, adds an X-Captoken-Signature header sealing
	// the request body.
	SigningKey []byte

	// TLS overrides the client TLS configuration, for private CAs.
	TLS *tls.Config
}

// WebhookDispatcher POSTs each notification as JSON to one endpoint.
type WebhookDispatcher struct {
	url    string
	client *http.Client
	sealer *seal.Sealer
	clock  clock.Clock
}

var _ service.Notifier = (*WebhookDispatcher)(nil)

// ErrWebhookStatus is returned when the endpoint answers a non-2xx status.
var ErrWebhookStatus = errors.New("notify: webhook rejected notification")

// NewWebhookDispatcher creates a webhook dispatcher.
func NewWebhookDispatcher(cfg WebhookConfig) (*WebhookDispatcher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("notify: webhook url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	d := &WebhookDispatcher{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
		clock:  clock.Real(),
	}
	if cfg.TLS != nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = cfg.TLS
		d.client.Transport = transport
	}
	if len(cfg.SigningKey) > 0 {
		s, err := seal.New(cfg.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("notify: signing key: %w", err)
		}
		d.sealer = s
	}
	return d, nil
}

// Send delivers one notification.
func (d *WebhookDispatcher) Send(ctx context.Context, to domain.Recipient, template string, vars map[string]string) error {
	body, err := json.Marshal(Message{
		Template:  template,
		Recipient: to,
		Vars:      vars,
		SentAt:    d.clock.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	req.Header.Set("X-Captoken-Template", template)
	if d.sealer != nil {
		req.Header.Set("X-Captoken-Signature", d.sealer.Seal(string(body)))
	}
	if id := logger.RequestIDFromContext(ctx); id != "" {
		req.Header.Set("X-Request-ID", id)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrWebhookStatus, resp.StatusCode)
	}
	return nil
}

// Multi fans a notification out to several dispatchers. It returns the
// first error after trying all of them.
type Multi []service.Notifier

// Send delivers to every dispatcher.
func (m Multi) Send(ctx context.Context, to domain.Recipient, template string, vars map[string]string) error {
	var first error
	for _, n := range m {
		if err := n.Send(ctx, to, template, vars); err != nil && first == nil {
			first = err
		}
	}
	return first
}
