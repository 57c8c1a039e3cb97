// Package webhook dispatches best-effort signed event notifications to an
// external endpoint, independent of the event pipeline's backend.
package webhook

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/visitrail/visitrail/internal/config"
	"github.com/visitrail/visitrail/pkg/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Event types carried in the X-Event-Type header.
const (
	EventVisitorNew        = "visitor_new"
	EventRegistration      = "registration_completed"
	EventMilestoneAchieved = "milestone_achieved"
)

const signatureLen = 32

// Dispatcher posts event payloads to the configured endpoint. Delivery is
// fire-and-forget: failures after retry exhaustion are logged and dropped,
// never surfaced to the caller.
type Dispatcher struct {
	endpoint  string
	secret    string
	pageOwner string
	client    *http.Client
	newRetry  func() *retry.Retrier
	now       func() time.Time
	log       *zap.Logger
	wg        sync.WaitGroup
}

// NewDispatcher builds a dispatcher from config. A disabled flag, empty
// endpoint, or an endpoint still carrying a build-time placeholder returns
// nil; callers treat a nil dispatcher as "skip silently".
func NewDispatcher(cfg *config.Config, log *zap.Logger) *Dispatcher {
	if !cfg.WebhookEnabled || config.IsPlaceholder(cfg.WebhookURL) {
		log.Debug("webhook dispatch not configured")
		return nil
	}
	return &Dispatcher{
		endpoint:  cfg.WebhookURL,
		secret:    cfg.WebhookSecret,
		pageOwner: cfg.PageOwner,
		client:    &http.Client{Timeout: cfg.RequestTimeout},
		newRetry: func() *retry.Retrier {
			return retry.New(cfg.RetryMaxAttempts, cfg.RetryInitialInterval)
		},
		now: time.Now,
		log: log.With(zap.String("module", "webhook")),
	}
}

// Send schedules an event notification off the caller goroutine. Safe to call
// on a nil dispatcher.
func (d *Dispatcher) Send(eventType string, payload map[string]any) {
	if d == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(context.Background(), eventType, payload)
	}()
}

// SendSync delivers an event notification on the caller goroutine. Used where
// the caller owns sequencing, like the milestone check loop.
func (d *Dispatcher) SendSync(ctx context.Context, eventType string, payload map[string]any) {
	if d == nil {
		return
	}
	d.deliver(ctx, eventType, payload)
}

// Wait blocks until all scheduled deliveries have finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, eventType string, payload map[string]any) {
	body := map[string]any{
		"event":     eventType,
		"timestamp": d.now().UTC().Format(time.RFC3339),
		"page_owner": map[string]any{
			"name": d.pageOwner,
		},
	}
	for k, v := range payload {
		body[k] = v
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		d.log.Debug("webhook payload not encodable", zap.Error(err))
		return
	}

	// Each call site retries on its own schedule; concurrent webhooks do not
	// share a budget.
	retrier := d.newRetry()
	err = retrier.Do(func() error {
		return d.post(ctx, eventType, encoded)
	})
	if err != nil {
		d.log.Debug("webhook abandoned",
			zap.String("event", eventType),
			zap.Error(err),
		)
		return
	}
	d.log.Debug("webhook delivered", zap.String("event", eventType))
}

func (d *Dispatcher) post(ctx context.Context, eventType string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Signature", sign(d.secret, payload))
	req.Header.Set("X-Event-Type", eventType)
	req.Header.Set("X-Event-Timestamp", strconv.FormatInt(d.now().UnixMilli(), 10))

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned %s", resp.Status)
	}
	return nil
}

// sign computes the legacy integrity hint consumers already verify against:
// base64 over secret+payload, truncated. Not a keyed hash. Receivers depend
// on this exact encoding, so it must not be upgraded unilaterally.
func sign(secret string, payload []byte) string {
	material := append([]byte(secret), payload...)
	sig := base64.StdEncoding.EncodeToString(material)
	if len(sig) > signatureLen {
		sig = sig[:signatureLen]
	}
	return sig
}
