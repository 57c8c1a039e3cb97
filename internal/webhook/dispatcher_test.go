package webhook

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/visitrail/visitrail/internal/config"
	"github.com/visitrail/visitrail/pkg/retry"
)

func testConfig(url string) *config.Config {
	return &config.Config{
		WebhookEnabled:       true,
		WebhookURL:           url,
		WebhookSecret:        "s3cret",
		PageOwner:            "Alice",
		RetryMaxAttempts:     3,
		RetryInitialInterval: time.Second,
		RequestTimeout:       time.Second,
	}
}

func instantDispatcher(t *testing.T, url string) *Dispatcher {
	t.Helper()
	d := NewDispatcher(testConfig(url), zap.NewNop())
	require.NotNil(t, d)
	d.newRetry = func() *retry.Retrier {
		r := retry.New(3, time.Second)
		r.Sleep = func(time.Duration) {}
		return r
	}
	d.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return d
}

func TestDeliverySetsHeadersAndPageOwner(t *testing.T) {
	var (
		header http.Header
		body   []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := instantDispatcher(t, server.URL)
	d.SendSync(context.Background(), EventRegistration, map[string]any{"visitor_id": "v1"})

	assert.Equal(t, "application/json", header.Get("Content-Type"))
	assert.Equal(t, EventRegistration, header.Get("X-Event-Type"))
	assert.Equal(t, "1740830400000", header.Get("X-Event-Timestamp"))
	assert.Equal(t, sign("s3cret", body), header.Get("X-Event-Signature"))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, EventRegistration, decoded["event"])
	assert.Equal(t, "v1", decoded["visitor_id"])
	owner, ok := decoded["page_owner"].(map[string]any)
	require.True(t, ok, "page_owner block is always present")
	assert.Equal(t, "Alice", owner["name"])
}

func TestRetriesThenAbandonsSilently(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := instantDispatcher(t, server.URL)
	d.SendSync(context.Background(), EventVisitorNew, nil)

	assert.Equal(t, int64(3), requests.Load())
}

func TestAsyncSendEventuallyDelivers(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := instantDispatcher(t, server.URL)
	d.Send(EventVisitorNew, map[string]any{"visitor_id": "v1"})
	d.Wait()

	assert.Equal(t, int64(1), requests.Load())
}

func TestDisabledAndPlaceholderProduceNilDispatcher(t *testing.T) {
	cfg := testConfig("https://hooks.example.com")
	cfg.WebhookEnabled = false
	assert.Nil(t, NewDispatcher(cfg, zap.NewNop()))

	cfg = testConfig("https://{{WEBHOOK_URL}}")
	assert.Nil(t, NewDispatcher(cfg, zap.NewNop()))

	cfg = testConfig("")
	assert.Nil(t, NewDispatcher(cfg, zap.NewNop()))
}

func TestNilDispatcherCallsAreNoOps(t *testing.T) {
	var d *Dispatcher
	d.Send(EventVisitorNew, nil)
	d.SendSync(context.Background(), EventVisitorNew, nil)
	d.Wait()
}

func TestSignatureIsStableAndTruncated(t *testing.T) {
	payload := []byte(`{"event":"visitor_new"}`)
	sig := sign("s3cret", payload)

	assert.Equal(t, sign("s3cret", payload), sig, "same input, same signature")
	assert.LessOrEqual(t, len(sig), signatureLen)

	full := base64.StdEncoding.EncodeToString(append([]byte("s3cret"), payload...))
	assert.Equal(t, full[:signatureLen], sig)
}
