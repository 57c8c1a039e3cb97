package pipeline

import (
	"context"
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

func instantRetrier(maxAttempts int) *retry.Retrier {
	r := retry.New(maxAttempts, time.Second)
	r.Sleep = func(time.Duration) {}
	return r
}

func newSupabaseForTest(t *testing.T, serverURL string) Backend {
	t.Helper()
	return newSupabaseBackend(serverURL, "test-key", "page_visits", &http.Client{Timeout: time.Second}, zap.NewNop())
}

func TestCreateCapturesRecordIDThenUpdateScopesToIt(t *testing.T) {
	var updatePath atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`[{"id": 42}]`))
		case http.MethodPatch:
			updatePath.Store(r.URL.String())
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer server.Close()

	p := New(newSupabaseForTest(t, server.URL), instantRetrier(3), zap.NewNop())

	p.RecordCreate("sess-1", Record{FieldVisitorID: "v1"})
	p.Wait()

	id, ok := p.RecordID("sess-1")
	require.True(t, ok)
	assert.Equal(t, "42", id)

	p.RecordUpdate("sess-1", Record{FieldClicks: 3})
	p.Wait()

	assert.Equal(t, "/rest/v1/page_visits?id=eq.42", updatePath.Load())
}

func TestUpdateBeforeCreateIsDropped(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	p := New(newSupabaseForTest(t, server.URL), instantRetrier(3), zap.NewNop())

	p.RecordUpdate("sess-1", Record{FieldClicks: 1})
	p.Wait()

	assert.Zero(t, requests.Load(), "unkeyed updates are dropped, never sent")
	_, ok := p.RecordID("sess-1")
	assert.False(t, ok)
}

func TestRetryExhaustionStopsSilently(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := New(newSupabaseForTest(t, server.URL), instantRetrier(3), zap.NewNop())

	p.RecordCreate("sess-1", Record{FieldVisitorID: "v1"})
	p.Wait()

	assert.Equal(t, int64(3), requests.Load(), "exactly the configured attempts, then silence")
	_, ok := p.RecordID("sess-1")
	assert.False(t, ok)
}

func TestCreateRetriesThenSucceeds(t *testing.T) {
	var requests atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if requests.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{"id": 7}]`))
	}))
	defer server.Close()

	p := New(newSupabaseForTest(t, server.URL), instantRetrier(3), zap.NewNop())

	p.RecordCreate("sess-1", Record{FieldVisitorID: "v1"})
	p.Wait()

	id, ok := p.RecordID("sess-1")
	require.True(t, ok)
	assert.Equal(t, "7", id)
}

func TestFlushFinalSingleAttemptNoRetry(t *testing.T) {
	var patches atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`[{"id": 9}]`))
			return
		}
		patches.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := New(newSupabaseForTest(t, server.URL), instantRetrier(3), zap.NewNop())

	p.RecordCreate("sess-1", Record{FieldVisitorID: "v1"})
	p.Wait()

	p.FlushFinal(context.Background(), "sess-1", Record{FieldTimeOnPage: 30})
	assert.Equal(t, int64(1), patches.Load(), "exit flush is fire-once")
}

func TestNilBackendSkipsSilently(t *testing.T) {
	p := New(nil, instantRetrier(3), zap.NewNop())

	p.RecordCreate("sess-1", Record{FieldVisitorID: "v1"})
	p.RecordUpdate("sess-1", Record{FieldClicks: 1})
	p.FlushFinal(context.Background(), "sess-1", Record{FieldTimeOnPage: 5})
	p.Wait()

	_, ok := p.RecordID("sess-1")
	assert.False(t, ok)
}

func TestForgetReleasesGate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`[{"id": 1}]`))
	}))
	defer server.Close()

	p := New(newSupabaseForTest(t, server.URL), instantRetrier(1), zap.NewNop())
	p.RecordCreate("sess-1", Record{})
	p.Wait()

	_, ok := p.RecordID("sess-1")
	require.True(t, ok)

	p.Forget("sess-1")
	_, ok = p.RecordID("sess-1")
	assert.False(t, ok)
}

func TestNewBackendPlaceholderNotConfigured(t *testing.T) {
	cfg := &config.Config{
		BackendKind:    "supabase",
		BackendURL:     "https://{{SUPABASE_URL}}",
		RequestTimeout: time.Second,
	}
	_, err := NewBackend(cfg, zap.NewNop())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNewBackendUnknownKind(t *testing.T) {
	cfg := &config.Config{
		BackendKind:    "carrierpigeon",
		BackendURL:     "https://example.com",
		RequestTimeout: time.Second,
	}
	_, err := NewBackend(cfg, zap.NewNop())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotConfigured)
}

func TestNewBackendKinds(t *testing.T) {
	for _, kind := range []string{"supabase", "airtable", "sheetdb"} {
		t.Run(kind, func(t *testing.T) {
			cfg := &config.Config{
				BackendKind:    kind,
				BackendURL:     "https://api.example.com",
				BackendAPIKey:  "key",
				RequestTimeout: time.Second,
			}
			b, err := NewBackend(cfg, zap.NewNop())
			require.NoError(t, err)
			assert.Equal(t, kind, b.Kind())
		})
	}
}

func TestTranslate(t *testing.T) {
	in := Record{FieldVisitorID: "v1", "custom_field": "kept"}
	out := translate(in, map[string]string{FieldVisitorID: "Visitor ID"})
	assert.Equal(t, "v1", out["Visitor ID"])
	assert.Equal(t, "kept", out["custom_field"], "unmapped fields pass through unchanged")
	assert.NotContains(t, out, FieldVisitorID)
}
