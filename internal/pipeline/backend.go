package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/visitrail/visitrail/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotConfigured marks a backend whose endpoint or credentials still carry
// an unresolved placeholder. Delivery is skipped silently.
var ErrNotConfigured = errors.New("event backend not configured")

// Backend is the per-kind adapter behind the uniform create/update contract.
// Send returns the backend-assigned record id; on updates it echoes the id
// it was given.
type Backend interface {
	Kind() string
	Send(ctx context.Context, fields Record, recordID string, update bool) (string, error)
}

// NewBackend selects the adapter for the configured backend kind once at
// startup. It returns ErrNotConfigured when the endpoint is a placeholder and
// an error for an unknown kind.
func NewBackend(cfg *config.Config, log *zap.Logger) (Backend, error) {
	if cfg.BackendKind == "" || config.IsPlaceholder(cfg.BackendURL) {
		return nil, ErrNotConfigured
	}
	// An API key may legitimately be absent (sheetdb), but one still carrying
	// a template token means the deploy never substituted it.
	if cfg.BackendAPIKey != "" && config.IsPlaceholder(cfg.BackendAPIKey) {
		return nil, ErrNotConfigured
	}
	client := &http.Client{Timeout: cfg.RequestTimeout}
	switch cfg.BackendKind {
	case "supabase":
		return newSupabaseBackend(cfg.BackendURL, cfg.BackendAPIKey, cfg.BackendTable, client, log), nil
	case "airtable":
		return newAirtableBackend(cfg.BackendURL, cfg.BackendAPIKey, cfg.BackendTable, client, log), nil
	case "sheetdb":
		return newSheetDBBackend(cfg.BackendURL, cfg.BackendAPIKey, client, log), nil
	default:
		return nil, fmt.Errorf("unknown backend kind: %s", cfg.BackendKind)
	}
}

const maxResponseBytes = 1 << 20

// doJSON performs one HTTP exchange and returns the response body.
// Any transport failure or non-2xx status is a retryable delivery error.
func doJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d from %s %s", resp.StatusCode, method, url)
	}
	return data, nil
}
