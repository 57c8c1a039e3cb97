package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// supabaseBackend talks PostgREST: rows are created with POST and patched
// with a filter on the assigned numeric id (?id=eq.{id}). Columns already use
// the semantic snake_case names, so no field mapping is needed.
type supabaseBackend struct {
	baseURL string
	apiKey  string
	table   string
	client  *http.Client
	log     *zap.Logger
}

func newSupabaseBackend(baseURL, apiKey, table string, client *http.Client, log *zap.Logger) *supabaseBackend {
	if table == "" {
		table = "page_visits"
	}
	return &supabaseBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		table:   table,
		client:  client,
		log:     log.With(zap.String("backend", "supabase")),
	}
}

func (b *supabaseBackend) Kind() string { return "supabase" }

func (b *supabaseBackend) headers(prefer string) map[string]string {
	return map[string]string{
		"apikey":        b.apiKey,
		"Authorization": "Bearer " + b.apiKey,
		"Prefer":        prefer,
	}
}

func (b *supabaseBackend) Send(ctx context.Context, fields Record, recordID string, update bool) (string, error) {
	body, err := json.Marshal(translate(fields, nil))
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	if update {
		endpoint := fmt.Sprintf("%s/rest/v1/%s?id=eq.%s", b.baseURL, b.table, url.QueryEscape(recordID))
		if _, err := doJSON(ctx, b.client, http.MethodPatch, endpoint, b.headers("return=minimal"), body); err != nil {
			return "", err
		}
		return recordID, nil
	}

	endpoint := fmt.Sprintf("%s/rest/v1/%s", b.baseURL, b.table)
	resp, err := doJSON(ctx, b.client, http.MethodPost, endpoint, b.headers("return=representation"), body)
	if err != nil {
		return "", err
	}

	// return=representation yields the inserted rows as a JSON array.
	var rows []map[string]any
	if err := json.Unmarshal(resp, &rows); err != nil || len(rows) == 0 {
		return "", fmt.Errorf("parse created row: %w", err)
	}
	id, ok := rows[0]["id"]
	if !ok {
		return "", fmt.Errorf("created row has no id")
	}
	return formatRecordID(id), nil
}

// formatRecordID renders a backend id of any JSON scalar type as a string.
// PostgREST returns numeric ids as JSON numbers.
func formatRecordID(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
