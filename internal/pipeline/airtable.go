package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// airtableFieldMap translates semantic field names to Airtable column labels.
var airtableFieldMap = map[string]string{
	FieldVisitorID:   "Visitor ID",
	FieldSessionID:   "Session ID",
	FieldReferrer:    "Referrer",
	FieldInviteCode:  "Invite Code",
	FieldSource:      "Source",
	FieldLandingPage: "Landing Page",
	FieldUTMSource:   "UTM Source",
	FieldUTMMedium:   "UTM Medium",
	FieldUTMCampaign: "UTM Campaign",
	FieldUTMTerm:     "UTM Term",
	FieldUTMContent:  "UTM Content",
	FieldUserAgent:   "User Agent",
	FieldBrowser:     "Browser",
	FieldPlatform:    "Platform",
	FieldLanguage:    "Language",
	FieldTimeOnPage:  "Time On Page",
	FieldClicks:      "Clicks",
	FieldCTAClicked:  "CTA Clicked",
	FieldRegistered:  "Registered",
	FieldCreatedAt:   "Created At",
}

// airtableBackend posts records to the Airtable REST API. The base URL points
// at the base (https://api.airtable.com/v0/{baseId}); records are wrapped in
// a "fields" object and keyed by the "rec..." id Airtable assigns.
type airtableBackend struct {
	baseURL string
	apiKey  string
	table   string
	client  *http.Client
	log     *zap.Logger
}

func newAirtableBackend(baseURL, apiKey, table string, client *http.Client, log *zap.Logger) *airtableBackend {
	if table == "" {
		table = "PageVisits"
	}
	return &airtableBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		table:   table,
		client:  client,
		log:     log.With(zap.String("backend", "airtable")),
	}
}

func (b *airtableBackend) Kind() string { return "airtable" }

func (b *airtableBackend) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + b.apiKey}
}

func (b *airtableBackend) Send(ctx context.Context, fields Record, recordID string, update bool) (string, error) {
	body, err := json.Marshal(map[string]any{"fields": translate(fields, airtableFieldMap)})
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	if update {
		endpoint := fmt.Sprintf("%s/%s/%s", b.baseURL, url.PathEscape(b.table), url.PathEscape(recordID))
		if _, err := doJSON(ctx, b.client, http.MethodPatch, endpoint, b.headers(), body); err != nil {
			return "", err
		}
		return recordID, nil
	}

	endpoint := fmt.Sprintf("%s/%s", b.baseURL, url.PathEscape(b.table))
	resp, err := doJSON(ctx, b.client, http.MethodPost, endpoint, b.headers(), body)
	if err != nil {
		return "", err
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &created); err != nil || created.ID == "" {
		return "", fmt.Errorf("parse created record: %w", err)
	}
	return created.ID, nil
}
