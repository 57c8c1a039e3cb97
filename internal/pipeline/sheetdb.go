package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// sheetdbFieldMap translates semantic field names to the camelCase sheet
// column headers.
var sheetdbFieldMap = map[string]string{
	FieldVisitorID:   "visitorId",
	FieldSessionID:   "sessionId",
	FieldInviteCode:  "inviteCode",
	FieldLandingPage: "landingPage",
	FieldUTMSource:   "utmSource",
	FieldUTMMedium:   "utmMedium",
	FieldUTMCampaign: "utmCampaign",
	FieldUTMTerm:     "utmTerm",
	FieldUTMContent:  "utmContent",
	FieldUserAgent:   "userAgent",
	FieldTimeOnPage:  "timeOnPage",
	FieldCTAClicked:  "ctaClicked",
	FieldRegistered:  "registered",
	FieldCreatedAt:   "createdAt",
}

// sheetdbBackend writes rows to a SheetDB-style spreadsheet API. The sheet
// cannot assign identifiers, so the adapter mints the row id itself on create
// and addresses updates via the /id/{rowId} route.
type sheetdbBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *zap.Logger
	newID   func() string
}

func newSheetDBBackend(baseURL, apiKey string, client *http.Client, log *zap.Logger) *sheetdbBackend {
	return &sheetdbBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		log:     log.With(zap.String("backend", "sheetdb")),
		newID:   func() string { return uuid.NewString() },
	}
}

func (b *sheetdbBackend) Kind() string { return "sheetdb" }

func (b *sheetdbBackend) headers() map[string]string {
	h := map[string]string{}
	if b.apiKey != "" {
		h["X-Api-Key"] = b.apiKey
	}
	return h
}

func (b *sheetdbBackend) Send(ctx context.Context, fields Record, recordID string, update bool) (string, error) {
	row := translate(fields, sheetdbFieldMap)

	if update {
		body, err := json.Marshal(map[string]any{"data": row})
		if err != nil {
			return "", fmt.Errorf("encode payload: %w", err)
		}
		endpoint := fmt.Sprintf("%s/id/%s", b.baseURL, url.PathEscape(recordID))
		if _, err := doJSON(ctx, b.client, http.MethodPatch, endpoint, b.headers(), body); err != nil {
			return "", err
		}
		return recordID, nil
	}

	rowID := b.newID()
	row["id"] = rowID
	body, err := json.Marshal(map[string]any{"data": []Record{row}})
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	if _, err := doJSON(ctx, b.client, http.MethodPost, b.baseURL, b.headers(), body); err != nil {
		return "", err
	}
	return rowID, nil
}
