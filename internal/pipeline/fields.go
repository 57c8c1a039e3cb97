package pipeline

import (
	"time"

	"github.com/visitrail/visitrail/internal/session"
)

// Semantic field names shared by every backend. Adapters translate them to
// backend-specific column names; unmapped fields pass through unchanged.
const (
	FieldVisitorID   = "visitor_id"
	FieldSessionID   = "session_id"
	FieldReferrer    = "referrer"
	FieldInviteCode  = "invite_code"
	FieldSource      = "source"
	FieldLandingPage = "landing_page"
	FieldUTMSource   = "utm_source"
	FieldUTMMedium   = "utm_medium"
	FieldUTMCampaign = "utm_campaign"
	FieldUTMTerm     = "utm_term"
	FieldUTMContent  = "utm_content"
	FieldUserAgent   = "user_agent"
	FieldBrowser     = "browser"
	FieldPlatform    = "platform"
	FieldLanguage    = "language"
	FieldTimeOnPage  = "time_on_page"
	FieldClicks      = "clicks"
	FieldCTAClicked  = "cta_clicked"
	FieldRegistered  = "registered"
	FieldCreatedAt   = "created_at"
)

// Record is the semantic-field payload of one page-visit event record.
type Record map[string]any

// CreateRecord merges identity, device, referral and default counters into
// the payload for the initial page-view create.
func CreateRecord(s *session.Session) Record {
	return Record{
		FieldVisitorID:   s.VisitorID,
		FieldSessionID:   s.ID,
		FieldReferrer:    s.Referral.Referrer,
		FieldInviteCode:  s.Referral.InviteCode,
		FieldSource:      string(s.Referral.Source),
		FieldLandingPage: s.PageURL,
		FieldUTMSource:   s.Referral.UTM.Source,
		FieldUTMMedium:   s.Referral.UTM.Medium,
		FieldUTMCampaign: s.Referral.UTM.Campaign,
		FieldUTMTerm:     s.Referral.UTM.Term,
		FieldUTMContent:  s.Referral.UTM.Content,
		FieldUserAgent:   s.Device.UserAgent,
		FieldBrowser:     s.Device.Browser,
		FieldPlatform:    s.Device.Platform,
		FieldLanguage:    s.Device.Language,
		FieldTimeOnPage:  0,
		FieldClicks:      0,
		FieldCTAClicked:  false,
		FieldRegistered:  false,
		FieldCreatedAt:   s.StartedAt.Format(time.RFC3339),
	}
}

// translate renames semantic fields through a backend mapping table.
// Fields without a mapping keep their semantic name.
func translate(fields Record, mapping map[string]string) Record {
	if len(mapping) == 0 {
		out := make(Record, len(fields))
		for k, v := range fields {
			out[k] = v
		}
		return out
	}
	out := make(Record, len(fields))
	for k, v := range fields {
		if mapped, ok := mapping[k]; ok {
			out[mapped] = v
			continue
		}
		out[k] = v
	}
	return out
}
