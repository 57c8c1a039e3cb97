package referral

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/visitrail/visitrail/internal/attribution"
)

// Candidate referral values must look like usernames, invite codes like short
// alphanumeric vouchers. The patterns are disjoint in practice: usernames
// allow underscore, codes do not. Values matching neither are ignored.
var (
	referrerPattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)
	invitePattern   = regexp.MustCompile(`^[A-Za-z0-9]{5,8}$`)
)

// paramPriority is the fixed scan order for candidate referral parameters.
var paramPriority = []string{"ref", "code", "invite", "referrer", "from", "invitecode", "refcode"}

// Resolver turns the current page URL plus previously persisted state into
// exactly one ReferralState per page view.
type Resolver struct {
	defaultReferrer   string
	defaultInviteCode string
	log               *zap.Logger
}

func NewResolver(defaultReferrer, defaultInviteCode string, log *zap.Logger) *Resolver {
	return &Resolver{
		defaultReferrer:   defaultReferrer,
		defaultInviteCode: defaultInviteCode,
		log:               log.With(zap.String("module", "referral")),
	}
}

// Resolve applies the precedence order: URL signals win outright, then
// persisted state, then the deploy-time defaults.
func (r *Resolver) Resolve(pageURL string, persisted *attribution.ReferralState) *attribution.ReferralState {
	params := parseQueryParams(pageURL)

	referrer, inviteCode, shared := scanCandidates(params)
	utm := extractUTM(params)

	if referrer != "" || inviteCode != "" || !utm.Empty() {
		state := &attribution.ReferralState{
			Referrer:    referrer,
			InviteCode:  inviteCode,
			Source:      attribution.SourceURLParam,
			Timestamp:   time.Now().UTC(),
			LandingPage: pageURL,
			UTM:         utm,
		}
		if shared {
			state.Source = attribution.SourceSharedLink
		}
		// Roles the URL did not fill fall back to the deploy-time defaults,
		// never to the previously persisted values.
		if state.Referrer == "" {
			state.Referrer = r.defaultReferrer
		}
		if state.InviteCode == "" {
			state.InviteCode = r.defaultInviteCode
		}
		r.log.Debug("attribution resolved from url",
			zap.String("referrer", state.Referrer),
			zap.String("invite_code", state.InviteCode),
			zap.String("source", string(state.Source)),
		)
		return state
	}

	if persisted != nil {
		return persisted
	}

	state := attribution.Default(r.defaultReferrer, r.defaultInviteCode)
	state.LandingPage = pageURL
	return state
}

// scanCandidates runs the generic priority pass and then the special-case
// overrides. Each role is first-match-wins and a given parameter fills at
// most one role.
func scanCandidates(params map[string]string) (referrer, inviteCode string, shared bool) {
	for _, name := range paramPriority {
		v, ok := params[name]
		if !ok || v == "" {
			continue
		}
		if referrer == "" && referrerPattern.MatchString(v) {
			referrer = v
			continue
		}
		if inviteCode == "" && invitePattern.MatchString(v) {
			inviteCode = v
		}
	}

	// Special-case overrides after the generic pass.
	if v := params["ref"]; v != "" && referrerPattern.MatchString(v) {
		referrer = v
	}
	if v := params["code"]; v != "" && invitePattern.MatchString(v) {
		inviteCode = v
	}
	if v := params["from"]; v != "" && referrerPattern.MatchString(v) {
		referrer = v
		shared = true
	}
	return referrer, inviteCode, shared
}

func extractUTM(params map[string]string) attribution.UTM {
	return attribution.UTM{
		Source:   params["utm_source"],
		Medium:   params["utm_medium"],
		Campaign: params["utm_campaign"],
		Term:     params["utm_term"],
		Content:  params["utm_content"],
	}
}

// parseQueryParams lowercases parameter names so matching is
// case-insensitive. The first occurrence of a name wins. A URL that cannot
// be parsed yields no candidates rather than an error.
func parseQueryParams(pageURL string) map[string]string {
	params := map[string]string{}
	u, err := url.Parse(pageURL)
	if err != nil {
		return params
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return params
	}
	for name, vals := range values {
		name = strings.ToLower(name)
		if _, exists := params[name]; exists || len(vals) == 0 {
			continue
		}
		params[name] = vals[0]
	}
	return params
}
