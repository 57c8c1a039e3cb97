package referral

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/visitrail/visitrail/internal/attribution"
)

func newTestResolver() *Resolver {
	return NewResolver("site_owner", "DFLT1", zap.NewNop())
}

func persistedState() *attribution.ReferralState {
	return &attribution.ReferralState{
		Referrer:   "old_referrer",
		InviteCode: "OLD42",
		Source:     attribution.SourceCookie,
		Timestamp:  time.Now().UTC().Add(-24 * time.Hour),
		UTM:        attribution.UTM{Source: "oldsrc"},
	}
}

func TestResolveRefParam(t *testing.T) {
	r := newTestResolver()

	state := r.Resolve("https://example.com/?ref=bob", nil)
	assert.Equal(t, "bob", state.Referrer)
	assert.Equal(t, "DFLT1", state.InviteCode, "invite code falls back to the deploy default")
	assert.Equal(t, attribution.SourceURLParam, state.Source)
	assert.Equal(t, "https://example.com/?ref=bob", state.LandingPage)
}

func TestResolveScenarioRefWithUTM(t *testing.T) {
	r := newTestResolver()

	state := r.Resolve("https://example.com/?ref=bob&utm_source=newsletter", nil)
	assert.Equal(t, "bob", state.Referrer)
	assert.Equal(t, "DFLT1", state.InviteCode)
	assert.Equal(t, attribution.SourceURLParam, state.Source)
	assert.Equal(t, "newsletter", state.UTM.Source)
	assert.Empty(t, state.UTM.Medium)
}

func TestResolveURLWinsOverPersisted(t *testing.T) {
	r := newTestResolver()

	state := r.Resolve("https://example.com/?ref=bob", persistedState())
	assert.Equal(t, "bob", state.Referrer)
	// The URL pass fills missing roles from defaults, never from the old
	// persisted values.
	assert.Equal(t, "DFLT1", state.InviteCode)
	assert.Empty(t, state.UTM.Source)
}

func TestResolveUTMOnlyStillWins(t *testing.T) {
	r := newTestResolver()

	state := r.Resolve("https://example.com/?utm_campaign=launch", persistedState())
	assert.Equal(t, attribution.SourceURLParam, state.Source)
	assert.Equal(t, "launch", state.UTM.Campaign)
	assert.Equal(t, "site_owner", state.Referrer)
	assert.Equal(t, "DFLT1", state.InviteCode)
}

func TestResolveNoSignalUsesPersisted(t *testing.T) {
	r := newTestResolver()
	persisted := persistedState()

	state := r.Resolve("https://example.com/pricing", persisted)
	assert.Same(t, persisted, state, "persisted state is returned unchanged")
}

func TestResolveNoSignalNoPersistedUsesDefaults(t *testing.T) {
	r := newTestResolver()

	state := r.Resolve("https://example.com/", nil)
	assert.Equal(t, "site_owner", state.Referrer)
	assert.Equal(t, "DFLT1", state.InviteCode)
	assert.Equal(t, attribution.SourceDirect, state.Source)
	assert.Equal(t, "https://example.com/", state.LandingPage)
}

func TestResolveFromParamSharedLink(t *testing.T) {
	r := newTestResolver()

	state := r.Resolve("https://example.com/?from=alice_99", nil)
	assert.Equal(t, "alice_99", state.Referrer)
	assert.Equal(t, attribution.SourceSharedLink, state.Source)
}

func TestResolveCodeParam(t *testing.T) {
	r := newTestResolver()

	state := r.Resolve("https://example.com/?code=XY12345", nil)
	assert.Equal(t, "XY12345", state.InviteCode)
	assert.Equal(t, "site_owner", state.Referrer)
	assert.Equal(t, attribution.SourceURLParam, state.Source)
}

func TestResolveCaseInsensitiveParams(t *testing.T) {
	r := newTestResolver()

	state := r.Resolve("https://example.com/?REF=bob&UTM_Source=ads", nil)
	assert.Equal(t, "bob", state.Referrer)
	assert.Equal(t, "ads", state.UTM.Source)
}

func TestResolveMalformedValuesIgnored(t *testing.T) {
	r := newTestResolver()

	// "x" too short for either pattern, "way-too-long..." has a dash.
	state := r.Resolve("https://example.com/?ref=x&invite=way-too-long-and-dashed", persistedState())
	assert.Equal(t, "old_referrer", state.Referrer, "malformed signals fall through to persisted state")
}

func TestResolveRolesFirstMatchWins(t *testing.T) {
	r := newTestResolver()

	// "invite" appears before "referrer" in the priority list; both values
	// match the username pattern, so invite claims the referrer role first
	// and referrer's value cannot retroactively overwrite it.
	state := r.Resolve("https://example.com/?invite=first_user&referrer=second_user", nil)
	assert.Equal(t, "first_user", state.Referrer)
}

func TestResolveParamFillsOnlyOneRole(t *testing.T) {
	r := newTestResolver()

	// "abc12" matches both patterns. "invite" claims the referrer role;
	// "refcode" then fills the invite role.
	state := r.Resolve("https://example.com/?invite=abc12&refcode=ZZ999", nil)
	assert.Equal(t, "abc12", state.Referrer)
	assert.Equal(t, "ZZ999", state.InviteCode)
}

func TestResolveRefOverrideBeatsGenericPass(t *testing.T) {
	r := newTestResolver()

	// The generic pass assigns the referrer role to "invite" first, but the
	// trailing "ref" override forces it back.
	state := r.Resolve("https://example.com/?invite=other_user&ref=real_ref", nil)
	assert.Equal(t, "real_ref", state.Referrer)
}

func TestResolveUnparseableURL(t *testing.T) {
	r := newTestResolver()

	state := r.Resolve("://not a url", persistedState())
	require.NotNil(t, state)
	assert.Equal(t, "old_referrer", state.Referrer)
}

func TestPatterns(t *testing.T) {
	tests := []struct {
		value        string
		wantReferrer bool
		wantInvite   bool
	}{
		{"bob", true, false},
		{"bob_smith_2024", true, false},
		{"ab", false, false},
		{"ABC12", true, true},
		{"A1B2C3D4", true, true},
		{"A1B2C3D45", true, false}, // 9 chars: too long for a code
		{"has-dash", false, false},
		{"under_s", true, false}, // underscore disqualifies the code role
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.wantReferrer, referrerPattern.MatchString(tt.value))
			assert.Equal(t, tt.wantInvite, invitePattern.MatchString(tt.value))
		})
	}
}
