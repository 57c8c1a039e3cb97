package attribution

import (
	"time"
)

// Source describes where the winning referral signal came from.
type Source string

const (
	SourceDirect     Source = "direct"
	SourceURLParam   Source = "url_param"
	SourceSharedLink Source = "shared_link"
	SourceCookie     Source = "cookie"
)

// UTM holds the five standard campaign parameters. Absent parameters stay
// empty; they never gate attribution.
type UTM struct {
	Source   string `json:"source,omitempty"`
	Medium   string `json:"medium,omitempty"`
	Campaign string `json:"campaign,omitempty"`
	Term     string `json:"term,omitempty"`
	Content  string `json:"content,omitempty"`
}

// Empty reports whether no UTM parameter is set.
func (u UTM) Empty() bool {
	return u == UTM{}
}

// ReferralState is the resolved claim of which referrer/invite code should
// receive credit for a visitor. Computed once per page view and persisted to
// the store chain.
type ReferralState struct {
	Referrer    string    `json:"referrer,omitempty"`
	InviteCode  string    `json:"invite_code,omitempty"`
	Source      Source    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
	LandingPage string    `json:"landing_page,omitempty"`
	UTM         UTM       `json:"utm"`
}

// Default returns the deploy-time baseline used when neither the URL nor any
// persisted store carries a signal.
func Default(referrer, inviteCode string) *ReferralState {
	return &ReferralState{
		Referrer:   referrer,
		InviteCode: inviteCode,
		Source:     SourceDirect,
		Timestamp:  time.Now().UTC(),
	}
}
