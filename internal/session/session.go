// Package session defines the per-visit context object passed to every
// component, replacing the page-global mutable state of earlier renditions.
package session

import (
	"time"

	"github.com/visitrail/visitrail/internal/attribution"
	"github.com/visitrail/visitrail/internal/device"
)

// Session describes one page visit: who the visitor is, how they were
// referred, and what device they arrived on. Exactly one event record per
// session is created at the backend and mutated afterwards.
type Session struct {
	ID        string
	VisitorID string
	StartedAt time.Time
	PageURL   string
	Referral  *attribution.ReferralState
	Device    device.Info
}

func New(id, visitorID, pageURL string, referral *attribution.ReferralState, dev device.Info) *Session {
	return &Session{
		ID:        id,
		VisitorID: visitorID,
		StartedAt: time.Now().UTC(),
		PageURL:   pageURL,
		Referral:  referral,
		Device:    dev,
	}
}
