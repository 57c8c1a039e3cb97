package device

import (
	"net/http"
	"strings"
)

// Info is the device block attached to every created event record.
type Info struct {
	UserAgent string `json:"user_agent"`
	Browser   string `json:"browser"`
	Platform  string `json:"platform"`
	Language  string `json:"language"`
}

// FromRequest derives device info from the ingest request headers.
func FromRequest(r *http.Request) Info {
	ua := r.UserAgent()
	return Info{
		UserAgent: ua,
		Browser:   browserFamily(ua),
		Platform:  platformFamily(ua),
		Language:  primaryLanguage(r.Header.Get("Accept-Language")),
	}
}

// browserFamily is a coarse classification, enough for the analytics payload.
// Order matters: Edge and Opera embed "Chrome", Chrome embeds "Safari".
func browserFamily(ua string) string {
	switch {
	case ua == "":
		return "unknown"
	case strings.Contains(ua, "Edg/"):
		return "edge"
	case strings.Contains(ua, "OPR/"):
		return "opera"
	case strings.Contains(ua, "Chrome/"):
		return "chrome"
	case strings.Contains(ua, "Firefox/"):
		return "firefox"
	case strings.Contains(ua, "Safari/"):
		return "safari"
	default:
		return "other"
	}
}

func platformFamily(ua string) string {
	switch {
	case ua == "":
		return "unknown"
	case strings.Contains(ua, "Android"):
		return "android"
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"):
		return "ios"
	case strings.Contains(ua, "Windows"):
		return "windows"
	case strings.Contains(ua, "Mac OS X"):
		return "macos"
	case strings.Contains(ua, "Linux"):
		return "linux"
	default:
		return "other"
	}
}

// primaryLanguage extracts the first tag of an Accept-Language header.
func primaryLanguage(header string) string {
	if header == "" {
		return ""
	}
	first := header
	if i := strings.IndexByte(first, ','); i >= 0 {
		first = first[:i]
	}
	if i := strings.IndexByte(first, ';'); i >= 0 {
		first = first[:i]
	}
	return strings.TrimSpace(first)
}
