package device

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromRequest(t *testing.T) {
	tests := []struct {
		name         string
		userAgent    string
		acceptLang   string
		wantBrowser  string
		wantPlatform string
		wantLanguage string
	}{
		{
			name:         "chrome on windows",
			userAgent:    "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			acceptLang:   "en-US,en;q=0.9",
			wantBrowser:  "chrome",
			wantPlatform: "windows",
			wantLanguage: "en-US",
		},
		{
			name:         "safari on ios",
			userAgent:    "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			acceptLang:   "de-DE;q=0.8",
			wantBrowser:  "safari",
			wantPlatform: "ios",
			wantLanguage: "de-DE",
		},
		{
			name:         "edge on mac",
			userAgent:    "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
			wantBrowser:  "edge",
			wantPlatform: "macos",
			wantLanguage: "",
		},
		{
			name:         "firefox on android",
			userAgent:    "Mozilla/5.0 (Android 14; Mobile; rv:121.0) Gecko/121.0 Firefox/121.0",
			wantBrowser:  "firefox",
			wantPlatform: "android",
		},
		{
			name:         "empty",
			userAgent:    "",
			wantBrowser:  "unknown",
			wantPlatform: "unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/v1/pageview", nil)
			if tt.userAgent != "" {
				r.Header.Set("User-Agent", tt.userAgent)
			}
			if tt.acceptLang != "" {
				r.Header.Set("Accept-Language", tt.acceptLang)
			}
			info := FromRequest(r)
			assert.Equal(t, tt.wantBrowser, info.Browser)
			assert.Equal(t, tt.wantPlatform, info.Platform)
			assert.Equal(t, tt.wantLanguage, info.Language)
		})
	}
}
