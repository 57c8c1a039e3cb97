// Package linkrewrite propagates resolved attribution onto outbound
// registration links in HTML fragments, so the downstream registration
// endpoint receives it.
package linkrewrite

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/visitrail/visitrail/internal/attribution"
)

// Attribution query parameters appended to registration URLs.
const (
	paramRecomID  = "recomId"
	paramReferrer = "referrer"
	paramSource   = "source"
)

// onclickURL matches a quoted URL assigned to a location navigation inside an
// inline click handler.
var onclickURL = regexp.MustCompile(`(location(?:\.href)?\s*=\s*)(['"])([^'"]+)(['"])`)

// Rewriter tags registration links with the resolved attribution. Only links
// pointing at an allow-listed registration host are touched; everything else
// passes through byte-for-byte semantics intact.
type Rewriter struct {
	hosts map[string]struct{}
	log   *zap.Logger
}

// New builds a rewriter for the given registration hosts. Host matching is
// case-insensitive and ignores a leading "www.".
func New(hosts []string, log *zap.Logger) *Rewriter {
	allowed := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		allowed[normalizeHost(h)] = struct{}{}
	}
	return &Rewriter{
		hosts: allowed,
		log:   log.With(zap.String("module", "linkrewrite")),
	}
}

// Rewrite applies attribution to every registration link in the fragment:
// href targets, data-signup-url attributes, and URLs embedded in inline
// onclick navigation. Safe to re-run on content that was already rewritten;
// existing attribution params are replaced, never duplicated.
func (rw *Rewriter) Rewrite(fragment string, state *attribution.ReferralState) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return "", err
	}

	rewritten := 0
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		if next, ok := rw.rewriteURL(href, state); ok {
			sel.SetAttr("href", next)
			rewritten++
		}
	})
	doc.Find("[data-signup-url]").Each(func(_ int, sel *goquery.Selection) {
		target, _ := sel.Attr("data-signup-url")
		if next, ok := rw.rewriteURL(target, state); ok {
			sel.SetAttr("data-signup-url", next)
			rewritten++
		}
	})
	doc.Find("[onclick]").Each(func(_ int, sel *goquery.Selection) {
		handler, _ := sel.Attr("onclick")
		next := onclickURL.ReplaceAllStringFunc(handler, func(match string) string {
			parts := onclickURL.FindStringSubmatch(match)
			target, ok := rw.rewriteURL(parts[3], state)
			if !ok {
				return match
			}
			rewritten++
			return parts[1] + parts[2] + target + parts[4]
		})
		if next != handler {
			sel.SetAttr("onclick", next)
		}
	})

	if rewritten > 0 {
		rw.log.Debug("registration links rewritten", zap.Int("count", rewritten))
	}

	// goquery wraps fragments in a full document; return the body contents.
	return doc.Find("body").Html()
}

// rewriteURL returns the URL with attribution params applied, or ok=false if
// the URL does not point at a registration host.
func (rw *Rewriter) rewriteURL(raw string, state *attribution.ReferralState) (string, bool) {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", false
	}
	if _, ok := rw.hosts[normalizeHost(parsed.Hostname())]; !ok {
		return "", false
	}

	q := parsed.Query()
	q.Set(paramRecomID, state.InviteCode)
	q.Set(paramReferrer, state.Referrer)
	q.Set(paramSource, string(state.Source))
	parsed.RawQuery = q.Encode()
	return parsed.String(), true
}

func normalizeHost(h string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(h)), "www.")
}
