package task

import (
	"net/url"
	"strings"
)

// SiteOther is the fallback site key for URLs from hosts the scheduler
// doesn't recognize. Unknown sites still get per-site exclusivity, they
// just all share one key.
const SiteOther = "other"

// knownSites maps host fragments to canonical site keys.
var knownSites = map[string]string{
	"archiveofourown.org":     "ao3",
	"fanfiction.net":          "ffnet",
	"fictionpress.com":        "fictionpress",
	"forums.spacebattles.com": "spacebattles",
	"forums.sufficientvelocity.com": "sufficientvelocity",
	"forum.questionablequesting.com": "questionablequesting",
	"royalroad.com":           "royalroad",
	"wattpad.com":             "wattpad",
}

// NormalizeSite lower-cases and trims a site key. Empty input becomes
// SiteOther so the coordinator contract (non-empty key) always holds.
func NormalizeSite(site string) string {
	s := strings.ToLower(strings.TrimSpace(site))
	if s == "" {
		return SiteOther
	}
	return s
}

// SiteForURL derives the canonical site key from a story URL. Hosts that
// aren't in the known list map to SiteOther.
func SiteForURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		// Bare "www.site.com/..." without a scheme still parses, but the
		// host lands in Path. Retry with a scheme prefixed.
		u, err = url.Parse("https://" + strings.TrimSpace(rawURL))
		if err != nil {
			return SiteOther
		}
	}

	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")

	for fragment, key := range knownSites {
		if host == fragment || strings.HasSuffix(host, "."+fragment) {
			return key
		}
	}
	return SiteOther
}
