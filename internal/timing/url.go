package timing

import (
	"net/url"
	"strings"
)

// URLKind distinguishes JSON result documents from HTML pages.
type URLKind string

// Provider URL kinds.
const (
	URLKindJSON URLKind = "json"
	URLKindHTML URLKind = "html"
)

// ParsedURL is the canonical, typed form of a provider results URL. The
// last four path segments are positional slugs; everything before them is
// the results base, which may include an arbitrary deployment prefix.
type ParsedURL struct {
	Kind              URLKind
	ResultsBaseURL    string
	CanonicalJSONPath string
	EventSlug         string
	ClassSlug         string
	RoundSlug         string
	RaceSlug          string
}

// Slugs returns the positional slugs in path order.
func (p ParsedURL) Slugs() []string {
	return []string{p.EventSlug, p.ClassSlug, p.RoundSlug, p.RaceSlug}
}

// JSONURL returns the absolute URL of the companion JSON document.
func (p ParsedURL) JSONURL() string {
	u, err := url.Parse(p.ResultsBaseURL)
	if err != nil {
		return p.ResultsBaseURL + p.CanonicalJSONPath
	}
	u.Path = p.CanonicalJSONPath
	return u.String()
}

// ParseProviderURL resolves a provider results URL into its canonical
// form. The JSON variant always canonicalizes to a path ending in .json.
func ParseProviderURL(raw string) (ParsedURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return ParsedURL{}, &URLParseError{Raw: raw, Reason: err.Error()}
	}
	if u.Scheme == "" || u.Host == "" {
		return ParsedURL{}, &URLParseError{Raw: raw, Reason: "missing scheme or host"}
	}

	segments := splitPath(u.Path)
	if len(segments) < 4 {
		return ParsedURL{}, &URLParseError{Raw: raw, Reason: "path too short for event/class/round/race slugs"}
	}

	slugs := segments[len(segments)-4:]
	base := segments[:len(segments)-4]

	kind := URLKindHTML
	raceSlug := slugs[3]
	if strings.HasSuffix(strings.ToLower(raceSlug), ".json") {
		kind = URLKindJSON
		raceSlug = raceSlug[:len(raceSlug)-len(".json")]
	}
	if raceSlug == "" {
		return ParsedURL{}, &URLParseError{Raw: raw, Reason: "empty race slug"}
	}

	basePath := ""
	if len(base) > 0 {
		basePath = "/" + strings.Join(base, "/")
	}
	baseURL := url.URL{Scheme: strings.ToLower(u.Scheme), Host: strings.ToLower(u.Host), Path: basePath}

	jsonPath := basePath + "/" + strings.Join([]string{slugs[0], slugs[1], slugs[2], raceSlug + ".json"}, "/")

	return ParsedURL{
		Kind:              kind,
		ResultsBaseURL:    baseURL.String(),
		CanonicalJSONPath: jsonPath,
		EventSlug:         slugs[0],
		ClassSlug:         slugs[1],
		RoundSlug:         slugs[2],
		RaceSlug:          raceSlug,
	}, nil
}

func splitPath(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}
