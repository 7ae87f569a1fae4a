// Package htmlx extracts structured references from provider HTML pages.
// The provider has rendered the same data with several markup generations,
// so every extractor tries the known selectors in order.
package htmlx

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/lapforge/ingest/internal/timing"
)

// SessionLinks returns the absolute URLs of the session pages linked from
// an event overview page.
func SessionLinks(html string, baseURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse overview html: %w", err)
	}

	seen := map[string]struct{}{}
	var links []string
	for _, selector := range []string{"table.sessions a[href]", "a.session-link[href]", ".session-list a[href]"} {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			href, _ := sel.Attr("href")
			abs, err := resolveURL(baseURL, href)
			if err != nil {
				return
			}
			if _, dup := seen[abs]; dup {
				return
			}
			seen[abs] = struct{}{}
			links = append(links, abs)
		})
		if len(links) > 0 {
			break
		}
	}
	return links, nil
}

// ResultJSONURL finds the companion JSON result document embedded in a
// session page.
func ResultJSONURL(html string, baseURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse session html: %w", err)
	}

	if href, ok := firstAttr(doc, `link[rel="alternate"][type="application/json"]`, "href"); ok {
		return resolveURL(baseURL, href)
	}
	if href, ok := firstAttr(doc, `a[href$=".json"]`, "href"); ok {
		return resolveURL(baseURL, href)
	}
	return "", fmt.Errorf("session page has no result json link")
}

// ClubEvents parses a club events listing into lightweight refs. Rows
// without a link are skipped; rows without a parsable timestamp keep a
// zero StartsAt rather than being dropped.
func ClubEvents(html string, baseURL string) ([]timing.EventRef, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}

	var refs []timing.EventRef
	doc.Find(".event-list .event, table.events tr.event, .event-row").Each(func(_ int, sel *goquery.Selection) {
		link := sel.Find("a[href]").First()
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		abs, err := resolveURL(baseURL, href)
		if err != nil {
			return
		}

		title := strings.TrimSpace(link.Text())
		if title == "" {
			title = strings.TrimSpace(sel.Find(".event-title, .title").First().Text())
		}

		refs = append(refs, timing.EventRef{
			ProviderEventID: lastPathSegment(abs),
			Title:           title,
			StartsAt:        eventTimestamp(sel),
			URL:             abs,
		})
	})
	return refs, nil
}

func eventTimestamp(sel *goquery.Selection) time.Time {
	if dt, ok := sel.Find("time[datetime]").First().Attr("datetime"); ok {
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if ts, err := time.Parse(layout, strings.TrimSpace(dt)); err == nil {
				return ts.UTC()
			}
		}
	}
	txt := strings.TrimSpace(sel.Find(".event-date, .date").First().Text())
	if txt != "" {
		if ts, err := time.Parse("2006-01-02", txt); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

func firstAttr(doc *goquery.Document, selector, attr string) (string, bool) {
	return doc.Find(selector).First().Attr(attr)
}

func resolveURL(base, href string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	h, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	return b.ResolveReference(h).String(), nil
}

func lastPathSegment(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}
