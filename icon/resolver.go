// Package icon resolves a best-effort representative icon URL for a feed
// through a layered fallback heuristic. Every network step here downgrades
// silently to the next fallback.
package icon

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

const (
	htmlTimeout  = 10 * time.Second
	probeTimeout = 5 * time.Second
	maxHTMLBytes = 1 << 20
)

var (
	errUnsupportedScheme = errors.New("unsupported scheme")
	errBadStatus         = errors.New("bad response status")
)

// Matcher locates an icon reference inside a parsed HTML document.
// Matchers run in a fixed priority order, first match wins.
type Matcher struct {
	Name string
	Find func(doc *goquery.Document) (string, bool)
}

// DefaultMatchers is the standard matcher list, in priority order.
var DefaultMatchers = []Matcher{
	{Name: "link-icon", Find: findLinkRel("icon", "shortcut icon")},
	{Name: "apple-touch-icon", Find: findLinkRel("apple-touch-icon")},
	{Name: "og-image", Find: findMetaProperty("og:image")},
}

func findLinkRel(rels ...string) func(*goquery.Document) (string, bool) {
	return func(doc *goquery.Document) (string, bool) {
		var href string
		doc.Find("link[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			rel := strings.ToLower(strings.TrimSpace(s.AttrOr("rel", "")))
			for _, want := range rels {
				if rel == want {
					href = strings.TrimSpace(s.AttrOr("href", ""))
					if href != "" {
						return false
					}
				}
			}
			return true
		})
		return href, href != ""
	}
}

func findMetaProperty(property string) func(*goquery.Document) (string, bool) {
	return func(doc *goquery.Document) (string, bool) {
		var content string
		doc.Find("meta[content]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if strings.EqualFold(strings.TrimSpace(s.AttrOr("property", "")), property) {
				content = strings.TrimSpace(s.AttrOr("content", ""))
				if content != "" {
					return false
				}
			}
			return true
		})
		return content, content != ""
	}
}

// Resolver implements the icon resolution heuristic.
type Resolver struct {
	client    *http.Client
	probe     *http.Client
	matchers  []Matcher
	userAgent string
}

func New(userAgent string) *Resolver {
	return &Resolver{
		client:    &http.Client{Timeout: htmlTimeout},
		probe:     &http.Client{Timeout: probeTimeout},
		matchers:  DefaultMatchers,
		userAgent: userAgent,
	}
}

// Resolve returns an icon URL for a feed, or "" when nothing can be derived.
// Order: the feed-declared image wins outright; then each candidate link's
// HTML is scanned with the matcher list; then each candidate's
// /favicon.ico is probed with a HEAD request; finally the first candidate's
// /favicon.ico is returned unverified.
func (r *Resolver) Resolve(ctx context.Context, declared string, candidates []string) string {
	if declared != "" {
		return declared
	}

	links := lo.Uniq(lo.Filter(candidates, func(link string, _ int) bool {
		return link != ""
	}))
	if len(links) == 0 {
		return ""
	}

	for _, link := range links {
		if found := r.scanPage(ctx, link); found != "" {
			return found
		}
	}

	for _, link := range links {
		root := faviconURL(link)
		if root != "" && r.probeOK(ctx, root) {
			return root
		}
	}

	return faviconURL(links[0])
}

// scanPage fetches a page and runs the matcher list against it.
func (r *Resolver) scanPage(ctx context.Context, pageURL string) string {
	doc, base, err := r.fetchHTML(ctx, pageURL)
	if err != nil {
		log.WithFields(log.Fields{
			"url":   pageURL,
			"error": err,
		}).Debug("Icon page fetch failed, trying next fallback")
		return ""
	}
	for _, m := range r.matchers {
		if ref, ok := m.Find(doc); ok {
			if resolved := Normalize(ref, base); resolved != "" {
				log.WithFields(log.Fields{
					"matcher": m.Name,
					"icon":    resolved,
				}).Debug("Icon matched in page")
				return resolved
			}
		}
	}
	return ""
}

func (r *Resolver) fetchHTML(ctx context.Context, pageURL string) (*goquery.Document, *url.URL, error) {
	if !isHTTP(pageURL) {
		return nil, nil, errUnsupportedScheme
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, nil, errBadStatus
	}
	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxHTMLBytes))
	if err != nil {
		return nil, nil, err
	}
	// Redirects move the base URI along with the page.
	return doc, resp.Request.URL, nil
}

func (r *Resolver) probeOK(ctx context.Context, probeURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, probeURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.probe.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 400
}

// Normalize resolves an icon reference found in HTML against the page base:
// protocol-relative references take the page scheme, root-relative and
// relative paths resolve against the base URI, absolute URLs pass through.
func Normalize(ref string, base *url.URL) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if parsed.IsAbs() {
		return ref
	}
	if base == nil {
		return ""
	}
	return base.ResolveReference(parsed).String()
}

func faviconURL(link string) string {
	parsed, err := url.Parse(link)
	if err != nil || parsed.Host == "" || !isHTTPScheme(parsed.Scheme) {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host + "/favicon.ico"
}

func isHTTP(raw string) bool {
	parsed, err := url.Parse(raw)
	return err == nil && isHTTPScheme(parsed.Scheme)
}

func isHTTPScheme(scheme string) bool {
	return scheme == "http" || scheme == "https"
}
