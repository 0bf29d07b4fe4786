// Package fetch retrieves and parses remote syndication documents into a
// canonical in-memory representation.
package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/mmcdole/gofeed"

	"feedbox/models"
)

// DefaultTimeout bounds a single feed download.
const DefaultTimeout = 10 * time.Second

// DefaultUserAgent identifies outbound requests.
const DefaultUserAgent = "feedbox/1.0 (+https://github.com/feedbox/feedbox)"

// Document is the canonical form of a parsed remote feed.
type Document struct {
	Title       string
	Description string
	Link        string
	ImageURL    string
	LastUpdated time.Time
	Items       []Item
}

// Item is one entry of a Document, in source order.
type Item struct {
	Title       string
	Author      string
	Content     string
	Link        string
	PublishDate time.Time
}

// Fetcher downloads and parses RSS 2.0 and Atom documents. The underlying
// pull parser tolerates unknown elements and performs no external entity or
// DTD resolution.
type Fetcher struct {
	parser *gofeed.Parser
}

func New(userAgent string, timeout time.Duration) *Fetcher {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	parser := gofeed.NewParser()
	parser.UserAgent = userAgent
	parser.Client = &http.Client{Timeout: timeout}
	return &Fetcher{parser: parser}
}

// Fetch downloads and parses the feed at feedURL. Network and HTTP status
// faults surface as FetchError, malformed documents as ParseError. Both are
// expected to be caught per feed by the caller.
func (f *Fetcher) Fetch(ctx context.Context, feedURL string) (*Document, error) {
	parsed, err := f.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		if isTransportError(err) {
			return nil, &models.FetchError{URL: feedURL, Err: err}
		}
		return nil, &models.ParseError{URL: feedURL, Err: err}
	}
	return toDocument(parsed), nil
}

func isTransportError(err error) bool {
	var httpErr gofeed.HTTPError
	var httpErrPtr *gofeed.HTTPError
	var urlErr *url.Error
	return errors.As(err, &httpErr) ||
		errors.As(err, &httpErrPtr) ||
		errors.As(err, &urlErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}

func toDocument(feed *gofeed.Feed) *Document {
	doc := &Document{
		Title:       feed.Title,
		Description: feed.Description,
		Link:        feed.Link,
	}
	if feed.Image != nil {
		doc.ImageURL = feed.Image.URL
	}
	if feed.UpdatedParsed != nil {
		doc.LastUpdated = *feed.UpdatedParsed
	} else if feed.PublishedParsed != nil {
		doc.LastUpdated = *feed.PublishedParsed
	}

	doc.Items = make([]Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		item := Item{
			Title: entry.Title,
			Link:  entry.Link,
			// Prefer the full-content extension element over the summary.
			Content: entry.Content,
		}
		if item.Content == "" {
			item.Content = entry.Description
		}
		if len(entry.Authors) > 0 && entry.Authors[0] != nil {
			item.Author = entry.Authors[0].Name
		} else if entry.Author != nil {
			item.Author = entry.Author.Name
		}
		// Publish date falls back to the entry's last-modified timestamp.
		if entry.PublishedParsed != nil {
			item.PublishDate = *entry.PublishedParsed
		} else if entry.UpdatedParsed != nil {
			item.PublishDate = *entry.UpdatedParsed
		}
		doc.Items = append(doc.Items, item)
	}
	return doc
}
