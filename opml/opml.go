// Package opml reads and writes OPML subscription lists. Import is a tree
// walk that flattens nested outlines onto single-level categories; the
// actual feed creation goes through the sync engine once per discovered URL.
package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"
)

type document struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    head     `xml:"head"`
	Body    body     `xml:"body"`
}

type head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

type body struct {
	Outlines []outline `xml:"outline"`
}

type outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	HTMLURL  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []outline `xml:"outline,omitempty"`
}

// Entry is one feed discovered in an OPML document. Category is the name of
// the outline the feed sits under, empty for top-level feeds. Nested
// outlines collapse onto their outermost name.
type Entry struct {
	Category string
	Title    string
	URL      string
}

// Parse walks the outline tree and returns every feed it finds, in document
// order.
func Parse(r io.Reader) ([]Entry, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode opml: %w", err)
	}

	var entries []Entry
	var walk func(outlines []outline, category string)
	walk = func(outlines []outline, category string) {
		for _, o := range outlines {
			if o.XMLURL != "" {
				title := o.Title
				if title == "" {
					title = o.Text
				}
				entries = append(entries, Entry{
					Category: category,
					Title:    title,
					URL:      o.XMLURL,
				})
				continue
			}
			if len(o.Outlines) > 0 {
				name := category
				if name == "" {
					name = o.Text
					if name == "" {
						name = o.Title
					}
				}
				walk(o.Outlines, name)
			}
		}
	}
	walk(doc.Body.Outlines, "")
	return entries, nil
}

// Export renders an OPML 2.0 document grouped by category. Entries with an
// empty category land at the top level. Category order follows first
// appearance in entries.
func Export(title string, entries []Entry) ([]byte, error) {
	doc := document{
		Version: "2.0",
		Head: head{
			Title:       title,
			DateCreated: time.Now().Format(time.RFC1123Z),
		},
	}

	groups := make(map[string]*outline)
	var order []string
	for _, e := range entries {
		feed := outline{
			Text:   e.Title,
			Title:  e.Title,
			Type:   "rss",
			XMLURL: e.URL,
		}
		if e.Category == "" {
			doc.Body.Outlines = append(doc.Body.Outlines, feed)
			continue
		}
		group, ok := groups[e.Category]
		if !ok {
			group = &outline{Text: e.Category, Title: e.Category}
			groups[e.Category] = group
			order = append(order, e.Category)
		}
		group.Outlines = append(group.Outlines, feed)
	}
	for _, name := range order {
		doc.Body.Outlines = append(doc.Body.Outlines, *groups[name])
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}
