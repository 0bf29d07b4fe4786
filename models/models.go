package models

import "time"

// Feed is a subscribed syndication source. URL is the external key used for
// duplicate detection on import.
type Feed struct {
	ID           int64     `json:"id"`
	CategoryID   *int64    `json:"categoryId,omitempty"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	Description  string    `json:"description,omitempty"`
	Link         string    `json:"link,omitempty"`
	IconURL      string    `json:"iconUrl,omitempty"`
	LastSyncedAt time.Time `json:"lastSyncedAt"`
}

// Article is one syndicated item. The (FeedID, Link) pair is unique; items
// without a link are discarded before they ever reach the store.
type Article struct {
	ID          int64     `json:"id"`
	FeedID      int64     `json:"feedId"`
	Title       string    `json:"title"`
	Author      string    `json:"author,omitempty"`
	Content     string    `json:"content,omitempty"`
	Link        string    `json:"link"`
	PublishedAt time.Time `json:"publishedAt"`
	IsRead      bool      `json:"isRead"`
	IsFavorite  bool      `json:"isFavorite"`
}

// Category groups feeds under a unique display name.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Setting is a persisted key/value configuration entry.
type Setting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// UpdateProgress is emitted once per feed during a batch update.
type UpdateProgress struct {
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	FeedTitle string `json:"feedTitle"`
}

// UpdateResult aggregates one batch update across all feeds.
type UpdateResult struct {
	Total       int      `json:"total"`
	Succeeded   int      `json:"succeeded"`
	Failed      int      `json:"failed"`
	NewArticles int      `json:"newArticles"`
	Errors      []string `json:"errors,omitempty"`
}
