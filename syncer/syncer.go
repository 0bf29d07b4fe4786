// Package syncer orchestrates fetch, merge and persist for single feeds and
// for the whole collection.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"feedbox/fetch"
	"feedbox/models"
)

// maxBatchErrors caps the error strings surfaced by one batch result.
const maxBatchErrors = 20

var (
	batchRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedbox_sync_batch_runs_total",
		Help: "Number of full-collection update runs",
	})
	feedsSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedbox_sync_feeds_succeeded_total",
		Help: "Feeds updated successfully across all runs",
	})
	feedsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedbox_sync_feeds_failed_total",
		Help: "Feed updates that failed across all runs",
	})
	articlesAdded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedbox_sync_articles_added_total",
		Help: "New articles inserted by sync runs",
	})
)

// Store is the persistence surface the engine needs.
type Store interface {
	GetFeed(ctx context.Context, id int64) (models.Feed, error)
	ListFeedsByLastSynced(ctx context.Context) ([]models.Feed, error)
	UpdateFeedAfterSync(ctx context.Context, feed models.Feed) error
	ArticleLinks(ctx context.Context, feedID int64) (map[string]struct{}, error)
	InsertArticle(ctx context.Context, article *models.Article) error
}

// Fetcher retrieves and parses a remote feed document.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) (*fetch.Document, error)
}

// IconResolver derives a representative icon URL for a feed.
type IconResolver interface {
	Resolve(ctx context.Context, declared string, candidates []string) string
}

// Notifier receives change signals after successful updates.
type Notifier interface {
	FeedsChanged()
	Progress(p models.UpdateProgress)
}

// Engine runs sync operations. Feeds are processed one at a time; this bounds
// outbound load on third-party hosts and keeps failure isolation simple.
type Engine struct {
	store    Store
	fetcher  Fetcher
	icons    IconResolver
	notifier Notifier
}

func New(store Store, fetcher Fetcher, icons IconResolver, notifier Notifier) *Engine {
	return &Engine{store: store, fetcher: fetcher, icons: icons, notifier: notifier}
}

// BuildFeed fetches a remote document and constructs a Feed plus up to
// maxArticles most-recent Articles (all when maxArticles is 0). Nothing is
// persisted; that is the caller's responsibility.
func (e *Engine) BuildFeed(ctx context.Context, feedURL string, categoryID *int64, maxArticles int) (models.Feed, []models.Article, error) {
	doc, err := e.fetcher.Fetch(ctx, feedURL)
	if err != nil {
		return models.Feed{}, nil, err
	}

	feed := models.Feed{
		CategoryID:   categoryID,
		Title:        doc.Title,
		URL:          feedURL,
		Description:  doc.Description,
		Link:         doc.Link,
		IconURL:      e.icons.Resolve(ctx, doc.ImageURL, []string{doc.Link, feedURL}),
		LastSyncedAt: time.Now(),
	}
	if feed.Title == "" {
		feed.Title = feedURL
	}

	var articles []models.Article
	seen := make(map[string]struct{})
	for _, item := range doc.Items {
		if maxArticles > 0 && len(articles) >= maxArticles {
			break
		}
		if item.Link == "" {
			continue
		}
		if _, dup := seen[item.Link]; dup {
			continue
		}
		seen[item.Link] = struct{}{}
		articles = append(articles, models.Article{
			Title:       item.Title,
			Author:      item.Author,
			Content:     item.Content,
			Link:        item.Link,
			PublishedAt: item.PublishDate,
		})
	}
	return feed, articles, nil
}

// UpdateFeed fetches the current document for a feed, refreshes the feed's
// metadata and inserts only items whose link is non-empty and not already
// stored. Existing articles are never re-inserted or mutated. Returns the
// number of newly added articles.
func (e *Engine) UpdateFeed(ctx context.Context, feed *models.Feed) (int, error) {
	doc, err := e.fetcher.Fetch(ctx, feed.URL)
	if err != nil {
		return 0, err
	}

	if doc.Title != "" {
		feed.Title = doc.Title
	}
	feed.Description = doc.Description
	if doc.Link != "" {
		feed.Link = doc.Link
	}
	feed.LastSyncedAt = time.Now()
	if err := e.store.UpdateFeedAfterSync(ctx, *feed); err != nil {
		return 0, err
	}

	links, err := e.store.ArticleLinks(ctx, feed.ID)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, item := range doc.Items {
		if item.Link == "" {
			// Malformed source item, discard rather than store.
			continue
		}
		if _, exists := links[item.Link]; exists {
			continue
		}
		article := models.Article{
			FeedID:      feed.ID,
			Title:       item.Title,
			Author:      item.Author,
			Content:     item.Content,
			Link:        item.Link,
			PublishedAt: item.PublishDate,
		}
		if err := e.store.InsertArticle(ctx, &article); err != nil {
			log.WithFields(log.Fields{
				"feed":  feed.Title,
				"link":  item.Link,
				"error": err,
			}).Error("Failed to insert article")
			continue
		}
		links[item.Link] = struct{}{}
		added++
	}

	log.WithFields(log.Fields{
		"feed":  feed.Title,
		"added": added,
	}).Info("Feed updated")
	return added, nil
}

// UpdateAll runs UpdateFeed across the whole collection, stalest feed first.
// One feed's failure never aborts the batch; the cancellation signal is
// checked between feeds. Emits a feeds-changed notification when at least
// one feed succeeded.
func (e *Engine) UpdateAll(ctx context.Context) (models.UpdateResult, error) {
	feeds, err := e.store.ListFeedsByLastSynced(ctx)
	if err != nil {
		return models.UpdateResult{}, err
	}

	batchRuns.Inc()
	result := models.UpdateResult{Total: len(feeds)}

	for i := range feeds {
		if ctx.Err() != nil {
			log.WithFields(log.Fields{
				"processed": i,
				"total":     len(feeds),
			}).Info("Batch update cancelled")
			break
		}

		feed := feeds[i]
		added, err := e.UpdateFeed(ctx, &feed)
		if err != nil {
			result.Failed++
			feedsFailed.Inc()
			if len(result.Errors) < maxBatchErrors {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", feed.Title, err))
			}
			log.WithFields(log.Fields{
				"feed":  feed.Title,
				"error": err,
			}).Error("Feed update failed, continuing batch")
		} else {
			result.Succeeded++
			result.NewArticles += added
			feedsSucceeded.Inc()
			articlesAdded.Add(float64(added))
		}

		e.notifier.Progress(models.UpdateProgress{
			Total:     result.Total,
			Processed: i + 1,
			Succeeded: result.Succeeded,
			Failed:    result.Failed,
			FeedTitle: feed.Title,
		})
	}

	if result.Succeeded > 0 {
		e.notifier.FeedsChanged()
	}

	log.WithFields(log.Fields{
		"total":     result.Total,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"added":     result.NewArticles,
	}).Info("Batch update finished")
	return result, nil
}

// UpdateFeedByID loads one feed, updates it and emits feeds-changed on
// success. The cause of a failure is logged rather than propagated.
func (e *Engine) UpdateFeedByID(ctx context.Context, id int64) bool {
	feed, err := e.store.GetFeed(ctx, id)
	if err != nil {
		log.WithFields(log.Fields{
			"id":    id,
			"error": err,
		}).Error("Failed to load feed for update")
		return false
	}
	if _, err := e.UpdateFeed(ctx, &feed); err != nil {
		log.WithFields(log.Fields{
			"feed":  feed.Title,
			"error": err,
		}).Error("Feed update failed")
		return false
	}
	e.notifier.FeedsChanged()
	return true
}
