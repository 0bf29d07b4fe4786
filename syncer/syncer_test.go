package syncer_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedbox/fetch"
	"feedbox/models"
	"feedbox/syncer"
)

type fakeStore struct {
	feeds    []models.Feed
	articles map[int64]map[string]models.Article
	synced   []int64
	listErr  error
}

func newFakeStore(feeds ...models.Feed) *fakeStore {
	return &fakeStore{feeds: feeds, articles: make(map[int64]map[string]models.Article)}
}

func (f *fakeStore) GetFeed(ctx context.Context, id int64) (models.Feed, error) {
	for _, feed := range f.feeds {
		if feed.ID == id {
			return feed, nil
		}
	}
	return models.Feed{}, models.ErrNotFound
}

func (f *fakeStore) ListFeedsByLastSynced(ctx context.Context) ([]models.Feed, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]models.Feed(nil), f.feeds...), nil
}

func (f *fakeStore) UpdateFeedAfterSync(ctx context.Context, feed models.Feed) error {
	f.synced = append(f.synced, feed.ID)
	return nil
}

func (f *fakeStore) ArticleLinks(ctx context.Context, feedID int64) (map[string]struct{}, error) {
	links := make(map[string]struct{})
	for link := range f.articles[feedID] {
		links[link] = struct{}{}
	}
	return links, nil
}

func (f *fakeStore) InsertArticle(ctx context.Context, article *models.Article) error {
	byLink, ok := f.articles[article.FeedID]
	if !ok {
		byLink = make(map[string]models.Article)
		f.articles[article.FeedID] = byLink
	}
	if _, exists := byLink[article.Link]; exists {
		return &models.PersistenceError{Op: "insert article", Err: errors.New("duplicate link")}
	}
	byLink[article.Link] = *article
	return nil
}

func (f *fakeStore) count(feedID int64) int {
	return len(f.articles[feedID])
}

type fakeFetcher struct {
	docs    map[string]*fetch.Document
	failing map[string]error
	onFetch func(feedURL string)
}

func (f *fakeFetcher) Fetch(ctx context.Context, feedURL string) (*fetch.Document, error) {
	if f.onFetch != nil {
		f.onFetch(feedURL)
	}
	if err, ok := f.failing[feedURL]; ok {
		return nil, err
	}
	doc, ok := f.docs[feedURL]
	if !ok {
		return nil, &models.FetchError{URL: feedURL, Err: errors.New("no such host")}
	}
	return doc, nil
}

type fakeIcons struct {
	url string
}

func (f *fakeIcons) Resolve(ctx context.Context, declared string, candidates []string) string {
	if declared != "" {
		return declared
	}
	return f.url
}

type fakeNotifier struct {
	feedsChanged int
	progress     []models.UpdateProgress
}

func (f *fakeNotifier) FeedsChanged() { f.feedsChanged++ }

func (f *fakeNotifier) Progress(p models.UpdateProgress) { f.progress = append(f.progress, p) }

func doc(title string, links ...string) *fetch.Document {
	d := &fetch.Document{Title: title, Link: "https://example.com"}
	for _, link := range links {
		d.Items = append(d.Items, fetch.Item{
			Title:       "item " + link,
			Link:        link,
			PublishDate: time.Now(),
		})
	}
	return d
}

func TestBuildFeed(t *testing.T) {
	fetcher := &fakeFetcher{docs: map[string]*fetch.Document{
		"https://example.com/rss": {
			Title:       "Example",
			Description: "A site",
			Link:        "https://example.com",
			ImageURL:    "https://example.com/logo.png",
			Items: []fetch.Item{
				{Title: "a", Link: "https://example.com/a"},
				{Title: "no link"},
				{Title: "a again", Link: "https://example.com/a"},
				{Title: "b", Link: "https://example.com/b"},
				{Title: "c", Link: "https://example.com/c"},
			},
		},
	}}
	engine := syncer.New(newFakeStore(), fetcher, &fakeIcons{}, &fakeNotifier{})

	feed, articles, err := engine.BuildFeed(context.Background(), "https://example.com/rss", nil, 2)
	require.NoError(t, err)

	assert.Equal(t, "Example", feed.Title)
	assert.Equal(t, "https://example.com/rss", feed.URL)
	assert.Equal(t, "https://example.com/logo.png", feed.IconURL)
	assert.False(t, feed.LastSyncedAt.IsZero())

	// Link-less and duplicate items are dropped before the cap applies.
	require.Len(t, articles, 2)
	assert.Equal(t, "https://example.com/a", articles[0].Link)
	assert.Equal(t, "https://example.com/b", articles[1].Link)
}

func TestBuildFeedTitleFallsBackToURL(t *testing.T) {
	fetcher := &fakeFetcher{docs: map[string]*fetch.Document{
		"https://example.com/rss": {},
	}}
	engine := syncer.New(newFakeStore(), fetcher, &fakeIcons{}, &fakeNotifier{})

	feed, _, err := engine.BuildFeed(context.Background(), "https://example.com/rss", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/rss", feed.Title)
}

func TestBuildFeedPropagatesFetchError(t *testing.T) {
	fetcher := &fakeFetcher{}
	engine := syncer.New(newFakeStore(), fetcher, &fakeIcons{}, &fakeNotifier{})

	_, _, err := engine.BuildFeed(context.Background(), "https://down.example.com/rss", nil, 0)
	var fetchErr *models.FetchError
	assert.ErrorAs(t, err, &fetchErr)
}

func TestUpdateFeedInsertsOnlyNewArticles(t *testing.T) {
	feed := models.Feed{ID: 1, Title: "Example", URL: "https://example.com/rss"}
	store := newFakeStore(feed)
	for _, link := range []string{"https://example.com/a", "https://example.com/b"} {
		require.NoError(t, store.InsertArticle(context.Background(), &models.Article{FeedID: 1, Link: link}))
	}

	fetcher := &fakeFetcher{docs: map[string]*fetch.Document{
		feed.URL: doc("Example", "https://example.com/a", "https://example.com/b", "https://example.com/c"),
	}}
	engine := syncer.New(store, fetcher, &fakeIcons{}, &fakeNotifier{})

	added, err := engine.UpdateFeed(context.Background(), &feed)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, 3, store.count(1))
	assert.Equal(t, []int64{1}, store.synced)
}

func TestUpdateFeedIsIdempotent(t *testing.T) {
	feed := models.Feed{ID: 1, Title: "Example", URL: "https://example.com/rss"}
	store := newFakeStore(feed)
	fetcher := &fakeFetcher{docs: map[string]*fetch.Document{
		feed.URL: doc("Example", "https://example.com/a", "https://example.com/b"),
	}}
	engine := syncer.New(store, fetcher, &fakeIcons{}, &fakeNotifier{})

	added, err := engine.UpdateFeed(context.Background(), &feed)
	require.NoError(t, err)
	assert.Equal(t, 2, added)

	added, err = engine.UpdateFeed(context.Background(), &feed)
	require.NoError(t, err)
	assert.Equal(t, 0, added)
	assert.Equal(t, 2, store.count(1))
}

func TestUpdateFeedRefreshesMetadata(t *testing.T) {
	feed := models.Feed{ID: 1, Title: "Old Title", Link: "https://old.example.com", URL: "https://example.com/rss"}
	store := newFakeStore(feed)

	t.Run("non-empty fields overwrite", func(t *testing.T) {
		fetcher := &fakeFetcher{docs: map[string]*fetch.Document{
			feed.URL: {Title: "New Title", Link: "https://example.com", Description: "fresh"},
		}}
		engine := syncer.New(store, fetcher, &fakeIcons{}, &fakeNotifier{})

		f := feed
		_, err := engine.UpdateFeed(context.Background(), &f)
		require.NoError(t, err)
		assert.Equal(t, "New Title", f.Title)
		assert.Equal(t, "https://example.com", f.Link)
		assert.Equal(t, "fresh", f.Description)
	})

	t.Run("empty title and link keep previous values", func(t *testing.T) {
		fetcher := &fakeFetcher{docs: map[string]*fetch.Document{
			feed.URL: {},
		}}
		engine := syncer.New(store, fetcher, &fakeIcons{}, &fakeNotifier{})

		f := feed
		_, err := engine.UpdateFeed(context.Background(), &f)
		require.NoError(t, err)
		assert.Equal(t, "Old Title", f.Title)
		assert.Equal(t, "https://old.example.com", f.Link)
	})
}

func TestUpdateAllToleratesFailures(t *testing.T) {
	feeds := make([]models.Feed, 5)
	docs := make(map[string]*fetch.Document)
	for i := range feeds {
		url := fmt.Sprintf("https://feed%d.example.com/rss", i+1)
		feeds[i] = models.Feed{ID: int64(i + 1), Title: fmt.Sprintf("Feed %d", i+1), URL: url}
		docs[url] = doc(feeds[i].Title, fmt.Sprintf("https://feed%d.example.com/post", i+1))
	}
	store := newFakeStore(feeds...)
	fetcher := &fakeFetcher{
		docs: docs,
		failing: map[string]error{
			feeds[2].URL: &models.FetchError{URL: feeds[2].URL, Err: errors.New("connection refused")},
		},
	}
	notifier := &fakeNotifier{}
	engine := syncer.New(store, fetcher, &fakeIcons{}, notifier)

	result, err := engine.UpdateAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 4, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 4, result.NewArticles)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Feed 3")

	assert.Equal(t, 1, notifier.feedsChanged)
	require.Len(t, notifier.progress, 5)
	last := notifier.progress[4]
	assert.Equal(t, 5, last.Processed)
	assert.Equal(t, 4, last.Succeeded)
	assert.Equal(t, 1, last.Failed)
}

func TestUpdateAllNoNotificationWithoutSuccess(t *testing.T) {
	feed := models.Feed{ID: 1, Title: "Broken", URL: "https://broken.example.com/rss"}
	store := newFakeStore(feed)
	fetcher := &fakeFetcher{failing: map[string]error{
		feed.URL: &models.FetchError{URL: feed.URL, Err: errors.New("boom")},
	}}
	notifier := &fakeNotifier{}
	engine := syncer.New(store, fetcher, &fakeIcons{}, notifier)

	result, err := engine.UpdateAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, 0, notifier.feedsChanged)
}

func TestUpdateAllStopsBetweenFeedsOnCancel(t *testing.T) {
	feeds := make([]models.Feed, 4)
	docs := make(map[string]*fetch.Document)
	for i := range feeds {
		url := fmt.Sprintf("https://feed%d.example.com/rss", i+1)
		feeds[i] = models.Feed{ID: int64(i + 1), Title: fmt.Sprintf("Feed %d", i+1), URL: url}
		docs[url] = doc(feeds[i].Title)
	}
	store := newFakeStore(feeds...)

	ctx, cancel := context.WithCancel(context.Background())
	fetched := 0
	fetcher := &fakeFetcher{docs: docs, onFetch: func(string) {
		fetched++
		if fetched == 2 {
			cancel()
		}
	}}
	engine := syncer.New(store, fetcher, &fakeIcons{}, &fakeNotifier{})

	result, err := engine.UpdateAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, fetched, "no feed should start after cancellation")
	assert.Equal(t, 4, result.Total)
	assert.LessOrEqual(t, result.Succeeded+result.Failed, result.Total)
}

func TestUpdateAllPropagatesListError(t *testing.T) {
	store := newFakeStore()
	store.listErr = &models.PersistenceError{Op: "list feeds", Err: errors.New("disk gone")}
	engine := syncer.New(store, &fakeFetcher{}, &fakeIcons{}, &fakeNotifier{})

	_, err := engine.UpdateAll(context.Background())
	var perr *models.PersistenceError
	assert.ErrorAs(t, err, &perr)
}

func TestUpdateFeedByID(t *testing.T) {
	feed := models.Feed{ID: 7, Title: "Example", URL: "https://example.com/rss"}
	store := newFakeStore(feed)
	fetcher := &fakeFetcher{docs: map[string]*fetch.Document{
		feed.URL: doc("Example", "https://example.com/a"),
	}}
	notifier := &fakeNotifier{}
	engine := syncer.New(store, fetcher, &fakeIcons{}, notifier)

	assert.True(t, engine.UpdateFeedByID(context.Background(), 7))
	assert.Equal(t, 1, notifier.feedsChanged)

	assert.False(t, engine.UpdateFeedByID(context.Background(), 99))
	assert.Equal(t, 1, notifier.feedsChanged)
}
