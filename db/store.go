package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	log "github.com/sirupsen/logrus"

	"feedbox/models"
)

// Store handles all database operations with a shared connection pool.
type Store struct {
	db *sql.DB
}

// Open connects to the SQLite database at the given path.
func Open(database string) (*Store, error) {
	db, err := connection(database)
	if err != nil {
		return nil, &models.PersistenceError{Op: "open", Err: err}
	}
	if err := db.Ping(); err != nil {
		return nil, &models.PersistenceError{Op: "ping", Err: err}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Category operations

func (s *Store) GetOrCreateCategory(ctx context.Context, name string) (models.Category, error) {
	var cat models.Category
	err := s.db.QueryRowContext(ctx, "SELECT id, name FROM categories WHERE name = ?", name).
		Scan(&cat.ID, &cat.Name)
	if err == nil {
		return cat, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return cat, &models.PersistenceError{Op: "get category", Err: err}
	}

	insert := sqlbuilder.NewInsertBuilder()
	query, args := insert.InsertInto("categories").Cols("name").Values(name).Build()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return cat, &models.PersistenceError{Op: "create category", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return cat, &models.PersistenceError{Op: "create category", Err: err}
	}
	return models.Category{ID: id, Name: name}, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM categories ORDER BY name")
	if err != nil {
		return nil, &models.PersistenceError{Op: "list categories", Err: err}
	}
	defer rows.Close()

	var cats []models.Category
	for rows.Next() {
		var cat models.Category
		if err := rows.Scan(&cat.ID, &cat.Name); err != nil {
			return nil, &models.PersistenceError{Op: "scan category", Err: err}
		}
		cats = append(cats, cat)
	}
	return cats, rows.Err()
}

func (s *Store) RenameCategory(ctx context.Context, id int64, name string) error {
	update := sqlbuilder.NewUpdateBuilder()
	query, args := update.Update("categories").
		Set(update.Assign("name", name)).
		Where(update.Equal("id", id)).Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &models.PersistenceError{Op: "rename category", Err: err}
	}
	return nil
}

// DeleteCategory removes a category. Its feeds and their articles cascade.
func (s *Store) DeleteCategory(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM categories WHERE id = ?", id); err != nil {
		return &models.PersistenceError{Op: "delete category", Err: err}
	}
	return nil
}

// Feed operations

func (s *Store) CreateFeed(ctx context.Context, feed *models.Feed) error {
	log.WithFields(log.Fields{
		"url":   feed.URL,
		"title": feed.Title,
	}).Info("Creating feed")

	insert := sqlbuilder.NewInsertBuilder()
	query, args := insert.InsertInto("feeds").
		Cols("category_id", "title", "url", "description", "link", "icon_url", "last_synced_at").
		Values(feed.CategoryID, feed.Title, feed.URL, feed.Description, feed.Link, feed.IconURL, unix(feed.LastSyncedAt)).
		Build()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return &models.PersistenceError{Op: "create feed", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return &models.PersistenceError{Op: "create feed", Err: err}
	}
	feed.ID = id
	return nil
}

const feedColumns = "id, category_id, title, url, description, link, icon_url, last_synced_at"

func scanFeed(row interface{ Scan(...any) error }) (models.Feed, error) {
	var feed models.Feed
	var synced int64
	err := row.Scan(&feed.ID, &feed.CategoryID, &feed.Title, &feed.URL,
		&feed.Description, &feed.Link, &feed.IconURL, &synced)
	if err != nil {
		return feed, err
	}
	if synced != 0 {
		feed.LastSyncedAt = time.Unix(synced, 0)
	}
	return feed, nil
}

func (s *Store) GetFeed(ctx context.Context, id int64) (models.Feed, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+feedColumns+" FROM feeds WHERE id = ?", id)
	feed, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return feed, models.ErrNotFound
	}
	if err != nil {
		return feed, &models.PersistenceError{Op: "get feed", Err: err}
	}
	return feed, nil
}

func (s *Store) GetFeedByURL(ctx context.Context, url string) (models.Feed, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+feedColumns+" FROM feeds WHERE url = ?", url)
	feed, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return feed, models.ErrNotFound
	}
	if err != nil {
		return feed, &models.PersistenceError{Op: "get feed by url", Err: err}
	}
	return feed, nil
}

// ListFeedsByLastSynced returns all feeds, stalest first.
func (s *Store) ListFeedsByLastSynced(ctx context.Context) ([]models.Feed, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+feedColumns+" FROM feeds ORDER BY last_synced_at ASC, id ASC")
	if err != nil {
		return nil, &models.PersistenceError{Op: "list feeds", Err: err}
	}
	defer rows.Close()

	var feeds []models.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, &models.PersistenceError{Op: "scan feed", Err: err}
		}
		feeds = append(feeds, feed)
	}
	return feeds, rows.Err()
}

// UpdateFeedAfterSync refreshes the metadata a sync run is allowed to touch.
func (s *Store) UpdateFeedAfterSync(ctx context.Context, feed models.Feed) error {
	update := sqlbuilder.NewUpdateBuilder()
	query, args := update.Update("feeds").
		Set(
			update.Assign("title", feed.Title),
			update.Assign("description", feed.Description),
			update.Assign("link", feed.Link),
			update.Assign("icon_url", feed.IconURL),
			update.Assign("last_synced_at", unix(feed.LastSyncedAt)),
		).
		Where(update.Equal("id", feed.ID)).Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &models.PersistenceError{Op: "update feed", Err: err}
	}
	return nil
}

func (s *Store) SetFeedCategory(ctx context.Context, feedID int64, categoryID *int64) error {
	update := sqlbuilder.NewUpdateBuilder()
	query, args := update.Update("feeds").
		Set(update.Assign("category_id", categoryID)).
		Where(update.Equal("id", feedID)).Build()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return &models.PersistenceError{Op: "set feed category", Err: err}
	}
	return nil
}

// DeleteFeed removes a feed. Its articles cascade.
func (s *Store) DeleteFeed(ctx context.Context, id int64) error {
	log.WithFields(log.Fields{"id": id}).Info("Deleting feed")
	if _, err := s.db.ExecContext(ctx, "DELETE FROM feeds WHERE id = ?", id); err != nil {
		return &models.PersistenceError{Op: "delete feed", Err: err}
	}
	return nil
}

// Article operations

func (s *Store) InsertArticle(ctx context.Context, article *models.Article) error {
	insert := sqlbuilder.NewInsertBuilder()
	query, args := insert.InsertInto("articles").
		Cols("feed_id", "title", "author", "content", "link", "published_at", "is_read", "is_favorite").
		Values(article.FeedID, article.Title, article.Author, article.Content,
			article.Link, unix(article.PublishedAt), article.IsRead, article.IsFavorite).
		Build()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return &models.PersistenceError{Op: "insert article", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return &models.PersistenceError{Op: "insert article", Err: err}
	}
	article.ID = id
	return nil
}

// ArticleLinks returns the set of links already stored for a feed, used for
// batched existence checks during a sync run.
func (s *Store) ArticleLinks(ctx context.Context, feedID int64) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT link FROM articles WHERE feed_id = ?", feedID)
	if err != nil {
		return nil, &models.PersistenceError{Op: "article links", Err: err}
	}
	defer rows.Close()

	links := make(map[string]struct{})
	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			return nil, &models.PersistenceError{Op: "scan link", Err: err}
		}
		links[link] = struct{}{}
	}
	return links, rows.Err()
}

func (s *Store) ListArticles(ctx context.Context, feedID int64, limit int) ([]models.Article, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select("id", "feed_id", "title", "author", "content", "link", "published_at", "is_read", "is_favorite").
		From("articles").
		Where(sb.Equal("feed_id", feedID)).
		OrderBy("published_at").Desc()
	if limit > 0 {
		sb.Limit(limit)
	}
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &models.PersistenceError{Op: "list articles", Err: err}
	}
	defer rows.Close()

	var articles []models.Article
	for rows.Next() {
		var a models.Article
		var published int64
		if err := rows.Scan(&a.ID, &a.FeedID, &a.Title, &a.Author, &a.Content,
			&a.Link, &published, &a.IsRead, &a.IsFavorite); err != nil {
			return nil, &models.PersistenceError{Op: "scan article", Err: err}
		}
		if published != 0 {
			a.PublishedAt = time.Unix(published, 0)
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

func (s *Store) MarkArticleRead(ctx context.Context, id int64, read bool) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE articles SET is_read = ? WHERE id = ?", read, id); err != nil {
		return &models.PersistenceError{Op: "mark article read", Err: err}
	}
	return nil
}

func (s *Store) SetArticleFavorite(ctx context.Context, id int64, favorite bool) error {
	if _, err := s.db.ExecContext(ctx, "UPDATE articles SET is_favorite = ? WHERE id = ?", favorite, id); err != nil {
		return &models.PersistenceError{Op: "set article favorite", Err: err}
	}
	return nil
}

// Setting operations

func (s *Store) GetSetting(ctx context.Context, key string) (models.Setting, error) {
	var setting models.Setting
	var updated int64
	err := s.db.QueryRowContext(ctx,
		"SELECT key, value, description, updated_at FROM settings WHERE key = ?", key).
		Scan(&setting.Key, &setting.Value, &setting.Description, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return setting, models.ErrNotFound
	}
	if err != nil {
		return setting, &models.PersistenceError{Op: "get setting", Err: err}
	}
	if updated != 0 {
		setting.UpdatedAt = time.Unix(updated, 0)
	}
	return setting, nil
}

func (s *Store) UpsertSetting(ctx context.Context, key, value, description string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, description, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			description = excluded.description,
			updated_at = excluded.updated_at`,
		key, value, description, time.Now().Unix(),
	)
	if err != nil {
		return &models.PersistenceError{Op: "upsert setting", Err: err}
	}
	return nil
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
