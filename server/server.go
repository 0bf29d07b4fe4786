// Package server exposes the UI-facing operations over HTTP: feed and
// category management, manual refresh triggers, interval configuration,
// change-notification streaming and an image passthrough.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"feedbox/db"
	"feedbox/models"
	"feedbox/notify"
	"feedbox/settings"
	"feedbox/syncer"
)

// ServerConfig wires the core components into the HTTP surface.
type ServerConfig struct {
	Store    *db.Store
	Engine   *syncer.Engine
	Settings *settings.Cache
	Notifier *notify.Notifier

	UserAgent         string
	AllowOrigins      string
	ImageTimeout      time.Duration
	MaxCreateArticles int
}

type createFeedRequest struct {
	URL         string `json:"url"`
	CategoryID  *int64 `json:"categoryId"`
	MaxArticles int    `json:"maxArticles"`
}

type intervalBody struct {
	Minutes int `json:"minutes"`
}

// Server returns a fiber.App serving the feedbox HTTP API.
func Server(config *ServerConfig) *fiber.App {
	app := fiber.New()

	// Middleware to track the latency of each request
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		log.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"latency": time.Since(start),
		}).Info("Request")
		return err
	})

	app.Use(requestid.New(requestid.ConfigDefault))
	app.Use(compress.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     config.AllowOrigins,
		AllowHeaders:     "Cache-Control,Content-Type",
		AllowCredentials: true,
	}))

	registerFeedRoutes(app, config)
	registerArticleRoutes(app, config)
	registerCategoryRoutes(app, config)
	registerSettingRoutes(app, config)
	registerEventRoutes(app, config)
	registerImageProxy(app, config)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return app
}

func registerFeedRoutes(app *fiber.App, config *ServerConfig) {
	app.Get("/api/feeds", func(c *fiber.Ctx) error {
		feeds, err := config.Store.ListFeedsByLastSynced(c.Context())
		if err != nil {
			return serverError(c, "Error listing feeds", err)
		}
		return c.JSON(feeds)
	})

	app.Post("/api/feeds", func(c *fiber.Ctx) error {
		var req createFeedRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid request body")
		}
		if req.URL == "" {
			return c.Status(fiber.StatusBadRequest).SendString("Missing feed URL")
		}
		// URL is the duplicate-detection key for imports.
		if _, err := config.Store.GetFeedByURL(c.Context(), req.URL); err == nil {
			return c.Status(fiber.StatusConflict).SendString("Feed already exists")
		}

		maxArticles := req.MaxArticles
		if maxArticles <= 0 {
			maxArticles = config.MaxCreateArticles
		}
		feed, articles, err := config.Engine.BuildFeed(c.Context(), req.URL, req.CategoryID, maxArticles)
		if err != nil {
			log.WithFields(log.Fields{
				"url":   req.URL,
				"error": err,
			}).Error("Failed to build feed")
			return c.Status(fiber.StatusBadGateway).SendString("Could not fetch feed")
		}
		if err := config.Store.CreateFeed(c.Context(), &feed); err != nil {
			return serverError(c, "Error creating feed", err)
		}
		for i := range articles {
			articles[i].FeedID = feed.ID
			if err := config.Store.InsertArticle(c.Context(), &articles[i]); err != nil {
				log.WithFields(log.Fields{
					"link":  articles[i].Link,
					"error": err,
				}).Error("Failed to insert article")
			}
		}
		config.Notifier.FeedsChanged()
		return c.Status(fiber.StatusCreated).JSON(feed)
	})

	app.Delete("/api/feeds/:id", func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid feed id")
		}
		if err := config.Store.DeleteFeed(c.Context(), id); err != nil {
			return serverError(c, "Error deleting feed", err)
		}
		config.Notifier.FeedsChanged()
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Post("/api/feeds/:id/refresh", func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid feed id")
		}
		ok := config.Engine.UpdateFeedByID(c.Context(), id)
		return c.JSON(fiber.Map{"updated": ok})
	})

	app.Post("/api/refresh", func(c *fiber.Ctx) error {
		// Manual full refresh runs detached from the request deadline.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		result, err := config.Engine.UpdateAll(ctx)
		if err != nil {
			return serverError(c, "Error running batch update", err)
		}
		return c.JSON(result)
	})
}

func registerArticleRoutes(app *fiber.App, config *ServerConfig) {
	app.Get("/api/feeds/:id/articles", func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid feed id")
		}
		limit, err := strconv.Atoi(c.Query("limit", "100"))
		if err != nil || limit < 1 || limit > 1000 {
			limit = 100
		}
		articles, err := config.Store.ListArticles(c.Context(), id, limit)
		if err != nil {
			return serverError(c, "Error listing articles", err)
		}
		return c.JSON(articles)
	})

	app.Post("/api/articles/:id/read", func(c *fiber.Ctx) error {
		return toggleArticle(c, func(ctx context.Context, id int64, value bool) error {
			return config.Store.MarkArticleRead(ctx, id, value)
		})
	})

	app.Post("/api/articles/:id/favorite", func(c *fiber.Ctx) error {
		return toggleArticle(c, func(ctx context.Context, id int64, value bool) error {
			return config.Store.SetArticleFavorite(ctx, id, value)
		})
	})
}

func toggleArticle(c *fiber.Ctx, apply func(ctx context.Context, id int64, value bool) error) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).SendString("Invalid article id")
	}
	body := struct {
		Value *bool `json:"value"`
	}{}
	value := true
	if err := c.BodyParser(&body); err == nil && body.Value != nil {
		value = *body.Value
	}
	if err := apply(c.Context(), id, value); err != nil {
		return serverError(c, "Error updating article", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func registerCategoryRoutes(app *fiber.App, config *ServerConfig) {
	app.Get("/api/categories", func(c *fiber.Ctx) error {
		cats, err := config.Store.ListCategories(c.Context())
		if err != nil {
			return serverError(c, "Error listing categories", err)
		}
		return c.JSON(cats)
	})

	app.Post("/api/categories", func(c *fiber.Ctx) error {
		body := struct {
			Name string `json:"name"`
		}{}
		if err := c.BodyParser(&body); err != nil || body.Name == "" {
			return c.Status(fiber.StatusBadRequest).SendString("Missing category name")
		}
		cat, err := config.Store.GetOrCreateCategory(c.Context(), body.Name)
		if err != nil {
			return serverError(c, "Error creating category", err)
		}
		config.Notifier.CategoriesChanged()
		return c.Status(fiber.StatusCreated).JSON(cat)
	})

	app.Put("/api/categories/:id", func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid category id")
		}
		body := struct {
			Name string `json:"name"`
		}{}
		if err := c.BodyParser(&body); err != nil || body.Name == "" {
			return c.Status(fiber.StatusBadRequest).SendString("Missing category name")
		}
		if err := config.Store.RenameCategory(c.Context(), id, body.Name); err != nil {
			return serverError(c, "Error renaming category", err)
		}
		config.Notifier.CategoriesChanged()
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Delete("/api/categories/:id", func(c *fiber.Ctx) error {
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid category id")
		}
		if err := config.Store.DeleteCategory(c.Context(), id); err != nil {
			return serverError(c, "Error deleting category", err)
		}
		// Deleting a category cascades its feeds and their articles.
		config.Notifier.CategoriesChanged()
		config.Notifier.FeedsChanged()
		return c.SendStatus(fiber.StatusNoContent)
	})
}

func registerSettingRoutes(app *fiber.App, config *ServerConfig) {
	app.Get("/api/settings/interval", func(c *fiber.Ctx) error {
		return c.JSON(intervalBody{Minutes: config.Settings.Interval(c.Context())})
	})

	app.Put("/api/settings/interval", func(c *fiber.Ctx) error {
		var body intervalBody
		if err := c.BodyParser(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid request body")
		}
		if err := config.Settings.SetInterval(c.Context(), body.Minutes); err != nil {
			var cfgErr *models.ConfigError
			if errors.As(err, &cfgErr) {
				return c.Status(fiber.StatusBadRequest).SendString(cfgErr.Error())
			}
			return serverError(c, "Error storing interval", err)
		}
		return c.JSON(intervalBody{Minutes: body.Minutes})
	})
}

func registerEventRoutes(app *fiber.App, config *ServerConfig) {
	app.Delete("/api/events", func(c *fiber.Ctx) error {
		config.Notifier.Unsubscribe(c.Query("key", ""))
		return c.SendStatus(fiber.StatusOK)
	})

	app.Get("/api/events", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("Transfer-Encoding", "chunked")

		sub := config.Notifier.Subscribe()
		alive := time.NewTicker(5 * time.Second)

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer alive.Stop()
			defer config.Notifier.Unsubscribe(sub.ID)

			// Send initial event with the subscription key
			fmt.Fprintf(w, "event: init\ndata: %s\n\n", sub.ID)
			if err := w.Flush(); err != nil {
				return
			}

			for {
				select {
				case <-alive.C:
					if _, err := fmt.Fprintf(w, "event: ping\ndata: \n\n"); err != nil {
						return
					}
					if err := w.Flush(); err != nil {
						return
					}

				case _, ok := <-sub.FeedsChanged:
					if !ok {
						return
					}
					if !writeEvent(w, sub.ID, "feeds-changed", nil) {
						return
					}

				case _, ok := <-sub.CategoriesChanged:
					if !ok {
						return
					}
					if !writeEvent(w, sub.ID, "categories-changed", nil) {
						return
					}

				case progress, ok := <-sub.Progress:
					if !ok {
						return
					}
					if !writeEvent(w, sub.ID, "update-progress", progress) {
						return
					}
				}
			}
		}))

		return nil
	})
}

func writeEvent(w *bufio.Writer, key, event string, payload any) bool {
	data := "{}"
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			log.Errorf("Error marshalling %s event for client %s: %v", event, key, err)
			return true
		}
		data = string(encoded)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		log.Warnf("Failed to send %s event to client %s: %v", event, key, err)
		return false
	}
	if err := w.Flush(); err != nil {
		log.Warnf("Failed to flush %s event for client %s: %v", event, key, err)
		return false
	}
	return true
}

const maxImageBytes = 10 << 20

func registerImageProxy(app *fiber.App, config *ServerConfig) {
	client := &http.Client{Timeout: config.ImageTimeout}

	app.Get("/api/image", func(c *fiber.Ctx) error {
		raw := c.Query("url", "")
		parsed, err := url.Parse(raw)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid image URL")
		}

		req, err := http.NewRequestWithContext(c.Context(), http.MethodGet, raw, nil)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).SendString("Invalid image URL")
		}
		req.Header.Set("User-Agent", config.UserAgent)

		resp, err := client.Do(req)
		if err != nil {
			return c.Status(fiber.StatusBadGateway).SendString("Could not fetch image")
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return c.Status(fiber.StatusBadGateway).SendString("Could not fetch image")
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
		if err != nil {
			return c.Status(fiber.StatusBadGateway).SendString("Could not read image")
		}
		if ctype := resp.Header.Get("Content-Type"); ctype != "" {
			c.Set("Content-Type", ctype)
		}
		return c.Send(data)
	})
}

func serverError(c *fiber.Ctx, message string, err error) error {
	log.WithFields(log.Fields{"error": err}).Error(message)
	return c.Status(fiber.StatusInternalServerError).SendString(message)
}
