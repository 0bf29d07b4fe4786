/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"
)

func addCmd() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Subscribe to a feed",
		ArgsUsage: "<feed-url>",
		Description: `Fetches the feed at the given URL, resolves its icon and stores the
feed together with its most recent articles. A feed URL that is already
subscribed is rejected.`,
		Flags: []cli.Flag{
			databaseFlag(),
			configFlag(),
			&cli.StringFlag{
				Name:  "category",
				Usage: "Category to file the feed under, created if missing",
			},
			&cli.IntFlag{
				Name:  "max-articles",
				Usage: "Limit the number of articles stored on subscribe (0 = config default)",
			},
		},
		Action: func(ctx *cli.Context) error {
			feedURL := ctx.Args().First()
			if feedURL == "" {
				return errors.New("please specify a feed URL")
			}

			core, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer core.close()

			if _, err := core.store.GetFeedByURL(ctx.Context, feedURL); err == nil {
				return fmt.Errorf("already subscribed to %s", feedURL)
			}

			var categoryID *int64
			if name := ctx.String("category"); name != "" {
				cat, err := core.store.GetOrCreateCategory(ctx.Context, name)
				if err != nil {
					return err
				}
				categoryID = &cat.ID
			}

			maxArticles := ctx.Int("max-articles")
			if maxArticles <= 0 {
				maxArticles = core.cfg.MaxCreateArticles
			}

			feed, articles, err := core.engine.BuildFeed(ctx.Context, feedURL, categoryID, maxArticles)
			if err != nil {
				return fmt.Errorf("could not build feed: %w", err)
			}
			if err := core.store.CreateFeed(ctx.Context, &feed); err != nil {
				return err
			}
			stored := 0
			for i := range articles {
				articles[i].FeedID = feed.ID
				if err := core.store.InsertArticle(ctx.Context, &articles[i]); err == nil {
					stored++
				}
			}

			fmt.Printf("Subscribed to %q (%d articles)\n", feed.Title, stored)
			return nil
		},
	}
}
