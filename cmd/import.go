/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"feedbox/opml"
)

func importCmd() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import subscriptions from an OPML file",
		ArgsUsage: "<file.opml>",
		Description: `Reads an OPML subscription list and subscribes to every feed in it.
Nested outlines become categories. Feeds that are already subscribed are
skipped, and a feed that cannot be fetched is reported without aborting
the rest of the import.`,
		Flags: []cli.Flag{
			databaseFlag(),
			configFlag(),
		},
		Action: func(ctx *cli.Context) error {
			path := ctx.Args().First()
			if path == "" {
				return errors.New("please specify an OPML file")
			}
			file, err := os.Open(path)
			if err != nil {
				return err
			}
			defer file.Close()

			entries, err := opml.Parse(file)
			if err != nil {
				return err
			}

			core, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer core.close()

			categories := map[string]*int64{}
			added, skipped, failed := 0, 0, 0
			for _, entry := range entries {
				if _, err := core.store.GetFeedByURL(ctx.Context, entry.URL); err == nil {
					skipped++
					continue
				}

				categoryID, ok := categories[entry.Category]
				if !ok && entry.Category != "" {
					cat, err := core.store.GetOrCreateCategory(ctx.Context, entry.Category)
					if err != nil {
						return err
					}
					categoryID = &cat.ID
					categories[entry.Category] = categoryID
				}

				feed, articles, err := core.engine.BuildFeed(ctx.Context, entry.URL, categoryID, core.cfg.MaxCreateArticles)
				if err != nil {
					log.WithFields(log.Fields{
						"url": entry.URL,
					}).Warnf("Skipping feed: %v", err)
					failed++
					continue
				}
				if err := core.store.CreateFeed(ctx.Context, &feed); err != nil {
					return err
				}
				for i := range articles {
					articles[i].FeedID = feed.ID
					if err := core.store.InsertArticle(ctx.Context, &articles[i]); err != nil {
						log.Warnf("Could not store article %q: %v", articles[i].Link, err)
					}
				}
				added++
			}

			fmt.Printf("Imported %d feeds (%d skipped, %d failed)\n", added, skipped, failed)
			return nil
		},
	}
}
