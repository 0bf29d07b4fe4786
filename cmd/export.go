/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"feedbox/opml"
)

func exportCmd() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Export subscriptions to an OPML file",
		ArgsUsage: "[file.opml]",
		Description: `Writes the subscription list as an OPML 2.0 document, grouped by
category. Without a file argument the document goes to stdout.`,
		Flags: []cli.Flag{
			databaseFlag(),
			configFlag(),
		},
		Action: func(ctx *cli.Context) error {
			core, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer core.close()

			categories, err := core.store.ListCategories(ctx.Context)
			if err != nil {
				return err
			}
			names := make(map[int64]string, len(categories))
			for _, cat := range categories {
				names[cat.ID] = cat.Name
			}

			feeds, err := core.store.ListFeedsByLastSynced(ctx.Context)
			if err != nil {
				return err
			}
			entries := make([]opml.Entry, 0, len(feeds))
			for _, feed := range feeds {
				var category string
				if feed.CategoryID != nil {
					category = names[*feed.CategoryID]
				}
				entries = append(entries, opml.Entry{
					Category: category,
					Title:    feed.Title,
					URL:      feed.URL,
				})
			}

			out, err := opml.Export("feedbox subscriptions", entries)
			if err != nil {
				return err
			}

			if path := ctx.Args().First(); path != "" {
				if err := os.WriteFile(path, out, 0o644); err != nil {
					return err
				}
				fmt.Printf("Exported %d feeds to %s\n", len(entries), path)
				return nil
			}
			fmt.Println(string(out))
			return nil
		},
	}
}
