/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cqroot/prompt"
	"github.com/urfave/cli/v2"
)

func removeCmd() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Unsubscribe from a feed",
		ArgsUsage: "<feed-id>",
		Description: `Deletes a feed and all of its stored articles after an interactive
confirmation.`,
		Flags: []cli.Flag{
			databaseFlag(),
			configFlag(),
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Skip the confirmation prompt",
			},
		},
		Action: func(ctx *cli.Context) error {
			raw := ctx.Args().First()
			if raw == "" {
				return errors.New("please specify a feed id")
			}
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid feed id %q", raw)
			}

			core, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer core.close()

			feed, err := core.store.GetFeed(ctx.Context, id)
			if err != nil {
				return fmt.Errorf("could not load feed %d: %w", id, err)
			}

			if !ctx.Bool("yes") {
				answer, err := prompt.New().
					Ask(fmt.Sprintf("Delete %q and all of its articles?", feed.Title)).
					Choose([]string{"Yes", "No"})
				if err != nil {
					return err
				}
				if answer != "Yes" {
					fmt.Println("Aborted")
					return nil
				}
			}

			if err := core.store.DeleteFeed(ctx.Context, id); err != nil {
				return err
			}
			fmt.Printf("Removed %q\n", feed.Title)
			return nil
		},
	}
}
