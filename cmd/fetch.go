/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

func fetchCmd() *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Update every feed once and exit",
		Description: `Runs one full-collection update outside the scheduler: every feed is
fetched in order of staleness and new articles are merged in. A feed that
fails is reported and skipped; the run continues with the next feed.

Interrupting the run stops it cleanly between feeds.`,
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

			runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			result, err := core.engine.UpdateAll(runCtx)
			if err != nil {
				return err
			}

			fmt.Printf("Updated %d/%d feeds, %d new articles\n",
				result.Succeeded, result.Total, result.NewArticles)
			for _, msg := range result.Errors {
				fmt.Println("  failed:", msg)
			}
			return nil
		},
	}
}
