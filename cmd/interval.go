/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"feedbox/settings"
)

func intervalCmd() *cli.Command {
	return &cli.Command{
		Name:  "interval",
		Usage: "Show or change the polling interval",
		Description: `Without flags, prints the current polling interval in minutes.

With --set, stores a new interval. The value must be between 1 and 1440
minutes; a running scheduler picks the change up before its next sleep,
no restart required.`,
		Flags: []cli.Flag{
			databaseFlag(),
			configFlag(),
			&cli.IntFlag{
				Name:  "set",
				Usage: "New interval in minutes",
			},
		},
		Action: func(ctx *cli.Context) error {
			core, err := openCore(ctx)
			if err != nil {
				return err
			}
			defer core.close()

			if minutes := ctx.Int("set"); minutes != 0 {
				if err := core.settings.SetInterval(ctx.Context, minutes); err != nil {
					return err
				}
				fmt.Printf("Interval set to %d minutes\n", minutes)
				return nil
			}

			fmt.Printf("Interval: %d minutes (default %d)\n",
				core.settings.Interval(ctx.Context), settings.DefaultIntervalMinutes)
			return nil
		},
	}
}
