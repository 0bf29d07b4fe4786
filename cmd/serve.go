/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"feedbox/config"
	"feedbox/db"
	"feedbox/fetch"
	"feedbox/icon"
	"feedbox/notify"
	"feedbox/scheduler"
	"feedbox/server"
	"feedbox/settings"
	"feedbox/syncer"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the feedbox API and run the background scheduler",
		Description: `Starts the feedbox HTTP server and the background update scheduler.

Runs pending database migrations, launches the HTTP API on the specified or
default port and starts the scheduling loop. The loop waits a short warm-up
period, then refreshes every feed on the configured interval. The interval is
reloaded from the settings table after each run, so changing it takes effect
without a restart.`,
		Flags: []cli.Flag{
			databaseFlag(),
			configFlag(),
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   8080,
				Usage:   "Port for the HTTP server",
				EnvVars: []string{"FEEDBOX_PORT"},
			},
		},
		Action: func(ctx *cli.Context) error {
			fmt.Println("Starting feedbox...")

			cfg, err := config.Load(ctx.String("config"))
			if err != nil {
				return err
			}

			database := ctx.String("database")
			if err := db.Migrate(database); err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}

			// An unreachable store at startup is fatal, but give it a few
			// attempts before giving up.
			var store *db.Store
			open := func() error {
				s, err := db.Open(database)
				if err != nil {
					log.Warnf("Store not ready: %v", err)
					return err
				}
				store = s
				return nil
			}
			if err := backoff.Retry(open, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)); err != nil {
				return fmt.Errorf("could not open store: %w", err)
			}

			settingsCache := settings.NewCache(store)
			if err := settingsCache.InitializeDefaults(ctx.Context); err != nil {
				return fmt.Errorf("could not seed default settings: %w", err)
			}

			notifier := notify.New()
			fetcher := fetch.New(cfg.UserAgent, time.Duration(cfg.FetchTimeoutSeconds)*time.Second)
			icons := icon.New(cfg.UserAgent)
			engine := syncer.New(store, fetcher, icons, notifier)
			sched := scheduler.New(engine, settingsCache)

			app := server.Server(&server.ServerConfig{
				Store:             store,
				Engine:            engine,
				Settings:          settingsCache,
				Notifier:          notifier,
				UserAgent:         cfg.UserAgent,
				AllowOrigins:      cfg.AllowOrigins,
				ImageTimeout:      time.Duration(cfg.ImageProxyTimeoutSeconds) * time.Second,
				MaxCreateArticles: cfg.MaxCreateArticles,
			})

			if err := sched.Start(); err != nil {
				return err
			}

			go func() {
				fmt.Println("Starting server...")
				if err := app.Listen(fmt.Sprintf(":%d", ctx.Int("port"))); err != nil {
					log.Panic(err)
				}
			}()

			// Graceful shutdown
			c := make(chan os.Signal, 1)
			signal.Notify(c, os.Interrupt, syscall.SIGTERM)
			<-c

			fmt.Println("Gracefully shutting down...")
			if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
				log.Errorf("Server shutdown: %v", err)
			}
			sched.Stop()
			notifier.Shutdown()
			if err := store.Close(); err != nil {
				log.Errorf("Error closing store: %v", err)
			}

			fmt.Println("Done!")
			return nil
		},
	}
}
