/*
Copyright © 2023 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"feedbox/config"
	"feedbox/db"
	"feedbox/fetch"
	"feedbox/icon"
	"feedbox/notify"
	"feedbox/settings"
	"feedbox/syncer"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "feedbox",
		Usage: "A self-hosted RSS and Atom feed reader backend",
		Description: `Feedbox keeps a set of subscribed syndication feeds in an SQLite
		database, merges newly published articles without duplication and
		refreshes the whole collection on a configurable background cadence.

		The HTTP API exposes feed and category management, manual refresh
		triggers, the polling interval and a change-notification event
		stream.

		Flags can generally be set via environment variables, e.g.:

		--database => FEEDBOX_DATABASE=feedbox.db
		--port => FEEDBOX_PORT=8080
		`,
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			rollbackCmd(),
			addCmd(),
			removeCmd(),
			fetchCmd(),
			intervalCmd(),
			importCmd(),
			exportCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func Execute() {
	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func databaseFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "database",
		Aliases: []string{"d"},
		Value:   "feedbox.db",
		Usage:   "SQLite database file location",
		EnvVars: []string{"FEEDBOX_DATABASE"},
	}
}

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "feedbox.toml",
		Usage:   "Path to the optional TOML configuration file",
		EnvVars: []string{"FEEDBOX_CONFIG"},
	}
}

// core bundles the pieces a one-off CLI command needs.
type core struct {
	store    *db.Store
	settings *settings.Cache
	notifier *notify.Notifier
	engine   *syncer.Engine
	cfg      config.Config
}

func openCore(ctx *cli.Context) (*core, error) {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return nil, err
	}
	store, err := db.Open(ctx.String("database"))
	if err != nil {
		return nil, err
	}
	notifier := notify.New()
	fetcher := fetch.New(cfg.UserAgent, time.Duration(cfg.FetchTimeoutSeconds)*time.Second)
	icons := icon.New(cfg.UserAgent)
	return &core{
		store:    store,
		settings: settings.NewCache(store),
		notifier: notifier,
		engine:   syncer.New(store, fetcher, icons, notifier),
		cfg:      cfg,
	}, nil
}

func (c *core) close() {
	c.notifier.Shutdown()
	if err := c.store.Close(); err != nil {
		log.Errorf("Error closing store: %v", err)
	}
}
