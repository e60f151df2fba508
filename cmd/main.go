package main

import (
	"os"

	"newsletter-indexer/internal/logging"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logging.Log.Fatalf("%v", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "newsletter-indexer",
		Usage: "Harvest newsletter emails into a searchable vector index",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Value:   "config.yaml",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Override the configured log level (debug, info, warn, error)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Refresh on the configured interval until interrupted",
				Action: serveCommand,
			},
			{
				Name:   "refresh",
				Usage:  "Run one ingestion and sync",
				Action: refreshCommand,
			},
			{
				Name:   "init",
				Usage:  "Create the vector collection if it does not exist",
				Action: initCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "clear",
						Usage: "Drop and recreate the collection",
					},
				},
			},
			{
				Name:   "health",
				Usage:  "Check that the vector store is ready",
				Action: healthCommand,
			},
			{
				Name:   "count",
				Usage:  "Print the number of records in the vector store",
				Action: countCommand,
			},
			{
				Name:   "recent",
				Usage:  "Print the most recently received records",
				Action: recentCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of records",
						Value: 10,
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Print records near a text query",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of records",
						Value: 10,
					},
					&cli.StringSliceFlag{
						Name:  "field",
						Usage: "Field to return (header, text_content, received_date); repeatable",
					},
				},
			},
		},
	}
}
