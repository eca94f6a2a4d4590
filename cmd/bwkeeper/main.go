package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := cli.App{
		Name:                 "bwkeeper",
		HelpName:             "bwkeeper",
		Usage:                "keeps a link busy with scheduled, throttled downloads",
		Version:              version,
		UsageText:            "bwkeeper [global options] command [command options] [arguments...]",
		EnableBashCompletion: true,
		Flags:                globalFlags,
		Action:               serve,
		Commands: []cli.Command{
			{
				Name:   "serve",
				Usage:  "run the scheduler and the web UI (default)",
				Action: serve,
				Flags:  serveFlags,
			},
			{
				Name:        "run-once",
				Aliases:     []string{"once"},
				Usage:       "perform a single fetch in the foreground",
				Description: "Picks a configured link (or --url), downloads it under the configured\nceiling (or --limit) and prints the run report.",
				Action:      runOnce,
				Flags:       runOnceFlags,
			},
			{
				Name:      "check-cron",
				Usage:     "show how a schedule expression is interpreted",
				ArgsUsage: "EXPR",
				Action:    checkCron,
				Flags:     []cli.Flag{timezoneFlag},
			},
			{
				Name:   "speedtest",
				Usage:  "measure link capacity and suggest a tier",
				Action: speedtest,
			},
			{
				Name:      "hash-password",
				Usage:     "print a bcrypt hash for AUTH_PASSWORD_HASH",
				ArgsUsage: "PASSWORD",
				Action:    hashPassword,
			},
		},
	}
	return &app
}
