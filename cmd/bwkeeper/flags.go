package main

import (
	"github.com/urfave/cli"

	"bwkeeper/internal/app"
	"bwkeeper/internal/httpapi"
)

var (
	configFlag = cli.StringFlag{
		Name:   "config, c",
		EnvVar: "CONFIG_PATH",
		Value:  "config.json",
		Usage:  "task document (json or yaml)",
	}
	logLevelFlag = cli.StringFlag{
		Name:   "log-level",
		EnvVar: "LOG_LEVEL",
		Value:  "info",
		Usage:  "trace, debug, info, warn or error",
	}
	timezoneFlag = cli.StringFlag{
		Name:   "tz",
		EnvVar: "TZ_NAME",
		Value:  "Asia/Shanghai",
		Usage:  "IANA zone the schedule is evaluated in",
	}
)

var serveFlags = []cli.Flag{
	configFlag,
	logLevelFlag,
	timezoneFlag,
	cli.StringFlag{
		Name:   "log-path",
		EnvVar: "LOG_PATH",
		Value:  "execution.log",
		Usage:  "JSON log file shown by the web UI",
	},
	cli.StringFlag{
		Name:   "listen",
		EnvVar: "LISTEN_ADDR",
		Value:  httpapi.DefaultAddr,
		Usage:  "web UI listen address",
	},
	cli.StringFlag{
		Name:   "store-driver",
		EnvVar: "STORE_DRIVER",
		Value:  "file",
		Usage:  "run history backend: file, sqlite, mysql or none",
	},
	cli.StringFlag{
		Name:   "store-path",
		EnvVar: "STORE_PATH",
		Value:  "history.jsonl",
		Usage:  "run history file (file and sqlite drivers)",
	},
	cli.StringFlag{
		Name:   "store-dsn",
		EnvVar: "STORE_DSN",
		Usage:  "mysql DSN",
	},
	cli.StringFlag{
		Name:   "auth-user",
		EnvVar: "AUTH_USER",
		Usage:  "basic auth user for the web UI (empty disables auth)",
	},
	cli.StringFlag{
		Name:   "auth-password-hash",
		EnvVar: "AUTH_PASSWORD_HASH",
		Usage:  "bcrypt hash printed by the hash-password command",
	},
	cli.BoolFlag{
		Name:   "pprof",
		EnvVar: "PPROF",
		Usage:  "mount /debug/pprof on the web UI",
	},
}

// globalFlags lets `bwkeeper --config x` behave like `bwkeeper serve --config x`.
var globalFlags = serveFlags

var runOnceFlags = []cli.Flag{
	configFlag,
	logLevelFlag,
	cli.StringFlag{
		Name:  "url, u",
		Usage: "fetch this URL instead of a configured link",
	},
	cli.StringFlag{
		Name:  "limit, l",
		Usage: "tier override: unlimited, 1mbps, 3mbps or 5mbps",
	},
	cli.BoolFlag{
		Name:  "notify, n",
		Usage: "send the report to the configured sinks",
	},
}

// flagString reads a flag from the command, falling back to the global set.
func flagString(ctx *cli.Context, name string) string {
	if ctx.IsSet(name) {
		return ctx.String(name)
	}
	if ctx.GlobalIsSet(name) {
		return ctx.GlobalString(name)
	}
	if v := ctx.String(name); v != "" {
		return v
	}
	return ctx.GlobalString(name)
}

func flagBool(ctx *cli.Context, name string) bool {
	return ctx.Bool(name) || ctx.GlobalBool(name)
}

func settingsFrom(ctx *cli.Context) app.Settings {
	return app.Settings{
		ConfigPath:       flagString(ctx, "config"),
		LogPath:          flagString(ctx, "log-path"),
		LogLevel:         flagString(ctx, "log-level"),
		ListenAddr:       flagString(ctx, "listen"),
		Timezone:         flagString(ctx, "tz"),
		StoreDriver:      flagString(ctx, "store-driver"),
		StorePath:        flagString(ctx, "store-path"),
		StoreDSN:         flagString(ctx, "store-dsn"),
		AuthUser:         flagString(ctx, "auth-user"),
		AuthPasswordHash: flagString(ctx, "auth-password-hash"),
		Pprof:            flagBool(ctx, "pprof"),
	}
}
