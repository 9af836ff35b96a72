package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sushiibot/modledger/modlog/gatewayclient"
	"github.com/sushiibot/modledger/modlog/ledger"
	"github.com/sushiibot/modledger/util"
	"github.com/sushiibot/modledger/util/cliutil"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "modledger",
		Usage:   "moderation case ledger and mute reconciliation daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string (sqlite:// or postgres://)",
			Value:   "sqlite://data/modledger/modledger.db",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			EnvVars: []string{"MAX_DB_CONNECTIONS"},
			Value:   20,
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"MODLEDGER_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "log output format (text or json)",
			EnvVars: []string{"MODLEDGER_LOG_FMT", "LOG_FORMAT"},
		},
		&cli.BoolFlag{
			Name:    "db-tracing",
			Usage:   "emit opentelemetry spans for database queries",
			EnvVars: []string{"MODLEDGER_DB_TRACING"},
		},
		&cli.StringFlag{
			Name:    "gateway-host",
			Usage:   "method, hostname, and port of the gateway sidecar",
			Value:   "http://localhost:8008",
			EnvVars: []string{"MODLEDGER_GATEWAY_HOST"},
		},
		&cli.StringFlag{
			Name:    "gateway-token",
			Usage:   "bearer token for the gateway sidecar",
			EnvVars: []string{"MODLEDGER_GATEWAY_TOKEN"},
		},
	}

	app.Before = func(cctx *cli.Context) error {
		_, err := cliutil.SetupSlog(cliutil.LogOptions{
			LogLevel:  cctx.String("log-level"),
			LogFormat: cctx.String("log-format"),
		})
		return err
	}

	app.Commands = []*cli.Command{
		runCmd,
		casesCmd,
		expireOnceCmd,
	}

	return app.Run(args)
}

var serverFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "redis-url",
		Usage:   "redis connection URL; when set, community configuration is cached in redis",
		EnvVars: []string{"MODLEDGER_REDIS_URL"},
	},
	&cli.DurationFlag{
		Name:    "config-cache-ttl",
		Usage:   "how long community configuration is cached",
		Value:   5 * time.Minute,
		EnvVars: []string{"MODLEDGER_CONFIG_CACHE_TTL"},
	},
	&cli.Float64Flag{
		Name:    "gateway-rate-limit",
		Usage:   "max moderation requests per second against the gateway (0 for unlimited)",
		Value:   10,
		EnvVars: []string{"MODLEDGER_GATEWAY_RATE_LIMIT"},
	},
	&cli.DurationFlag{
		Name:    "expiry-interval",
		Usage:   "how often to look for expired mutes",
		Value:   10 * time.Second,
		EnvVars: []string{"MODLEDGER_EXPIRY_INTERVAL"},
	},
	&cli.IntFlag{
		Name:    "unmute-max-attempts",
		Usage:   "failed attempts to lift an expired mute before giving up",
		Value:   25,
		EnvVars: []string{"MODLEDGER_UNMUTE_MAX_ATTEMPTS"},
	},
	&cli.StringFlag{
		Name:    "slack-webhook-url",
		Usage:   "full URL of slack webhook, notified when audit messages fail to post",
		EnvVars: []string{"SLACK_WEBHOOK_URL"},
	},
	&cli.StringFlag{
		Name:    "bot-name",
		Usage:   "author shown on audit messages for automated cases",
		Value:   "modledger",
		EnvVars: []string{"MODLEDGER_BOT_NAME"},
	},
	&cli.StringFlag{
		Name:    "command-prefix",
		Usage:   "command prefix shown in the audit reason placeholder",
		Value:   "-",
		EnvVars: []string{"MODLEDGER_COMMAND_PREFIX"},
	},
}

func configFromCLI(cctx *cli.Context) Config {
	return Config{
		Logger:            slog.Default(),
		GatewayRateLimit:  cctx.Float64("gateway-rate-limit"),
		RedisURL:          cctx.String("redis-url"),
		ConfigCacheTTL:    cctx.Duration("config-cache-ttl"),
		SlackWebhookURL:   cctx.String("slack-webhook-url"),
		ExpiryInterval:    cctx.Duration("expiry-interval"),
		UnmuteMaxAttempts: cctx.Int("unmute-max-attempts"),
		BotName:           cctx.String("bot-name"),
		CommandPrefix:     cctx.String("command-prefix"),
	}
}

func newServerFromCLI(cctx *cli.Context) (*Server, error) {
	db, err := cliutil.SetupDatabase(cctx.String("database-url"), cctx.Int("max-db-connections"))
	if err != nil {
		return nil, err
	}
	if cctx.Bool("db-tracing") {
		if err := db.Use(tracing.NewPlugin()); err != nil {
			return nil, err
		}
	}
	gw := gatewayclient.New(cctx.String("gateway-host"), cctx.String("gateway-token"), util.RobustHTTPClient())
	return NewServer(db, gw, configFromCLI(cctx))
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the service",
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3989",
			EnvVars: []string{"MODLEDGER_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3988",
			EnvVars: []string{"MODLEDGER_METRICS_LISTEN"},
		},
	}, serverFlags...),
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(cctx.Context, syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shutdown := configOTEL(ctx, "modledger")
		defer shutdown()

		srv, err := newServerFromCLI(cctx)
		if err != nil {
			return err
		}

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "err", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		if err := srv.Run(ctx, cctx.String("bind")); err != nil {
			return fmt.Errorf("failed to run modledger service: %w", err)
		}
		slog.Info("graceful shutdown complete")
		return nil
	},
}

var expireOnceCmd = &cli.Command{
	Name:  "expire-once",
	Usage: "run a single expiry scan and print what happened",
	Flags: serverFlags,
	Action: func(cctx *cli.Context) error {
		srv, err := newServerFromCLI(cctx)
		if err != nil {
			return err
		}
		sum, err := srv.scanner.Tick(cctx.Context)
		if err != nil {
			return err
		}
		return printJSON(sum)
	},
}

var casesCmd = &cli.Command{
	Name:  "cases",
	Usage: "read-only queries against the case ledger",
	Flags: []cli.Flag{
		&cli.Uint64Flag{
			Name:     "community",
			Usage:    "community identifier",
			Required: true,
		},
	},
	Subcommands: []*cli.Command{
		&cli.Command{
			Name:  "latest",
			Usage: "most recent cases, newest first",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "limit",
					Value: ledger.DefaultLatestCount,
				},
			},
			Action: func(cctx *cli.Context) error {
				return withLedger(cctx, func(ctx context.Context, l *ledger.Ledger) (any, error) {
					return l.Latest(ctx, cctx.Uint64("community"), cctx.Int("limit"))
				})
			},
		},
		&cli.Command{
			Name:  "range",
			Usage: "cases with numbers between start and end, inclusive",
			Flags: []cli.Flag{
				&cli.Int64Flag{
					Name:     "start",
					Required: true,
				},
				&cli.Int64Flag{
					Name: "end",
				},
			},
			Action: func(cctx *cli.Context) error {
				start := cctx.Int64("start")
				end := cctx.Int64("end")
				if end == 0 {
					end = start
				}
				return withLedger(cctx, func(ctx context.Context, l *ledger.Ledger) (any, error) {
					return l.Range(ctx, cctx.Uint64("community"), start, end)
				})
			},
		},
		&cli.Command{
			Name:  "history",
			Usage: "every case against one target, oldest first",
			Flags: []cli.Flag{
				&cli.Uint64Flag{
					Name:     "target",
					Required: true,
				},
			},
			Action: func(cctx *cli.Context) error {
				return withLedger(cctx, func(ctx context.Context, l *ledger.Ledger) (any, error) {
					return l.ForTarget(ctx, cctx.Uint64("community"), cctx.Uint64("target"))
				})
			},
		},
	},
}

func withLedger(cctx *cli.Context, fn func(ctx context.Context, l *ledger.Ledger) (any, error)) error {
	db, err := cliutil.SetupDatabase(cctx.String("database-url"), 1)
	if err != nil {
		return err
	}
	l := ledger.New(db, slog.Default())
	if err := ensureLedger(db); err != nil {
		return err
	}
	out, err := fn(cctx.Context, l)
	if err != nil {
		return err
	}
	return printJSON(out)
}

// ensureLedger refuses to create tables from a read-only command
func ensureLedger(db *gorm.DB) error {
	if !db.Migrator().HasTable(&ledger.Case{}) {
		return fmt.Errorf("database has no case ledger; has the service been run against it?")
	}
	return nil
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}
