package commands

import (
	"context"
	"time"

	"github.com/rancher/wrangler/pkg/signals"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"github.com/pihound/pihound/pkg/apiserver"
	"github.com/pihound/pihound/pkg/backend"
	"github.com/pihound/pihound/pkg/db"
	"github.com/pihound/pihound/pkg/dump"
	"github.com/pihound/pihound/pkg/enrich"
	"github.com/pihound/pihound/pkg/sync"
	"github.com/pihound/pihound/pkg/version"
)

type serveCmd struct{}

func (s *serveCmd) Execute(c *cli.Context) error {
	ctx := signals.SetupSignalHandler(context.Background())

	log := logrus.WithField("command", "serve")

	log.Infof("version: %v", version.Get())

	database, err := db.New(ctx, c.String("sql-dialect"), c.String("sql-dsn"), &gorm.Config{
		Logger: db.NewLogger(c.String("log-level")),
	})
	if err != nil {
		return err
	}

	syncer := sync.New(sync.Config{
		DumpURL:        c.String("dump-url"),
		DumpPassphrase: c.String("dump-key"),
		PollInterval:   c.Duration("sync-interval"),
	}, database, dump.NewClient(2*time.Minute), logrus.WithField("component", "sync"))

	// Repair runs left Running by a previous crash before anything else.
	if err := syncer.EndStale(); err != nil {
		return err
	}

	analyzer := enrich.NewAnalyzer(enrich.Config{
		Enabled: c.Bool("openai-enable"),
		APIKey:  c.String("openai-key"),
		Model:   c.String("openai-model"),
	}, logrus.WithField("component", "enrich"))

	back := backend.NewBackend(ctx, database, analyzer, syncer, logrus.WithField("component", "backend"))

	apiServer := apiserver.NewAPIServer(ctx, log, c.Int("port"))

	return apiServer.Start(back, syncer)
}

func serveCommand() *cli.Command {
	cmd := serveCmd{}

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:    "port",
			Usage:   "Port for the HTTP Server",
			EnvVars: []string{"PIHOUND_PORT", "PORT"},
			Value:   4810,
		},
		&cli.StringFlag{
			Name:    "sql-dialect",
			Usage:   "The type of sql to use, sqlite or mysql",
			EnvVars: []string{"PIHOUND_SQL_DIALECT", "SQL_DIALECT"},
			Value:   "sqlite",
		},
		&cli.StringFlag{
			Name:    "sql-dsn",
			Usage:   "The DSN to use to connect to",
			EnvVars: []string{"PIHOUND_SQL_DSN", "SQL_DSN"},
			Value:   "file:pihound.sqlite?_pragma=foreign_keys(1)",
		},
		&cli.StringFlag{
			Name:    "dump-url",
			Usage:   "URL of the encrypted Pi-hole query dump",
			EnvVars: []string{"PIHOUND_DUMP_URL", "PIHOLE_DUMP_URL"},
			Value:   "http://127.0.0.1:8888/data",
		},
		&cli.StringFlag{
			Name:    "dump-key",
			Usage:   "Passphrase the dump is encrypted with",
			EnvVars: []string{"PIHOUND_DUMP_KEY", "PIHOLE_DUMP_KEY"},
		},
		&cli.DurationFlag{
			Name:    "sync-interval",
			Usage:   "How often to ingest the dump",
			EnvVars: []string{"PIHOUND_SYNC_INTERVAL", "SYNC_INTERVAL"},
			Value:   30 * time.Minute,
		},
		&cli.BoolFlag{
			Name:    "openai-enable",
			Usage:   "Enable AI domain analysis",
			EnvVars: []string{"PIHOUND_OPENAI_ENABLE", "OPENAI_ENABLE"},
		},
		&cli.StringFlag{
			Name:    "openai-key",
			Usage:   "OpenAI API key",
			EnvVars: []string{"PIHOUND_OPENAI_KEY", "OPENAI_KEY"},
		},
		&cli.StringFlag{
			Name:    "openai-model",
			Usage:   "Model used for domain analysis",
			EnvVars: []string{"PIHOUND_OPENAI_MODEL", "OPENAI_MODEL"},
		},
	}

	return &cli.Command{
		Name:   "serve",
		Usage:  "run the pihound server",
		Action: cmd.Execute,
		Flags:  append(flags, GlobalFlags()...),
		Before: Before,
	}
}
