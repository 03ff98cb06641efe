package commands

import (
	"fmt"
	"path"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log level (trace, debug, info, warn, error)",
			Aliases: []string{"l"},
			EnvVars: []string{"PIHOUND_LOG_LEVEL", "LOGLEVEL"},
			Value:   "info",
		},
		&cli.BoolFlag{
			Name:    "log-caller",
			Usage:   "include the calling file and line in every log entry",
			EnvVars: []string{"PIHOUND_LOG_CALLER"},
		},
	}
}

// Before configures the process-wide logger from the global flags.
func Before(c *cli.Context) error {
	formatter := &logrus.JSONFormatter{}

	if c.Bool("log-caller") {
		logrus.SetReportCaller(true)
		formatter.CallerPrettyfier = func(f *runtime.Frame) (string, string) {
			return "", fmt.Sprintf("%s:%d", path.Base(f.File), f.Line)
		}
	}

	logrus.SetFormatter(formatter)

	level, err := logrus.ParseLevel(c.String("log-level"))
	if err != nil {
		return fmt.Errorf("invalid log level %q", c.String("log-level"))
	}
	logrus.SetLevel(level)

	return nil
}
