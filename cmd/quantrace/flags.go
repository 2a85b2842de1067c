package main

import (
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/strato-ml/quantrace/internal/logger"
	"github.com/strato-ml/quantrace/internal/toy"
)

var (
	logLevel  string
	logFormat string
	debug     bool

	channels  int64
	seqLen    int64
	classes   int64
	batch     int64
	seed      int64
	passes    int64
	gated     bool
	threshold float64
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "channels",
			Usage:       "conv channels of the demo model",
			Value:       4,
			Destination: &channels,
		},
		&cli.Int64Flag{
			Name:        "seq-len",
			Aliases:     []string{"len"},
			Usage:       "sequence length of the demo model",
			Value:       16,
			Destination: &seqLen,
		},
		&cli.Int64Flag{
			Name:        "classes",
			Usage:       "output classes of the demo model",
			Value:       3,
			Destination: &classes,
		},
		&cli.Int64Flag{
			Name:        "batch",
			Aliases:     []string{"b"},
			Usage:       "calibration batch size",
			Value:       2,
			Destination: &batch,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "seed for weights and calibration inputs",
			Value:       1,
			Destination: &seed,
		},
		&cli.Int64Flag{
			Name:        "passes",
			Aliases:     []string{"n"},
			Usage:       "number of calibration passes",
			Value:       8,
			Destination: &passes,
		},
		&cli.BoolFlag{
			Name:        "gated",
			Usage:       "use the gated demo model with data-dependent control flow",
			Destination: &gated,
		},
		&cli.Float64Flag{
			Name:        "threshold",
			Usage:       "gate threshold of the gated demo model",
			Destination: &threshold,
		},
	}
}

func buildLog() logger.Logger {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	switch logFormat {
	case "json":
		return logger.JSON(os.Stderr, level)
	case "text":
		return logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	default:
		return logger.Pretty(os.Stderr, level)
	}
}

func demoConfig() toy.ConvNetConfig {
	return toy.ConvNetConfig{
		InChannels: 1,
		Channels:   int(channels),
		SeqLen:     int(seqLen),
		Classes:    int(classes),
	}
}
