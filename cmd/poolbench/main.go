// Package main is the entry point for poolbench, a cross-provider stake-pool
// benchmark engine that turns per-epoch chain snapshots into normalized,
// comparable pool metrics.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v1"

	"github.com/yourorg/poolbench/internal/config"
	"github.com/yourorg/poolbench/internal/model"
	"github.com/yourorg/poolbench/internal/otel"
)

var (
	epochFlag = cli.Uint64Flag{
		Name:  "epoch",
		Usage: "epoch number to operate on",
	}
	sourceFlag = cli.StringFlag{
		Name:  "source",
		Usage: "snapshot file to import",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "poolbench"
	app.Usage = "cross-provider stake-pool benchmark engine"
	app.Version = "1.0.0"
	app.Commands = []cli.Command{
		{
			Name:   "prepare-epoch",
			Usage:  "import or validate an epoch snapshot",
			Flags:  []cli.Flag{epochFlag, sourceFlag},
			Action: prepareEpochAction,
		},
		{
			Name:   "generate-metas",
			Usage:  "run the benchmark pipeline for one epoch",
			Flags:  []cli.Flag{epochFlag},
			Action: generateMetasAction,
		},
		{
			Name:   "list",
			Usage:  "list the records emitted for one epoch",
			Flags:  []cli.Flag{epochFlag},
			Action: listAction,
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

// setupLogging configures the logging for the application.
func setupLogging(cfg config.Config) {
	switch strings.ToLower(cfg.LogFormat) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}

// serveMetrics exposes the Prometheus registry for the duration of the run.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logrus.WithField("addr", addr).Info("Metrics listener started")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logrus.WithError(err).Warn("Metrics listener stopped")
	}
}

func requireEpoch(ctx *cli.Context) (model.Epoch, error) {
	if !ctx.IsSet(epochFlag.Name) {
		return 0, fmt.Errorf("--%s is required", epochFlag.Name)
	}
	return model.Epoch(ctx.Uint64(epochFlag.Name)), nil
}

func generateMetasAction(ctx *cli.Context) error {
	cfg := config.Load()
	setupLogging(cfg)

	epoch, err := requireEpoch(ctx)
	if err != nil {
		return err
	}

	shutdown := otel.InitTracer(cfg.OtelEndpoint)
	defer shutdown()

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	eng, cleanup, err := buildEngine(runCtx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := eng.Run(runCtx, epoch)
	if err != nil {
		return err
	}
	if result.Failed() {
		return fmt.Errorf("epoch %d finished with failures: %d conflicts, %d/%d pools emitted",
			epoch, len(result.Conflicts), result.Emitted, len(result.Pools))
	}
	return nil
}
