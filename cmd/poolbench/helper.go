package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/urfave/cli.v1"

	"github.com/yourorg/poolbench/internal/chainstate"
	"github.com/yourorg/poolbench/internal/config"
	"github.com/yourorg/poolbench/internal/engine"
	"github.com/yourorg/poolbench/internal/livequery"
	"github.com/yourorg/poolbench/internal/metrics"
	"github.com/yourorg/poolbench/internal/security"
	"github.com/yourorg/poolbench/internal/sink"
)

// buildEngine assembles the engine from configuration. The returned cleanup
// closes every sink and cache connection.
func buildEngine(ctx context.Context, cfg config.Config) (*engine.Engine, func(), error) {
	var closers []io.Closer
	cleanup := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logrus.WithError(err).Warn("Cleanup failed")
			}
		}
	}

	fileSink, err := sink.NewFileSink(cfg.OutputDir)
	if err != nil {
		return nil, nil, err
	}
	sinks := sink.Multi{fileSink}
	closers = append(closers, fileSink)

	if cfg.DatabaseURL != "" {
		pg, err := sink.NewPostgresSink(ctx, cfg.DatabaseURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		sinks = append(sinks, pg)
		closers = append(closers, pg)
	}

	opts := engine.Options{
		Loader:  chainstate.NewDirLoader(cfg.SnapshotDir),
		Sink:    sinks,
		Workers: cfg.Workers,
		Metrics: metrics.Register(nil),
	}

	if cfg.RPCEndpoint != "" {
		var cache livequery.Cache
		if cfg.RedisURL != "" {
			redisCache, err := livequery.NewRedisCache(cfg.RedisURL)
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			cache = redisCache
			closers = append(closers, redisCache)
		}
		opts.Live = livequery.New(livequery.Options{
			Endpoint:          cfg.RPCEndpoint,
			Timeout:           cfg.RequestTimeout,
			MaxRetries:        cfg.MaxRetries,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Cache:             cache,
		})
	} else {
		logrus.Warn("No RPC endpoint configured, live-query fallbacks disabled")
	}

	if cfg.SigningKey != "" {
		signer, err := security.NewSigner(cfg.SigningKey)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opts.Signer = signer
	}

	return engine.New(opts), cleanup, nil
}

// prepareEpochAction imports a snapshot file into the snapshot directory, or
// validates an already-present one when no source is given.
func prepareEpochAction(ctx *cli.Context) error {
	cfg := config.Load()
	setupLogging(cfg)

	epoch, err := requireEpoch(ctx)
	if err != nil {
		return err
	}

	dest := filepath.Join(cfg.SnapshotDir, fmt.Sprintf("epoch_%d", epoch), "accounts.json")

	if source := ctx.String(sourceFlag.Name); source != "" {
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("snapshot for epoch %d already present at %s", epoch, dest)
		}
		if err := copyFile(source, dest); err != nil {
			return err
		}
	}

	loader := chainstate.NewDirLoader(cfg.SnapshotDir)
	snap, err := loader.Load(context.Background(), epoch)
	if err != nil {
		return fmt.Errorf("validate snapshot for epoch %d: %w", epoch, err)
	}

	logrus.WithFields(logrus.Fields{
		"epoch":    snap.Epoch(),
		"slot":     snap.Slot(),
		"duration": snap.EpochDuration(),
	}).Info("Snapshot ready")
	return nil
}

func listAction(ctx *cli.Context) error {
	cfg := config.Load()
	setupLogging(cfg)

	epoch, err := requireEpoch(ctx)
	if err != nil {
		return err
	}

	fileSink, err := sink.NewFileSink(cfg.OutputDir)
	if err != nil {
		return err
	}
	keys, err := fileSink.ListEmitted(context.Background(), epoch)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Printf("no records emitted for epoch %d\n", epoch)
		return nil
	}
	for _, key := range keys {
		fmt.Println(key)
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dest), err)
	}
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy snapshot: %w", err)
	}
	return out.Sync()
}
