package cmd

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/teamdesk/internal/config"
	"github.com/teamdesk/internal/database"
	"github.com/teamdesk/internal/jobqueue"
	"github.com/teamdesk/internal/logging"
	"github.com/teamdesk/internal/storage"
)

// runtime holds the handles shared by the long-running commands. Close
// releases them in reverse order of acquisition.
type runtime struct {
	cfg    *config.Config
	logger zerolog.Logger
	db     *sql.DB
	pool   *pgxpool.Pool
	blobs  storage.Store

	closers []func()
}

// loadConfig reads .env files and the config file named by the global flags
func loadConfig(c *cli.Context) (*config.Config, error) {
	if err := config.LoadDotEnv(c.StringSlice("env-file")...); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func databaseOptions(cfg *config.Config) database.Options {
	return database.Options{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}
}

func storageOptions(cfg *config.Config) storage.Options {
	return storage.Options{
		Driver:          cfg.Storage.Driver,
		Bucket:          cfg.Storage.Bucket,
		Region:          cfg.Storage.Region,
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		LocalDir:        cfg.Storage.LocalDir,
		Timeout:         cfg.Storage.Timeout,
	}
}

func queueConfig(cfg *config.Config) *jobqueue.QueueConfig {
	qc := jobqueue.DefaultQueueConfig()
	if cfg.Jobs.MaxWorkers > 0 {
		qc.MaxWorkers = cfg.Jobs.MaxWorkers
	}
	if cfg.Jobs.MaxAttempts > 0 {
		qc.MaxAttempts = cfg.Jobs.MaxAttempts
	}
	if cfg.Jobs.JobTimeout > 0 {
		qc.JobTimeout = cfg.Jobs.JobTimeout
	}
	return qc
}

// bootstrap loads configuration, sets up logging and opens the database
// handles and the object store.
func bootstrap(ctx context.Context, c *cli.Context) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger, err := logging.Setup(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, logger: logger}

	db, err := database.NewDB(ctx, databaseOptions(cfg), logger)
	if err != nil {
		return nil, err
	}
	rt.db = db
	rt.closers = append(rt.closers, func() { db.Close() })

	pool, err := database.NewPool(ctx, databaseOptions(cfg))
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.pool = pool
	rt.closers = append(rt.closers, pool.Close)

	blobs, err := storage.New(ctx, storageOptions(cfg))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to create object storage: %w", err)
	}
	rt.blobs = blobs

	logger.Info().
		Str("storage_driver", cfg.Storage.Driver).
		Bool("jobs_enabled", cfg.Jobs.Enabled).
		Msg("runtime initialized")
	return rt, nil
}

func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
