package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/teamdesk/internal/api"
	"github.com/teamdesk/internal/api/auth"
	"github.com/teamdesk/internal/api/messages"
	"github.com/teamdesk/internal/cache"
	"github.com/teamdesk/internal/jobqueue"
	"github.com/teamdesk/internal/messaging"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the teamdesk API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides server.port)",
			},
			&cli.BoolFlag{
				Name:  "no-workers",
				Usage: "Only enqueue cleanup jobs; run workers with the worker command",
			},
		},
		Action: runAPI,
	}
}

func runAPI(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap(ctx, c)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, logger := rt.cfg, rt.logger

	if port := c.Int("port"); port > 0 {
		cfg.Server.Port = port
	}

	svc := messaging.NewService(messaging.NewPostgresStore(rt.db), rt.blobs, logger).
		WithLimits(messaging.Limits{
			MessagePageSize: cfg.Messaging.MessagePageSize,
			SidebarPageSize: cfg.Messaging.SidebarPageSize,
			UsersPageSize:   cfg.Messaging.UsersPageSize,
			MaxPageSize:     cfg.Messaging.MaxPageSize,
			MaxAttachments:  cfg.Messaging.MaxAttachments,
			UploadNamespace: cfg.Storage.Namespace,
		})

	if cfg.Jobs.Enabled {
		workerBlobs := rt.blobs
		if c.Bool("no-workers") {
			workerBlobs = nil
		}
		jobs, err := jobqueue.NewJobQueue(rt.pool, queueConfig(cfg), workerBlobs, logger)
		if err != nil {
			return err
		}
		if err := jobs.Start(ctx); err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
		defer func() {
			if err := jobs.Stop(context.WithoutCancel(ctx)); err != nil {
				logger.Warn().Err(err).Msg("job queue stop failed")
			}
		}()
		svc = svc.WithCleaner(jobs)
	}

	checks := map[string]api.HealthCheck{"database": rt.db.PingContext}

	var permCache cache.Cache = cache.NewMemoryCache()
	if cfg.Redis.URL != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer rc.Close()
		permCache = rc
		checks["redis"] = rc.Ping
	} else {
		logger.Warn().Msg("redis url not configured, using in-process permission cache")
	}

	resolver := auth.NewPermissionResolver(auth.NewSQLPermissionSource(rt.db), permCache, cfg.Redis.PermissionTTL)
	am := auth.NewAuthMiddleware(auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer), resolver)
	handlers := messages.NewHandlers(svc, logger, cfg.Messaging.MaxUploadBytes)

	server := api.NewServer(cfg.Server, am, handlers, checks, logger)
	return server.Start(ctx)
}
