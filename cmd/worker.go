package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/teamdesk/internal/jobqueue"
)

// WorkerCommand runs the attachment cleanup workers without the HTTP server
func WorkerCommand() *cli.Command {
	return &cli.Command{
		Name:  "worker",
		Usage: "Run the background job workers",
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := bootstrap(ctx, c)
			if err != nil {
				return err
			}
			defer rt.Close()

			jobs, err := jobqueue.NewJobQueue(rt.pool, queueConfig(rt.cfg), rt.blobs, rt.logger)
			if err != nil {
				return err
			}
			if err := jobs.Start(ctx); err != nil {
				return fmt.Errorf("failed to start job queue: %w", err)
			}
			rt.logger.Info().Int("max_workers", rt.cfg.Jobs.MaxWorkers).Msg("workers running")

			<-ctx.Done()
			rt.logger.Info().Msg("stopping workers")
			return jobs.Stop(context.WithoutCancel(ctx))
		},
	}
}
