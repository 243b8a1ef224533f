package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/teamdesk/internal/database"
)

// MigrateCommand applies the messaging schema and River's migrations
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations",
		Action: func(c *cli.Context) error {
			rt, err := bootstrap(c.Context, c)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := database.ApplySchema(c.Context, rt.db); err != nil {
				return err
			}
			versions, err := database.MigrateRiver(c.Context, rt.pool)
			if err != nil {
				return err
			}

			rt.logger.Info().Ints("river_versions", versions).Msg("migrations applied")
			fmt.Println("Database is up to date")
			return nil
		},
	}
}
