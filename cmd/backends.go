package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/quiltcore/unisearch/pkg/config"
)

// BackendsCommand creates the backends command
func BackendsCommand() *cli.Command {
	return &cli.Command{
		Name:  "backends",
		Usage: "List the backends the current configuration enables",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := config.LoadConfig(c.String("config"))
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			rt, cleanup, err := buildService(ctx, cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ids := rt.service.BackendIDs()
			if len(ids) == 0 {
				fmt.Println("No backends configured")
				return nil
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}
