package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/quiltcore/unisearch/pkg/config"
)

// InitCommand creates the init command
func InitCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write a sample configuration file",
		Action: func(ctx context.Context, c *cli.Command) error {
			path := c.String("config")
			if err := config.WriteSample(path); err != nil {
				return err
			}
			fmt.Printf("Wrote sample configuration to %s\n", path)
			fmt.Println("Configure at least one backend before searching.")
			return nil
		},
	}
}
