package main

import (
	"context"
	"fmt"

	"github.com/samcharles93/convtune/internal/backend"
	"github.com/samcharles93/convtune/internal/version"

	"github.com/urfave/cli/v3"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			fmt.Printf("version:    %s\n", info.Version)
			if info.Commit != "" {
				fmt.Printf("commit:     %s\n", info.Commit)
				if info.Dirty {
					fmt.Println("            (modified working tree)")
				}
			}
			if info.BuildTime != "" {
				fmt.Printf("build time: %s\n", info.BuildTime)
			}
			fmt.Printf("backends:   %s\n", backend.Available())
			return nil
		},
	}
}
