package main

import (
	"context"
	"fmt"
	"os"

	"github.com/samcharles93/convtune/internal/api"
	"github.com/urfave/cli/v3"
)

func registryCmd() *cli.Command {
	var (
		layersPath string
		outPath    string
	)

	return &cli.Command{
		Name:  "registry",
		Usage: "Select for every layer of a layers file and dump the registry snapshot as JSON",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "layers",
				Aliases:     []string{"f"},
				Usage:       "YAML file listing convolutions",
				Required:    true,
				Destination: &layersPath,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "write the snapshot to this file instead of stdout",
				Destination: &outPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			reqs, err := loadLayers(layersPath)
			if err != nil {
				return err
			}
			eng, err := openEngine(ctx, cmd, 0)
			if err != nil {
				return err
			}
			defer eng.Close()

			server := eng.server()
			for _, req := range reqs {
				if _, err := server.Select(ctx, req); err != nil {
					return fmt.Errorf("%s: %w", req.Name, err)
				}
			}

			snapshot := api.RegistryResponse{
				Object:  "list",
				Entries: eng.registry.Snapshot(),
				Stats:   eng.registry.Stats(),
			}
			if outPath == "" {
				return writeJSON(os.Stdout, snapshot)
			}
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			if err := writeJSON(f, snapshot); err != nil {
				_ = f.Close()
				return err
			}
			eng.log.Info("registry snapshot written", "path", outPath, "entries", len(snapshot.Entries))
			return f.Close()
		},
	}
}
