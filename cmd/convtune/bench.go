package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/samcharles93/convtune/internal/api"
	"github.com/samcharles93/convtune/internal/backend/sim"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func benchCmd() *cli.Command {
	var (
		pf          problemFlags
		concurrency int64
		findDelay   time.Duration
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Run concurrent selections of one signature and report how many discoveries ran",
		Flags: append(pf.flags(),
			&cli.Int64Flag{
				Name:        "concurrency",
				Aliases:     []string{"n"},
				Usage:       "number of concurrent selections",
				Value:       64,
				Destination: &concurrency,
			},
			&cli.DurationFlag{
				Name:        "find-delay",
				Usage:       "simulated duration of one exhaustive search",
				Value:       20 * time.Millisecond,
				Destination: &findDelay,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if concurrency < 1 {
				return fmt.Errorf("--concurrency must be at least 1")
			}
			if pf.input == "" && pf.weight == "" {
				pf.input, pf.weight, pf.pad = "32x64x56x56", "64x64x3x3", "1x1"
			}
			req, err := pf.request(cmd)
			if err != nil {
				return err
			}
			eng, err := openEngine(ctx, cmd, findDelay)
			if err != nil {
				return err
			}
			defer eng.Close()

			res, err := runBench(ctx, eng.server(), req, int(concurrency))
			if err != nil {
				return err
			}
			stats := eng.registry.Stats()

			fmt.Fprintf(os.Stdout, "selections:   %d\n", concurrency)
			fmt.Fprintf(os.Stdout, "discoveries:  %d\n", stats.Computes)
			fmt.Fprintf(os.Stdout, "cache hits:   %d\n", stats.Hits)
			if c, ok := eng.runtime.Backend.(interface{ Counters() sim.Counters }); ok {
				counters := c.Counters()
				fmt.Fprintf(os.Stdout, "finds:        %d\n", counters.Finds)
				fmt.Fprintf(os.Stdout, "heuristics:   %d\n", counters.Heuristics)
			}
			fmt.Fprintf(os.Stdout, "distinct:     %d\n", res.distinct)
			fmt.Fprintf(os.Stdout, "elapsed:      %s\n", res.elapsed.Round(time.Microsecond))
			return nil
		},
	}
}

type benchResult struct {
	elapsed time.Duration
	// distinct counts the different selections handed out; it is 1 unless
	// the cache is broken.
	distinct int
}

func runBench(ctx context.Context, server *api.Server, req api.ProblemRequest, n int) (benchResult, error) {
	out := make([]api.SelectResponse, n)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			resp, err := server.Select(gctx, req)
			if err != nil {
				return err
			}
			out[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return benchResult{}, err
	}
	res := benchResult{elapsed: time.Since(start)}

	seen := make(map[string]struct{})
	for _, resp := range out {
		key := fmt.Sprintf("%s|%+v", resp.Key, resp.Selection)
		seen[key] = struct{}{}
	}
	res.distinct = len(seen)
	return res, nil
}
