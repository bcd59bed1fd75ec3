package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/samcharles93/convtune/internal/backend"
	"github.com/samcharles93/convtune/internal/backend/sim"
	"github.com/samcharles93/convtune/internal/conv"
	"github.com/samcharles93/convtune/internal/memory"
	"github.com/urfave/cli/v3"
)

func traceCmd() *cli.Command {
	var (
		pf    problemFlags
		iters int64
		bias  bool
	)

	return &cli.Command{
		Name:  "trace",
		Usage: "Run forward and backward passes of one convolution on the sim backend and print the stream trace",
		Flags: append(pf.flags(),
			&cli.Int64Flag{
				Name:        "iterations",
				Usage:       "number of forward/backward passes",
				Value:       1,
				Destination: &iters,
			},
			&cli.BoolFlag{
				Name:        "bias",
				Usage:       "add a bias term",
				Destination: &bias,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			req, err := pf.request(cmd)
			if err != nil {
				return err
			}
			p, err := req.Problem()
			if err != nil {
				return err
			}
			eng, err := openEngine(ctx, cmd, 0)
			if err != nil {
				return err
			}
			defer eng.Close()

			pol, err := req.ApplyPolicy(eng.policy)
			if err != nil {
				return err
			}
			op, err := conv.NewOperator(ctx, conv.OperatorConfig{
				Problem:   p,
				Policy:    &pol,
				Backend:   eng.runtime.Backend,
				Allocator: eng.runtime.Allocator,
				Events:    eng.runtime.Events,
				Registry:  eng.registry,
				Config:    eng.config,
				Log:       eng.log,
			})
			if err != nil {
				return err
			}
			defer op.Close()

			if err := runPasses(ctx, eng.runtime, op, int(iters), bias); err != nil {
				return err
			}
			printTrace(os.Stdout, eng.runtime, op)
			return nil
		},
	}
}

// runPasses issues forward then backward iters times. Tensor buffers are
// placeholders; the sim backend only checks workspace.
func runPasses(ctx context.Context, rt *backend.Runtime, op *conv.Operator, iters int, bias bool) error {
	primary := rt.NewStream("primary")
	aux := rt.NewStream("aux")
	req := conv.ReqWrite
	weightReq := conv.ReqWrite
	if op.Signature().AddToWeight {
		weightReq = conv.ReqAdd
	}

	tensor := memory.HostBuffer(make([]byte, 1))
	var b, db memory.Buffer
	if bias {
		b = memory.HostBuffer(make([]byte, 1))
		db = memory.HostBuffer(make([]byte, 1))
	}
	for range iters {
		if err := op.Forward(ctx, conv.ForwardArgs{
			Stream: primary,
			X:      tensor,
			W:      tensor,
			Bias:   b,
			Y:      tensor,
			Req:    req,
		}); err != nil {
			return err
		}
		if err := op.Backward(ctx, conv.BackwardArgs{
			Primary:   primary,
			Aux:       aux,
			DY:        tensor,
			X:         tensor,
			W:         tensor,
			DX:        tensor,
			DW:        tensor,
			DBias:     db,
			DataReq:   req,
			WeightReq: weightReq,
			BiasReq:   req,
		}); err != nil {
			return err
		}
	}
	return nil
}

func printTrace(w io.Writer, rt *backend.Runtime, op *conv.Operator) {
	sel := op.Selection()
	fmt.Fprintf(w, "forward %d, backprop-to-data %d, backprop-to-filter %d (stream state %s)\n",
		sel.Forward.Algo, sel.BackwardData.Algo, sel.BackwardFilter.Algo, op.StreamState())
	trace := rt.Trace()
	if trace == nil {
		return
	}
	for _, o := range trace.Ops() {
		line := o.String()
		if o.Kind == sim.OpLaunch {
			line += fmt.Sprintf(" algo=%d ws=[%d,+%d)", o.Algo, o.WorkspaceOffset, o.WorkspaceLen)
		}
		fmt.Fprintf(w, "  %9.4f..%9.4f ms  %s\n", o.Start, o.End, line)
	}
	stats := rt.Allocator.Stats()
	fmt.Fprintf(w, "makespan %.4f ms, scratch allocs %d, reuses %d, reserved %s\n",
		trace.Makespan(), stats.Allocs, stats.Reuses, formatBytes(stats.Reserved))
}
