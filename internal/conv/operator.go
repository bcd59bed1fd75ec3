package conv

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samcharles93/convtune/internal/logger"
	"github.com/samcharles93/convtune/internal/memory"
)

// Req says how a kernel writes one output.
type Req uint8

const (
	ReqNull Req = iota
	ReqWrite
	ReqAdd
)

func (r Req) String() string {
	switch r {
	case ReqWrite:
		return "write"
	case ReqAdd:
		return "add"
	default:
		return "null"
	}
}

// Selection is what the host framework gets back for one signature.
type Selection struct {
	Forward        Choice          `json:"forward"`
	BackwardData   Choice          `json:"backward_data"`
	BackwardFilter Choice          `json:"backward_filter"`
	Layout         WorkspaceLayout `json:"workspace"`
}

// Selector resolves signatures through a registry, running discovery on a miss.
type Selector struct {
	Registry   *Registry
	Discoverer *Discoverer
	Verbose    int
}

// Select returns the cached or freshly discovered algorithms for p under pol
// together with the workspace plan.
func (s *Selector) Select(ctx context.Context, p Problem, pol Policy, dualStream bool) (Selection, Signature, error) {
	dev := s.Discoverer.Backend.Device()
	sig, err := NewSignature(p, dev, pol)
	if err != nil {
		return Selection{}, Signature{}, err
	}
	// Discovery is shared by every caller waiting on sig; no single caller
	// cancels it.
	dctx := context.WithoutCancel(ctx)
	entry, err := s.Registry.FindOrCompute(sig, func() (Entry, error) {
		e, err := s.Discoverer.Discover(dctx, p, pol)
		if err != nil {
			return Entry{}, err
		}
		if s.Verbose >= VerboseSelection {
			LogSelection(s.Discoverer.Log, dev, sig, e)
		}
		return e, nil
	})
	if err != nil {
		return Selection{}, sig, err
	}
	return Selection{
		Forward:        entry.Forward,
		BackwardData:   entry.BackwardData,
		BackwardFilter: entry.BackwardFilter,
		Layout:         PlanWorkspace(entry, dualStream, p.DType.Size()),
	}, sig, nil
}

// OperatorConfig wires an Operator to its collaborators.
type OperatorConfig struct {
	Problem Problem
	// Policy defaults to DefaultPolicy with the mode and accelerated math
	// setting taken from Config.
	Policy    *Policy
	Backend   Backend
	Allocator memory.Allocator
	// Events is required when Config enables dual-stream execution.
	Events   EventPool
	Registry *Registry
	Config   Config
	Log      logger.Logger
}

// Operator is one convolution instance with its algorithms chosen and its
// workspace planned.
type Operator struct {
	problem Problem
	policy  Policy
	sig     Signature
	backend Backend
	alloc   memory.Allocator
	log     logger.Logger
	sel     Selection
	coord   *Coordinator
}

var serialNotice sync.Once

// NewOperator checks capability, selects algorithms and plans workspace.
func NewOperator(ctx context.Context, cfg OperatorConfig) (*Operator, error) {
	if cfg.Backend == nil {
		return nil, errors.New("operator: backend is required")
	}
	if cfg.Allocator == nil {
		return nil, errors.New("operator: allocator is required")
	}
	if cfg.Log == nil {
		cfg.Log = logger.Discard()
	}
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry()
	}
	pol := DefaultPolicy()
	pol.Mode = cfg.Config.Tune
	pol.AllowAccelerated = cfg.Config.AllowAccelerated
	if cfg.Policy != nil {
		pol = *cfg.Policy
	}

	dev := cfg.Backend.Device()
	if err := Supports(cfg.Problem, pol, dev); err != nil {
		return nil, err
	}

	dual := cfg.Config.DualStream()
	if !dual {
		serialNotice.Do(func() {
			cfg.Log.Info("note: serializing conv dgrad and wgrad conv kernels (legacy behavior)")
		})
	}

	disc := NewDiscoverer(cfg.Backend, cfg.Allocator.Lock(), cfg.Log)
	disc.Verbose = cfg.Config.Verbose
	selector := Selector{Registry: cfg.Registry, Discoverer: disc, Verbose: cfg.Config.Verbose}
	sel, sig, err := selector.Select(ctx, cfg.Problem, pol, dual)
	if err != nil {
		return nil, err
	}

	op := &Operator{
		problem: cfg.Problem,
		policy:  pol,
		sig:     sig,
		backend: cfg.Backend,
		alloc:   cfg.Allocator,
		log:     cfg.Log,
		sel:     sel,
	}
	if dual {
		if cfg.Events == nil {
			return nil, errors.New("operator: dual-stream execution needs an event pool")
		}
		op.coord, err = NewCoordinator(cfg.Events)
		if err != nil {
			return nil, err
		}
	}
	return op, nil
}

func (o *Operator) Signature() Signature {
	return o.sig
}

func (o *Operator) Selection() Selection {
	return o.sel
}

// StreamState reports the handshake state of the last Backward call.
func (o *Operator) StreamState() StreamState {
	if o.coord == nil {
		return StateNotStarted
	}
	return o.coord.State()
}

// ForwardArgs are the buffers of one Forward call.
type ForwardArgs struct {
	Stream Stream
	X, W   memory.Buffer
	// Bias is optional.
	Bias memory.Buffer
	Y    memory.Buffer
	Req  Req
}

func (o *Operator) Forward(ctx context.Context, args ForwardArgs) error {
	if args.Req == ReqNull {
		return nil
	}
	ws, err := o.alloc.Scratch(ctx, o.sel.Layout.ForwardAlloc())
	if err != nil {
		return fmt.Errorf("forward workspace: %w", err)
	}
	defer ws.Release()

	if err := o.backend.Launch(ctx, Kernel{
		Role:       RoleForward,
		Choice:     o.sel.Forward,
		Problem:    o.problem,
		Stream:     args.Stream,
		Workspace:  ws.Buffer,
		Accumulate: args.Req == ReqAdd,
		X:          args.X,
		W:          args.W,
		Y:          args.Y,
	}); err != nil {
		return fmt.Errorf("forward: %w", err)
	}
	if !args.Bias.IsZero() {
		if err := o.backend.AddBias(ctx, o.problem, args.Stream, args.Bias, args.Y); err != nil {
			return fmt.Errorf("forward bias: %w", err)
		}
	}
	return nil
}

// BackwardArgs are the buffers and write requests of one Backward call.
type BackwardArgs struct {
	Primary Stream
	// Aux runs the data-gradient kernel in dual-stream mode. When nil the
	// primary stream is used.
	Aux Stream

	DY, X, W      memory.Buffer
	DX, DW, DBias memory.Buffer

	DataReq, WeightReq, BiasReq Req
}

func (o *Operator) Backward(ctx context.Context, args BackwardArgs) error {
	if args.WeightReq != ReqNull && (args.WeightReq == ReqAdd) != o.problem.AddToWeight {
		return fmt.Errorf("weight gradient request %s does not match operator accumulate=%t", args.WeightReq, o.problem.AddToWeight)
	}

	dual := o.coord != nil && args.Aux != nil
	dgradStream := args.Primary
	if dual {
		dgradStream = args.Aux
	}

	if dual && args.DataReq != ReqNull {
		o.coord.Reset()
		if err := o.coord.Begin(args.Primary, args.Aux); err != nil {
			return err
		}
	}

	ws, err := o.alloc.Scratch(ctx, o.sel.Layout.BackwardAlloc())
	if err != nil {
		return fmt.Errorf("backward workspace: %w", err)
	}
	defer ws.Release()
	dgradWS, wgradWS, err := o.sel.Layout.Split(ws.Buffer)
	if err != nil {
		return err
	}

	if args.BiasReq != ReqNull && !args.DBias.IsZero() {
		if err := o.backend.BiasGrad(ctx, o.problem, args.Primary, args.DY, args.DBias, args.BiasReq == ReqAdd); err != nil {
			return fmt.Errorf("bias gradient: %w", err)
		}
	}

	if args.WeightReq != ReqNull {
		if err := o.backend.Launch(ctx, Kernel{
			Role:       RoleBackwardFilter,
			Choice:     o.sel.BackwardFilter,
			Problem:    o.problem,
			Stream:     args.Primary,
			Workspace:  wgradWS,
			Accumulate: args.WeightReq == ReqAdd,
			X:          args.X,
			W:          args.DW,
			Y:          args.DY,
		}); err != nil {
			return fmt.Errorf("weight gradient: %w", err)
		}
	}

	if args.DataReq != ReqNull {
		if err := o.backend.Launch(ctx, Kernel{
			Role:       RoleBackwardData,
			Choice:     o.sel.BackwardData,
			Problem:    o.problem,
			Stream:     dgradStream,
			Workspace:  dgradWS,
			Accumulate: args.DataReq == ReqAdd,
			X:          args.DX,
			W:          args.W,
			Y:          args.DY,
		}); err != nil {
			return fmt.Errorf("data gradient: %w", err)
		}
		if dual {
			if err := o.coord.Complete(args.Primary, args.Aux); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close releases the stream events.
func (o *Operator) Close() error {
	if o.coord == nil {
		return nil
	}
	return o.coord.Close()
}
