// Package sim is a deterministic stand-in for a GPU convolution library. It
// proposes and "benchmarks" algorithms from an analytic cost model, sizes
// their workspaces and traces kernel launches on simulated streams. No
// convolution math is performed.
package sim

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/samcharles93/convtune/internal/conv"
	"github.com/samcharles93/convtune/internal/memory"
)

const (
	// peakFlopsPerMs is the simulated fp32 peak (15 TFLOP/s) on a 256-bit
	// vector host.
	peakFlopsPerMs   = 15e9
	launchOverheadMs = 0.005

	// halfSpeedup applies to accelerated fp16 math.
	halfSpeedup = 0.4

	// singleSpeedup applies to accelerated math on fp32 data; it is within
	// the equivalence threshold, so such twins are treated as equal.
	singleSpeedup = 0.998

	DefaultMemory = 16 << 30
)

type Config struct {
	SM int
	// Memory bounds the workspace an algorithm may need before it is
	// reported as failing to allocate.
	Memory int64
	// FindDelay makes Find slow, like a real exhaustive search.
	FindDelay time.Duration
	// PeakScale multiplies the simulated peak throughput. Zero derives it
	// from the host CPU's vector width.
	PeakScale float64
}

// Backend implements conv.Backend.
type Backend struct {
	cfg    Config
	device conv.Device
	// peak is the fp32 throughput in flops per millisecond.
	peak float64

	finds      atomic.Int64
	heuristics atomic.Int64
	launches   atomic.Int64
}

func New(cfg Config) *Backend {
	if cfg.SM == 0 {
		cfg.SM = 70
	}
	if cfg.Memory <= 0 {
		cfg.Memory = DefaultMemory
	}
	features, bits := hostVector()
	if cfg.PeakScale <= 0 {
		cfg.PeakScale = peakScale(bits)
	}
	return &Backend{
		cfg:  cfg,
		peak: peakFlopsPerMs * cfg.PeakScale,
		device: conv.Device{
			ID:   0,
			Name: "sim-" + features,
			SM:   cfg.SM,
		},
	}
}

func (b *Backend) Name() string {
	return "sim"
}

func (b *Backend) Device() conv.Device {
	return b.device
}

// Counters reports how often each backend entry point ran.
type Counters struct {
	Finds      int64
	Heuristics int64
	Launches   int64
}

func (b *Backend) Counters() Counters {
	return Counters{
		Finds:      b.finds.Load(),
		Heuristics: b.heuristics.Load(),
		Launches:   b.launches.Load(),
	}
}

func (b *Backend) acceleratedOK(q conv.Query) bool {
	return q.AllowAccelerated && b.device.SupportsAcceleratedMath()
}

func (b *Backend) estimate(spec algoSpec, g geom, accelerated bool) float32 {
	ms := g.flops()/(b.peak*spec.eff) + launchOverheadMs
	if g.compute == conv.Float64 {
		ms *= 8
	}
	if accelerated {
		if g.compute == conv.Float16 {
			ms *= halfSpeedup
		} else {
			ms *= singleSpeedup
		}
	}
	return float32(ms)
}

func (b *Backend) candidates(role conv.Role, p conv.Problem, q conv.Query, timed bool) []conv.Candidate {
	g := geometry(p, role)
	specs := algoTable[role]
	out := make([]conv.Candidate, 0, 2*len(specs))
	for _, spec := range specs {
		if !spec.supports(g) {
			out = append(out, conv.Candidate{Algo: spec.id, Time: -1, Status: conv.StatusNotSupported})
			continue
		}
		ws := spec.workspace(g)
		status := conv.StatusSuccess
		if ws > b.cfg.Memory {
			status = conv.StatusAllocFailed
		}
		variants := []bool{false}
		if spec.accelerated && b.acceleratedOK(q) {
			variants = []bool{true, false}
		}
		for _, accel := range variants {
			c := conv.Candidate{Algo: spec.id, Memory: ws, Status: status, Accelerated: accel, Time: -1}
			if status == conv.StatusSuccess {
				c.Time = b.estimate(spec, g, accel)
			}
			out = append(out, c)
		}
	}

	if timed {
		slices.SortStableFunc(out, func(a, c conv.Candidate) int {
			if a.Status != c.Status {
				return cmp.Compare(statusRank(a.Status), statusRank(c.Status))
			}
			return cmp.Compare(a.Time, c.Time)
		})
		return out
	}

	// Heuristic order: algorithms that fit the hinted workspace first,
	// each group in estimated-speed order, and no times reported.
	slices.SortStableFunc(out, func(a, c conv.Candidate) int {
		if a.Status != c.Status {
			return cmp.Compare(statusRank(a.Status), statusRank(c.Status))
		}
		if fa, fc := fits(a, q), fits(c, q); fa != fc {
			if fa {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.Time, c.Time)
	})
	for i := range out {
		out[i].Time = -1
	}
	return out
}

func fits(c conv.Candidate, q conv.Query) bool {
	return q.Workspace <= 0 || c.Memory <= q.Workspace
}

func statusRank(s conv.Status) int {
	if s == conv.StatusSuccess {
		return 0
	}
	return 1
}

func (b *Backend) Heuristic(ctx context.Context, role conv.Role, p conv.Problem, q conv.Query) ([]conv.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.heuristics.Add(1)
	return b.candidates(role, p, q, false), nil
}

func (b *Backend) Find(ctx context.Context, role conv.Role, p conv.Problem, q conv.Query) ([]conv.Candidate, error) {
	b.finds.Add(1)
	if b.cfg.FindDelay > 0 {
		t := time.NewTimer(b.cfg.FindDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return b.candidates(role, p, q, true), nil
}

func (b *Backend) WorkspaceSize(role conv.Role, p conv.Problem, c conv.Choice) (int64, error) {
	spec, ok := lookupAlgo(role, c.Algo)
	if !ok {
		return 0, fmt.Errorf("sim: unknown %s algorithm %d", role, c.Algo)
	}
	g := geometry(p, role)
	if !spec.supports(g) {
		return 0, fmt.Errorf("sim: %s algorithm %d (%s) does not support this convolution", role, c.Algo, spec.name)
	}
	return spec.workspace(g), nil
}

func stream(s conv.Stream) (*Stream, error) {
	st, ok := s.(*Stream)
	if !ok || st == nil {
		return nil, errForeignStream
	}
	return st, nil
}

// Launch traces a kernel after checking it was given enough workspace.
func (b *Backend) Launch(ctx context.Context, k conv.Kernel) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	st, err := stream(k.Stream)
	if err != nil {
		return err
	}
	spec, ok := lookupAlgo(k.Role, k.Choice.Algo)
	if !ok {
		return fmt.Errorf("sim: unknown %s algorithm %d", k.Role, k.Choice.Algo)
	}
	g := geometry(k.Problem, k.Role)
	need := spec.workspace(g)
	if k.Workspace.Len() < need {
		return fmt.Errorf("sim: %s algorithm %d needs %d workspace bytes, got %d", k.Role, k.Choice.Algo, need, k.Workspace.Len())
	}
	b.launches.Add(1)
	ms := float64(launchOverheadMs)
	if spec.supports(g) {
		ms = float64(b.estimate(spec, g, k.Choice.Accelerated))
	}
	st.run(Op{
		Kind:            OpLaunch,
		Role:            k.Role,
		Algo:            k.Choice.Algo,
		WorkspaceOffset: k.Workspace.Offset(),
		WorkspaceLen:    k.Workspace.Len(),
	}, ms)
	return nil
}

func (b *Backend) AddBias(ctx context.Context, p conv.Problem, s conv.Stream, bias, y memory.Buffer) error {
	st, err := stream(s)
	if err != nil {
		return err
	}
	st.run(Op{Kind: OpBias}, launchOverheadMs)
	return nil
}

func (b *Backend) BiasGrad(ctx context.Context, p conv.Problem, s conv.Stream, dy, dbias memory.Buffer, accumulate bool) error {
	st, err := stream(s)
	if err != nil {
		return err
	}
	st.run(Op{Kind: OpBiasGrad}, launchOverheadMs)
	return nil
}
