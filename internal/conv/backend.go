package conv

import (
	"context"
	"fmt"

	"github.com/samcharles93/convtune/internal/memory"
)

// Device describes the GPU an operator runs on.
type Device struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	// SM is the compute capability as major*10+minor (e.g. 70 for Volta).
	SM int `json:"sm"`
}

// Arch is the architecture tag used in signatures.
func (d Device) Arch() string {
	return fmt.Sprintf("sm_%d", d.SM)
}

// SupportsFloat16 reports native fp16 arithmetic (sm_53 and newer).
func (d Device) SupportsFloat16() bool {
	return d.SM >= 53
}

// SupportsAcceleratedMath reports tensor-core style math (sm_70 and newer).
func (d Device) SupportsAcceleratedMath() bool {
	return d.SM >= 70
}

// Query carries the per-call options of a discovery query.
type Query struct {
	AllowAccelerated bool
	// Workspace is only a hint for heuristic queries.
	Workspace int64
}

// Kernel is one kernel launch handed to the backend.
type Kernel struct {
	Role      Role
	Choice    Choice
	Problem   Problem
	Stream    Stream
	Workspace memory.Buffer
	// Accumulate blends into the destination instead of overwriting it.
	Accumulate bool

	// Sources and destination, interpreted per role.
	X, W, Y memory.Buffer
}

// Backend is the GPU compute backend: it proposes candidates, sizes
// workspaces and runs kernels for a chosen algorithm.
type Backend interface {
	Name() string
	Device() Device
	// Heuristic returns candidates in the library-preferred order without
	// running anything.
	Heuristic(ctx context.Context, role Role, p Problem, q Query) ([]Candidate, error)
	// Find benchmarks every algorithm and returns them fastest first.
	Find(ctx context.Context, role Role, p Problem, q Query) ([]Candidate, error)
	WorkspaceSize(role Role, p Problem, c Choice) (int64, error)
	Launch(ctx context.Context, k Kernel) error
	// AddBias adds a per-channel bias into the output on stream s.
	AddBias(ctx context.Context, p Problem, s Stream, bias, y memory.Buffer) error
	// BiasGrad reduces the output gradient into the bias gradient on stream s.
	BiasGrad(ctx context.Context, p Problem, s Stream, dy, dbias memory.Buffer, accumulate bool) error
}
