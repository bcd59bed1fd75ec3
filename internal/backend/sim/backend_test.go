package sim

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samcharles93/convtune/internal/conv"
	"github.com/samcharles93/convtune/internal/memory"
)

func resnetProblem() conv.Problem {
	return conv.Problem{
		Input:           conv.MakeShape(8, 64, 56, 56),
		Weight:          conv.MakeShape(64, 64, 3, 3),
		Output:          conv.MakeShape(8, 64, 56, 56),
		Stride:          conv.MakeSpatial(1, 1),
		Pad:             conv.MakeSpatial(1, 1),
		Dilation:        conv.MakeSpatial(1, 1),
		Groups:          1,
		Layout:          conv.NCHW,
		DType:           conv.Float32,
		ForwardCompute:  conv.Float32,
		BackwardCompute: conv.Float32,
	}
}

func TestFindOrdersByTime(t *testing.T) {
	t.Parallel()

	b := New(Config{})
	got, err := b.Find(context.Background(), conv.RoleForward, resnetProblem(), conv.Query{AllowAccelerated: true})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) < 2 {
		t.Fatalf("too few candidates: %+v", got)
	}
	if got[0].Algo != 6 || !got[0].Accelerated || got[1].Algo != 6 || got[1].Accelerated {
		t.Fatalf("expected accelerated winograd then its plain twin, got %+v %+v", got[0], got[1])
	}
	if got[1].Time > got[0].Time*1.01 {
		t.Fatalf("fp32 twins should be within the equivalence threshold: %v %v", got[0].Time, got[1].Time)
	}

	failed := false
	var last float32
	for _, c := range got {
		if c.Status != conv.StatusSuccess {
			failed = true
			if c.Time != -1 {
				t.Fatalf("failed candidate reports a time: %+v", c)
			}
			continue
		}
		if failed {
			t.Fatalf("successful candidate after a failed one: %+v", got)
		}
		if c.Time < last {
			t.Fatalf("times not ascending: %+v", got)
		}
		last = c.Time
	}
	if !failed {
		t.Fatal("direct convolution should be reported as not supported")
	}
	if n := b.Counters().Finds; n != 1 {
		t.Fatalf("finds: %d", n)
	}
}

func TestAcceleratedVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		sm    int
		allow bool
		want  bool
	}{
		{"volta allowed", 70, true, true},
		{"volta disallowed", 70, false, false},
		{"pascal", 61, true, false},
	}
	for _, tt := range tests {
		b := New(Config{SM: tt.sm})
		got, err := b.Find(context.Background(), conv.RoleBackwardData, resnetProblem(), conv.Query{AllowAccelerated: tt.allow})
		if err != nil {
			t.Fatalf("%s: Find: %v", tt.name, err)
		}
		accel := false
		for _, c := range got {
			accel = accel || c.Accelerated
		}
		if accel != tt.want {
			t.Fatalf("%s: accelerated candidates %v, want %v", tt.name, accel, tt.want)
		}
	}
}

func TestHeuristicPrefersFittingWorkspace(t *testing.T) {
	t.Parallel()

	b := New(Config{})
	got, err := b.Heuristic(context.Background(), conv.RoleBackwardFilter, resnetProblem(), conv.Query{Workspace: 1})
	if err != nil {
		t.Fatalf("Heuristic: %v", err)
	}
	over := false
	for _, c := range got {
		if c.Time != -1 {
			t.Fatalf("heuristic candidates carry no time: %+v", c)
		}
		if c.Status != conv.StatusSuccess {
			continue
		}
		if c.Memory > 1 {
			over = true
		} else if over {
			t.Fatalf("fitting candidate listed after an oversized one: %+v", got)
		}
	}
	if got[0].Memory != 0 {
		t.Fatalf("first heuristic pick should need no workspace: %+v", got[0])
	}
	if c := b.Counters(); c.Heuristics != 1 || c.Finds != 0 {
		t.Fatalf("counters: %+v", c)
	}
}

func TestMemoryLimitFailsAllocation(t *testing.T) {
	t.Parallel()

	b := New(Config{Memory: 1})
	got, err := b.Find(context.Background(), conv.RoleForward, resnetProblem(), conv.Query{})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	sawAlloc := false
	for _, c := range got {
		if c.Status == conv.StatusAllocFailed {
			sawAlloc = true
			if c.Memory <= 1 || c.Time != -1 {
				t.Fatalf("unexpected alloc failure: %+v", c)
			}
		}
	}
	if !sawAlloc {
		t.Fatal("expected algorithms needing workspace to fail allocation")
	}
}

func TestFindHonoursContext(t *testing.T) {
	t.Parallel()

	b := New(Config{FindDelay: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Find(ctx, conv.RoleForward, resnetProblem(), conv.Query{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWorkspaceSize(t *testing.T) {
	t.Parallel()

	b := New(Config{})
	p := resnetProblem()
	if ws, err := b.WorkspaceSize(conv.RoleForward, p, conv.Choice{Algo: 6}); err != nil || ws != 0 {
		t.Fatalf("winograd: %d %v", ws, err)
	}
	ws, err := b.WorkspaceSize(conv.RoleForward, p, conv.Choice{Algo: 2})
	if err != nil {
		t.Fatalf("gemm: %v", err)
	}
	if want := int64(4 * 64 * 9 * 56 * 56); ws != want {
		t.Fatalf("gemm workspace: got %d want %d", ws, want)
	}
	if _, err := b.WorkspaceSize(conv.RoleForward, p, conv.Choice{Algo: 3}); err == nil {
		t.Fatal("expected error for unsupported algorithm")
	}
	if _, err := b.WorkspaceSize(conv.RoleForward, p, conv.Choice{Algo: 99}); err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}

type otherStream struct{}

func (otherStream) Name() string            { return "other" }
func (otherStream) Record(conv.Event) error { return nil }
func (otherStream) Wait(conv.Event) error   { return nil }

func TestLaunch(t *testing.T) {
	t.Parallel()

	b := New(Config{})
	tr := NewTrace()
	s := tr.NewStream("primary")
	p := resnetProblem()
	k := conv.Kernel{Role: conv.RoleForward, Choice: conv.Choice{Algo: 2}, Problem: p, Stream: s}

	k.Workspace = memory.HostBuffer(make([]byte, 16))
	if err := b.Launch(context.Background(), k); err == nil {
		t.Fatal("expected error for undersized workspace")
	}

	need, _ := b.WorkspaceSize(conv.RoleForward, p, k.Choice)
	k.Workspace = memory.HostBuffer(make([]byte, need+64)).Slice(64, need)
	if err := b.Launch(context.Background(), k); err != nil {
		t.Fatalf("Launch: %v", err)
	}
	ops := tr.Ops()
	if len(ops) != 1 || ops[0].Kind != OpLaunch || ops[0].WorkspaceOffset != 64 || ops[0].WorkspaceLen != need {
		t.Fatalf("trace: %+v", ops)
	}
	if s.Now() <= 0 || ops[0].End != s.Now() {
		t.Fatalf("stream clock not advanced: now %v op %+v", s.Now(), ops[0])
	}
	if b.Counters().Launches != 1 {
		t.Fatalf("launches: %+v", b.Counters())
	}

	k.Stream = otherStream{}
	if err := b.Launch(context.Background(), k); !errors.Is(err, errForeignStream) {
		t.Fatalf("expected foreign stream error, got %v", err)
	}
}

func TestEventsOrderStreams(t *testing.T) {
	t.Parallel()

	tr := NewTrace()
	primary := tr.NewStream("primary")
	aux := tr.NewStream("aux")
	ev, err := tr.NewEvent()
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}

	// Waiting on an event nobody recorded does not move the clock.
	if err := primary.Wait(ev); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if primary.Now() != 0 {
		t.Fatalf("primary clock moved: %v", primary.Now())
	}

	aux.run(Op{Kind: OpBias}, 2)
	if err := aux.Record(ev); err != nil {
		t.Fatalf("Record: %v", err)
	}
	primary.run(Op{Kind: OpBias}, 1)
	if err := primary.Wait(ev); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if primary.Now() != 2 {
		t.Fatalf("primary should wait for aux: now %v", primary.Now())
	}
	if tr.Makespan() != 2 {
		t.Fatalf("makespan: %v", tr.Makespan())
	}

	want := []string{"primary:wait(e1)", "aux:bias", "aux:record(e1)", "primary:bias", "primary:wait(e1)"}
	got := tr.Strings()
	if len(got) != len(want) {
		t.Fatalf("trace: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("trace[%d]: got %q want %q", i, got[i], want[i])
		}
	}

	if err := ev.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if err := ev.Destroy(); !errors.Is(err, errDestroyedEvent) {
		t.Fatalf("double destroy: %v", err)
	}
	if err := aux.Record(ev); !errors.Is(err, errDestroyedEvent) {
		t.Fatalf("record destroyed: %v", err)
	}
	if err := primary.Wait(ev); !errors.Is(err, errDestroyedEvent) {
		t.Fatalf("wait destroyed: %v", err)
	}

	tr.Reset()
	if len(tr.Ops()) != 0 {
		t.Fatal("Reset should clear the trace")
	}
}

func TestPeakScale(t *testing.T) {
	t.Parallel()

	for bits, want := range map[int]float64{512: 2, 256: 1, 128: 0.5, 0: 1} {
		if got := peakScale(bits); got != want {
			t.Fatalf("peakScale(%d) = %v, want %v", bits, got, want)
		}
	}

	_, bits := hostVector()
	if got := New(Config{}).cfg.PeakScale; got != peakScale(bits) {
		t.Fatalf("default scale %v does not follow host width %d", got, bits)
	}

	p := resnetProblem()
	q := conv.Query{}
	slow, _ := New(Config{PeakScale: 1}).Find(context.Background(), conv.RoleForward, p, q)
	fast, _ := New(Config{PeakScale: 2}).Find(context.Background(), conv.RoleForward, p, q)
	if len(slow) != len(fast) {
		t.Fatalf("candidate lists differ: %d vs %d", len(slow), len(fast))
	}
	for i := range slow {
		if slow[i].Algo != fast[i].Algo {
			t.Fatalf("scaling changed the ranking at %d: %+v vs %+v", i, slow[i], fast[i])
		}
		if slow[i].Status == conv.StatusSuccess && fast[i].Time >= slow[i].Time {
			t.Fatalf("wider host should be faster: %+v vs %+v", fast[i], slow[i])
		}
	}
}
