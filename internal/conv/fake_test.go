package conv

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/samcharles93/convtune/internal/memory"
)

// fakeBackend serves canned candidate lists per role.
type fakeBackend struct {
	dev   Device
	timed map[Role][]Candidate
	heur  map[Role][]Candidate
	ws    map[Role]int64
	err   error
	// unknown algorithms fail WorkspaceSize.
	unknown map[AlgoID]bool
	// When block is set, Find signals entered and waits for block to close
	// or ctx to end.
	block   chan struct{}
	entered chan struct{}

	finds      atomic.Int64
	heuristics atomic.Int64
	queries    []Query
	mu         sync.Mutex
}

func newFakeBackend(sm int) *fakeBackend {
	return &fakeBackend{
		dev:   Device{Name: "fake", SM: sm},
		timed: make(map[Role][]Candidate),
		heur:  make(map[Role][]Candidate),
		ws:    make(map[Role]int64),
	}
}

func (b *fakeBackend) Name() string   { return "fake" }
func (b *fakeBackend) Device() Device { return b.dev }

func (b *fakeBackend) Heuristic(ctx context.Context, role Role, p Problem, q Query) ([]Candidate, error) {
	b.heuristics.Add(1)
	b.record(q)
	if b.err != nil {
		return nil, b.err
	}
	return b.heur[role], nil
}

func (b *fakeBackend) Find(ctx context.Context, role Role, p Problem, q Query) ([]Candidate, error) {
	b.finds.Add(1)
	b.record(q)
	if b.block != nil {
		select {
		case b.entered <- struct{}{}:
		default:
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.block:
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.timed[role], nil
}

func (b *fakeBackend) record(q Query) {
	b.mu.Lock()
	b.queries = append(b.queries, q)
	b.mu.Unlock()
}

func (b *fakeBackend) WorkspaceSize(role Role, p Problem, c Choice) (int64, error) {
	if b.unknown[c.Algo] {
		return 0, fmt.Errorf("fake: unknown %s algorithm %d", role, c.Algo)
	}
	return b.ws[role], nil
}

func (b *fakeBackend) Launch(ctx context.Context, k Kernel) error {
	return nil
}

func (b *fakeBackend) AddBias(ctx context.Context, p Problem, s Stream, bias, y memory.Buffer) error {
	return nil
}

func (b *fakeBackend) BiasGrad(ctx context.Context, p Problem, s Stream, dy, dbias memory.Buffer, accumulate bool) error {
	return nil
}

// countingLocker counts Lock calls.
type countingLocker struct {
	mu    sync.Mutex
	locks atomic.Int64
}

func (l *countingLocker) Lock() {
	l.locks.Add(1)
	l.mu.Lock()
}

func (l *countingLocker) Unlock() {
	l.mu.Unlock()
}

// fakeStream logs Record and Wait calls into a shared log.
type fakeStream struct {
	name string
	log  *[]string
	fail error
}

func (s *fakeStream) Name() string { return s.name }

func (s *fakeStream) Record(ev Event) error {
	if s.fail != nil {
		return s.fail
	}
	*s.log = append(*s.log, fmt.Sprintf("%s:record(%s)", s.name, ev.(*fakeEvent).name))
	return nil
}

func (s *fakeStream) Wait(ev Event) error {
	if s.fail != nil {
		return s.fail
	}
	*s.log = append(*s.log, fmt.Sprintf("%s:wait(%s)", s.name, ev.(*fakeEvent).name))
	return nil
}

type fakeEvent struct {
	name      string
	destroyed bool
}

func (e *fakeEvent) Destroy() error {
	if e.destroyed {
		return fmt.Errorf("event %s destroyed twice", e.name)
	}
	e.destroyed = true
	return nil
}

type fakeEventPool struct {
	n      int
	failAt int
	events []*fakeEvent
}

func (p *fakeEventPool) NewEvent() (Event, error) {
	p.n++
	if p.failAt == p.n {
		return nil, fmt.Errorf("no more events")
	}
	names := []string{"", "start", "done"}
	name := fmt.Sprintf("e%d", p.n)
	if p.n < len(names) {
		name = names[p.n]
	}
	ev := &fakeEvent{name: name}
	p.events = append(p.events, ev)
	return ev, nil
}

func testProblem() Problem {
	return Problem{
		Input:           MakeShape(8, 64, 56, 56),
		Weight:          MakeShape(64, 64, 3, 3),
		Output:          MakeShape(8, 64, 56, 56),
		Stride:          MakeSpatial(1, 1),
		Pad:             MakeSpatial(1, 1),
		Dilation:        MakeSpatial(1, 1),
		Groups:          1,
		Layout:          NCHW,
		DType:           Float32,
		ForwardCompute:  Float32,
		BackwardCompute: Float32,
	}
}
