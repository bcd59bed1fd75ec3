package conv

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSelectOutlivesCancelledCaller(t *testing.T) {
	t.Parallel()

	b := newFakeBackend(70)
	primeFake(b)
	b.block = make(chan struct{})
	b.entered = make(chan struct{}, 1)
	sel := &Selector{
		Registry:   NewRegistry(),
		Discoverer: NewDiscoverer(b, &sync.Mutex{}, nil),
	}
	p, pol := testProblem(), DefaultPolicy()

	firstCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	type result struct {
		sel Selection
		err error
	}
	first := make(chan result, 1)
	go func() {
		s, _, err := sel.Select(firstCtx, p, pol, true)
		first <- result{s, err}
	}()
	<-b.entered

	second := make(chan result, 1)
	go func() {
		s, _, err := sel.Select(context.Background(), p, pol, true)
		second <- result{s, err}
	}()
	// Let the second caller join the in-flight discovery before the first
	// one goes away.
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(b.block)

	r2 := <-second
	if r2.err != nil {
		t.Fatalf("live caller failed after another caller cancelled: %v", r2.err)
	}
	r1 := <-first
	if r1.err != nil {
		t.Fatalf("shared discovery should complete: %v", r1.err)
	}
	if r1.sel != r2.sel {
		t.Fatalf("callers saw different selections: %+v vs %+v", r1.sel, r2.sel)
	}
	if got := b.finds.Load(); got != int64(len(Roles)) {
		t.Fatalf("finds: got %d want %d", got, len(Roles))
	}
	if sel.Registry.Len() != 1 {
		t.Fatalf("registry entries: %d", sel.Registry.Len())
	}
}
