package conv

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testSignature(t *testing.T, mutate func(p *Problem)) Signature {
	t.Helper()
	p := testProblem()
	if mutate != nil {
		mutate(&p)
	}
	sig, err := NewSignature(p, Device{SM: 70}, DefaultPolicy())
	if err != nil {
		t.Fatalf("NewSignature: %v", err)
	}
	return sig
}

func TestRegistryComputesOncePerSignature(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	sig := testSignature(t, nil)
	want := Entry{Forward: Choice{Algo: 6, Accelerated: true}, ForwardWorkspace: 128}

	var calls atomic.Int64
	release := make(chan struct{})
	compute := func() (Entry, error) {
		calls.Add(1)
		<-release
		return want, nil
	}

	const n = 64
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
		results = make([]Entry, n)
		errs    = make([]error, n)
	)
	started.Add(n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started.Done()
			results[i], errs[i] = r.FindOrCompute(sig, compute)
		}()
	}
	started.Wait()
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("compute ran %d times, want 1", got)
	}
	for i := range n {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != want {
			t.Fatalf("caller %d: got %+v", i, results[i])
		}
	}
	if r.Len() != 1 {
		t.Fatalf("registry holds %d entries, want 1", r.Len())
	}
	stats := r.Stats()
	if stats.Computes != 1 || stats.Hits+stats.Misses != n {
		t.Fatalf("stats: %+v", stats)
	}

	again, err := r.FindOrCompute(sig, func() (Entry, error) {
		t.Fatal("compute should not run for a cached signature")
		return Entry{}, nil
	})
	if err != nil || again != want {
		t.Fatalf("cached lookup: %+v %v", again, err)
	}
}

func TestRegistryDistinctSignaturesComputeIndependently(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	a := testSignature(t, nil)
	b := testSignature(t, func(p *Problem) { p.AddToWeight = true })

	blockA := make(chan struct{})
	doneB := make(chan struct{})
	go func() {
		_, _ = r.FindOrCompute(a, func() (Entry, error) {
			<-blockA
			return Entry{}, nil
		})
	}()

	go func() {
		defer close(doneB)
		if _, err := r.FindOrCompute(b, func() (Entry, error) { return Entry{Forward: Choice{Algo: 1}}, nil }); err != nil {
			t.Errorf("FindOrCompute(b): %v", err)
		}
	}()

	select {
	case <-doneB:
	case <-time.After(2 * time.Second):
		t.Fatal("a slow computation blocked an unrelated signature")
	}
	close(blockA)

	if e, ok := r.Lookup(b); !ok || e.Forward.Algo != 1 {
		t.Fatalf("lookup b: %+v %v", e, ok)
	}
}

func TestRegistryDoesNotCacheErrors(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	sig := testSignature(t, nil)
	boom := errors.New("boom")

	if _, err := r.FindOrCompute(sig, func() (Entry, error) { return Entry{}, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, ok := r.Lookup(sig); ok {
		t.Fatal("failed computation should not be stored")
	}
	e, err := r.FindOrCompute(sig, func() (Entry, error) { return Entry{Forward: Choice{Algo: 2}}, nil })
	if err != nil || e.Forward.Algo != 2 {
		t.Fatalf("retry: %+v %v", e, err)
	}
}

func TestRegistrySnapshotSorted(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	for _, g := range []int64{4, 1, 2} {
		sig := testSignature(t, func(p *Problem) { p.Groups = g })
		if _, err := r.FindOrCompute(sig, func() (Entry, error) { return Entry{}, nil }); err != nil {
			t.Fatalf("FindOrCompute: %v", err)
		}
	}
	snap := r.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("snapshot has %d entries", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if snap[i-1].Key >= snap[i].Key {
			t.Fatalf("snapshot not sorted at %d: %q >= %q", i, snap[i-1].Key, snap[i].Key)
		}
		if snap[i].Signature.Key() != snap[i].Key {
			t.Fatalf("snapshot key does not match signature")
		}
	}
}
