package backend

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samcharles93/convtune/internal/backend/sim"
	"github.com/samcharles93/convtune/internal/conv"
	"github.com/samcharles93/convtune/internal/memory"
)

const (
	Sim   = "sim"
	CUDNN = "cudnn"
	Auto  = "auto"
)

var errCUDNNUnavailable = errors.New("cudnn backend is not available in this build")

func Normalize(name string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(name))
	if backend == "" {
		return Auto, nil
	}
	switch backend {
	case Sim, CUDNN, Auto:
		return backend, nil
	default:
		return "", fmt.Errorf("unknown backend %q (expected auto, sim, or cudnn)", backend)
	}
}

// Has reports whether the named backend is compiled in.
func Has(name string) bool {
	return name == Sim
}

// Available returns a comma-separated list of available backends.
func Available() string {
	entries := []string{Sim}
	if Has(CUDNN) {
		entries = append(entries, CUDNN)
	}
	return strings.Join(entries, ",")
}

// Options configure the device a Runtime opens.
type Options struct {
	SM        int
	Memory    int64
	FindDelay time.Duration
}

// Runtime bundles a compute backend with its allocator, event pool and
// streams.
type Runtime struct {
	Backend   conv.Backend
	Allocator *memory.Pool
	Events    conv.EventPool

	trace *sim.Trace
}

// NewStream opens a named execution stream.
func (r *Runtime) NewStream(name string) conv.Stream {
	return r.trace.NewStream(name)
}

// Trace returns the simulated launch trace, or nil for real devices.
func (r *Runtime) Trace() *sim.Trace {
	return r.trace
}

func (r *Runtime) Close() error {
	return r.Allocator.Close()
}

// Open resolves name and opens the backend.
func Open(name string, opts Options) (*Runtime, error) {
	name, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	switch name {
	case CUDNN:
		return nil, errCUDNNUnavailable
	default:
		trace := sim.NewTrace()
		return &Runtime{
			Backend: sim.New(sim.Config{
				SM:        opts.SM,
				Memory:    opts.Memory,
				FindDelay: opts.FindDelay,
			}),
			Allocator: memory.NewPool(memory.HostDevice{}),
			Events:    trace,
			trace:     trace,
		}, nil
	}
}
