package sim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/samcharles93/convtune/internal/conv"
)

// OpKind is the kind of one traced stream operation.
type OpKind string

const (
	OpRecord   OpKind = "record"
	OpWait     OpKind = "wait"
	OpLaunch   OpKind = "launch"
	OpBias     OpKind = "bias"
	OpBiasGrad OpKind = "bias_grad"
)

// Op is one entry of a Trace.
type Op struct {
	Stream string
	Kind   OpKind
	Event  int
	Role   conv.Role
	Algo   conv.AlgoID
	// Workspace region handed to a launch.
	WorkspaceOffset int64
	WorkspaceLen    int64
	// Start and End are simulated stream times in milliseconds.
	Start float64
	End   float64
}

func (o Op) String() string {
	switch o.Kind {
	case OpRecord, OpWait:
		return fmt.Sprintf("%s:%s(e%d)", o.Stream, o.Kind, o.Event)
	case OpLaunch:
		return fmt.Sprintf("%s:%s(%s)", o.Stream, o.Kind, o.Role)
	default:
		return fmt.Sprintf("%s:%s", o.Stream, o.Kind)
	}
}

// Trace records the operations of every stream sharing it, in issue order.
type Trace struct {
	mu     sync.Mutex
	ops    []Op
	events int
}

func NewTrace() *Trace {
	return &Trace{}
}

func (t *Trace) add(op Op) {
	t.mu.Lock()
	t.ops = append(t.ops, op)
	t.mu.Unlock()
}

func (t *Trace) Ops() []Op {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Op(nil), t.ops...)
}

// Strings renders the trace as "stream:kind(arg)" items.
func (t *Trace) Strings() []string {
	ops := t.Ops()
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.String()
	}
	return out
}

func (t *Trace) Reset() {
	t.mu.Lock()
	t.ops = nil
	t.mu.Unlock()
}

// Makespan is the latest simulated completion time across all operations.
func (t *Trace) Makespan() float64 {
	var end float64
	for _, op := range t.Ops() {
		end = max(end, op.End)
	}
	return end
}

// Stream is a simulated device queue with its own clock.
type Stream struct {
	name  string
	trace *Trace

	mu  sync.Mutex
	now float64
}

func (t *Trace) NewStream(name string) *Stream {
	return &Stream{name: name, trace: t}
}

func (s *Stream) Name() string {
	return s.name
}

// Now is the simulated time at which all queued work completes.
func (s *Stream) Now() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *Stream) Record(ev conv.Event) error {
	e, ok := ev.(*Event)
	if !ok {
		return errForeignEvent
	}
	s.mu.Lock()
	now := s.now
	s.mu.Unlock()

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return errDestroyedEvent
	}
	e.at = now
	e.recorded = true
	e.mu.Unlock()

	s.trace.add(Op{Stream: s.name, Kind: OpRecord, Event: e.id, Start: now, End: now})
	return nil
}

func (s *Stream) Wait(ev conv.Event) error {
	e, ok := ev.(*Event)
	if !ok {
		return errForeignEvent
	}
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return errDestroyedEvent
	}
	at, recorded := e.at, e.recorded
	e.mu.Unlock()

	s.mu.Lock()
	start := s.now
	if recorded {
		s.now = max(s.now, at)
	}
	end := s.now
	s.mu.Unlock()

	s.trace.add(Op{Stream: s.name, Kind: OpWait, Event: e.id, Start: start, End: end})
	return nil
}

// run advances the stream clock by ms and traces op.
func (s *Stream) run(op Op, ms float64) {
	s.mu.Lock()
	op.Stream = s.name
	op.Start = s.now
	s.now += ms
	op.End = s.now
	s.mu.Unlock()
	s.trace.add(op)
}

var (
	errForeignEvent   = errors.New("sim: event was not created by the sim backend")
	errForeignStream  = errors.New("sim: stream was not created by the sim backend")
	errDestroyedEvent = errors.New("sim: event already destroyed")
)

// Event is a simulated synchronization point.
type Event struct {
	id int

	mu        sync.Mutex
	at        float64
	recorded  bool
	destroyed bool
}

func (e *Event) ID() int {
	return e.id
}

func (e *Event) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return errDestroyedEvent
	}
	e.destroyed = true
	return nil
}

// NewEvent implements conv.EventPool.
func (t *Trace) NewEvent() (conv.Event, error) {
	t.mu.Lock()
	t.events++
	id := t.events
	t.mu.Unlock()
	return &Event{id: id}, nil
}
