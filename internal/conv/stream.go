package conv

import (
	"errors"
	"fmt"
)

// Stream is a device execution queue.
type Stream interface {
	Name() string
	// Record marks ev as reached once all work queued so far completes.
	Record(ev Event) error
	// Wait holds back work queued after this call until ev is reached.
	Wait(ev Event) error
}

// Event is a reusable synchronization point between streams.
type Event interface {
	Destroy() error
}

// EventPool creates events for an operator instance.
type EventPool interface {
	NewEvent() (Event, error)
}

// StreamState tracks the backward handshake between the primary and
// auxiliary streams.
type StreamState uint8

const (
	StateNotStarted StreamState = iota
	StateAuxDispatched
	StateSynced
)

func (s StreamState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateAuxDispatched:
		return "aux_dispatched"
	case StateSynced:
		return "synced"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Coordinator orders the data-gradient kernel on the auxiliary stream
// against the primary stream. The two events live as long as the operator.
type Coordinator struct {
	canStart   Event
	completion Event
	state      StreamState
}

// NewCoordinator creates the two events from pool. If the second cannot be
// created the first is destroyed.
func NewCoordinator(pool EventPool) (*Coordinator, error) {
	canStart, err := pool.NewEvent()
	if err != nil {
		return nil, fmt.Errorf("create dgrad start event: %w", err)
	}
	completion, err := pool.NewEvent()
	if err != nil {
		_ = canStart.Destroy()
		return nil, fmt.Errorf("create dgrad completion event: %w", err)
	}
	return &Coordinator{canStart: canStart, completion: completion}, nil
}

// State is the handshake state of the current Backward call.
func (c *Coordinator) State() StreamState {
	return c.state
}

// Reset prepares the coordinator for the next Backward call.
func (c *Coordinator) Reset() {
	c.state = StateNotStarted
}

// Begin keeps the auxiliary stream from starting the data-gradient kernel
// before it would have started on the primary stream.
func (c *Coordinator) Begin(primary, aux Stream) error {
	if c.state != StateNotStarted {
		return fmt.Errorf("%w: begin in state %s", ErrStreamState, c.state)
	}
	if err := primary.Record(c.canStart); err != nil {
		return fmt.Errorf("record dgrad start on %s: %w", primary.Name(), err)
	}
	if err := aux.Wait(c.canStart); err != nil {
		return fmt.Errorf("%s wait for dgrad start: %w", aux.Name(), err)
	}
	c.state = StateAuxDispatched
	return nil
}

// Complete makes the primary stream wait for the data-gradient kernel.
func (c *Coordinator) Complete(primary, aux Stream) error {
	if c.state != StateAuxDispatched {
		return fmt.Errorf("%w: complete in state %s", ErrStreamState, c.state)
	}
	if err := aux.Record(c.completion); err != nil {
		return fmt.Errorf("record dgrad completion on %s: %w", aux.Name(), err)
	}
	if err := primary.Wait(c.completion); err != nil {
		return fmt.Errorf("%s wait for dgrad completion: %w", primary.Name(), err)
	}
	c.state = StateSynced
	return nil
}

// Close destroys both events. The coordinator must not be used afterwards.
func (c *Coordinator) Close() error {
	return errors.Join(c.canStart.Destroy(), c.completion.Destroy())
}
