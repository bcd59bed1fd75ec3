package conv

import "fmt"

// Role identifies which of the three convolution kernels an algorithm serves.
type Role uint8

const (
	RoleForward Role = iota
	RoleBackwardData
	RoleBackwardFilter
)

var roleNames = [...]string{
	RoleForward:        "forward",
	RoleBackwardData:   "backprop-to-data",
	RoleBackwardFilter: "backprop-to-filter",
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Roles lists every role in discovery order.
var Roles = [...]Role{RoleForward, RoleBackwardFilter, RoleBackwardData}

// AlgoID is a backend algorithm number for one role.
type AlgoID int32

// NoPreference disables the per-role algorithm preference.
const NoPreference AlgoID = -1

// Status is the outcome the backend reported for one candidate.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusNotSupported
	StatusAllocFailed
	StatusExecutionFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNotSupported:
		return "not_supported"
	case StatusAllocFailed:
		return "alloc_failed"
	case StatusExecutionFailed:
		return "execution_failed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Candidate is one algorithm proposed by the backend, either benchmarked
// (Time is meaningful) or heuristically ranked.
type Candidate struct {
	Algo        AlgoID
	Time        float32 // milliseconds
	Memory      int64   // workspace bytes
	Status      Status
	Accelerated bool
}

// MathMode is the math mode a descriptor must be set to for a choice.
type MathMode uint8

const (
	MathDefault MathMode = iota
	MathAccelerated
)

func (m MathMode) String() string {
	if m == MathAccelerated {
		return "accelerated"
	}
	return "default"
}

// Choice is the algorithm selected for one role.
type Choice struct {
	Algo        AlgoID `json:"algo"`
	Accelerated bool   `json:"accelerated"`
}

func (c Choice) MathMode() MathMode {
	if c.Accelerated {
		return MathAccelerated
	}
	return MathDefault
}

// Entry is the cached result of discovery for one signature.
type Entry struct {
	Forward                 Choice `json:"forward"`
	BackwardData            Choice `json:"backward_data"`
	BackwardFilter          Choice `json:"backward_filter"`
	ForwardWorkspace        int64  `json:"forward_workspace"`
	BackwardDataWorkspace   int64  `json:"backward_data_workspace"`
	BackwardFilterWorkspace int64  `json:"backward_filter_workspace"`
}

// Choice returns the choice stored for role.
func (e Entry) Choice(role Role) Choice {
	switch role {
	case RoleBackwardData:
		return e.BackwardData
	case RoleBackwardFilter:
		return e.BackwardFilter
	default:
		return e.Forward
	}
}

func (e *Entry) setChoice(role Role, c Choice) {
	switch role {
	case RoleBackwardData:
		e.BackwardData = c
	case RoleBackwardFilter:
		e.BackwardFilter = c
	default:
		e.Forward = c
	}
}

// Workspace returns the workspace bytes recorded for role.
func (e Entry) Workspace(role Role) int64 {
	switch role {
	case RoleBackwardData:
		return e.BackwardDataWorkspace
	case RoleBackwardFilter:
		return e.BackwardFilterWorkspace
	default:
		return e.ForwardWorkspace
	}
}

func (e *Entry) setWorkspace(role Role, n int64) {
	switch role {
	case RoleBackwardData:
		e.BackwardDataWorkspace = n
	case RoleBackwardFilter:
		e.BackwardFilterWorkspace = n
	default:
		e.ForwardWorkspace = n
	}
}
