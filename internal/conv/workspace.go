package conv

import (
	"fmt"

	"github.com/samcharles93/convtune/internal/memory"
)

// Alignment is the base alignment of device allocations. Backward
// workspaces are rounded to it so both halves of a split buffer stay aligned.
const Alignment = memory.Alignment

// RoundUp rounds x up to the next multiple of m.
func RoundUp(x, m int64) int64 {
	if m <= 0 {
		return x
	}
	return (x + m - 1) / m * m
}

// WorkspaceLayout is the scratch plan of one operator instance.
type WorkspaceLayout struct {
	Forward        int64 `json:"forward"`
	BackwardData   int64 `json:"backward_data"`
	BackwardFilter int64 `json:"backward_filter"`
	// Backward is the size of the combined backward buffer.
	Backward   int64 `json:"backward"`
	DualStream bool  `json:"dual_stream"`
	// DataOffset and FilterOffset locate the two regions inside the
	// backward buffer. Both are zero in single-stream mode.
	DataOffset   int64 `json:"data_offset"`
	FilterOffset int64 `json:"filter_offset"`
	ElemSize     int64 `json:"elem_size"`
}

// PlanWorkspace sizes the forward and backward scratch buffers.
func PlanWorkspace(e Entry, dualStream bool, elemSize int64) WorkspaceLayout {
	if elemSize <= 0 {
		elemSize = 1
	}
	dgrad := RoundUp(e.BackwardDataWorkspace, Alignment)
	wgrad := RoundUp(e.BackwardFilterWorkspace, Alignment)
	l := WorkspaceLayout{
		Forward:        e.ForwardWorkspace,
		BackwardData:   dgrad,
		BackwardFilter: wgrad,
		DualStream:     dualStream,
		ElemSize:       elemSize,
	}
	if !dualStream {
		l.Backward = max(dgrad, wgrad)
		return l
	}
	l.Backward = dgrad + wgrad
	// The larger region keeps the allocation's own base address.
	if dgrad > wgrad {
		l.FilterOffset = dgrad
	} else {
		l.DataOffset = wgrad
	}
	return l
}

// AllocBytes is the allocation for an n-byte requirement: whole elements,
// never fewer than one.
func (l WorkspaceLayout) AllocBytes(n int64) int64 {
	words := max(1, RoundUp(n, l.ElemSize)/l.ElemSize)
	return words * l.ElemSize
}

// ForwardAlloc is the scratch size Forward requests.
func (l WorkspaceLayout) ForwardAlloc() int64 {
	return l.AllocBytes(l.Forward)
}

// BackwardAlloc is the scratch size Backward requests.
func (l WorkspaceLayout) BackwardAlloc() int64 {
	return l.AllocBytes(l.Backward)
}

// Split returns the data-gradient and filter-gradient regions of a backward
// buffer. In single-stream mode both regions start at the buffer base.
func (l WorkspaceLayout) Split(buf memory.Buffer) (dgrad, wgrad memory.Buffer, err error) {
	if !l.DualStream {
		if l.BackwardData > buf.Len() || l.BackwardFilter > buf.Len() {
			return memory.Buffer{}, memory.Buffer{}, fmt.Errorf("backward workspace of %d bytes is smaller than plan (%d, %d)",
				buf.Len(), l.BackwardData, l.BackwardFilter)
		}
		return buf.Slice(0, l.BackwardData), buf.Slice(0, l.BackwardFilter), nil
	}
	if l.BackwardData+l.BackwardFilter > buf.Len() {
		return memory.Buffer{}, memory.Buffer{}, fmt.Errorf("backward workspace of %d bytes is smaller than plan %d",
			buf.Len(), l.BackwardData+l.BackwardFilter)
	}
	return buf.Slice(l.DataOffset, l.BackwardData), buf.Slice(l.FilterOffset, l.BackwardFilter), nil
}
