package memory

import (
	"fmt"
	"unsafe"
)

// Buffer is a view into device memory. Device-backed buffers carry a raw
// pointer; host-backed buffers (used by simulated devices) carry a slice.
type Buffer struct {
	ptr  unsafe.Pointer
	host []byte
	off  int64
	n    int64
}

// DeviceBuffer wraps n bytes of device memory starting at ptr.
func DeviceBuffer(ptr unsafe.Pointer, n int64) Buffer {
	return Buffer{ptr: ptr, n: n}
}

// HostBuffer wraps a host slice.
func HostBuffer(b []byte) Buffer {
	return Buffer{host: b, n: int64(len(b))}
}

func (b Buffer) Len() int64 {
	return b.n
}

// Offset is the byte offset of this view from the start of its allocation.
func (b Buffer) Offset() int64 {
	return b.off
}

func (b Buffer) IsZero() bool {
	return b.ptr == nil && b.host == nil
}

// Ptr returns the device address of the first byte, or nil for host buffers.
func (b Buffer) Ptr() unsafe.Pointer {
	if b.ptr == nil {
		return nil
	}
	return unsafe.Add(b.ptr, b.off)
}

// Host returns the backing bytes of a host buffer, or nil.
func (b Buffer) Host() []byte {
	if b.host == nil {
		return nil
	}
	return b.host[b.off : b.off+b.n]
}

// SameAllocation reports whether both views share a base allocation.
func (b Buffer) SameAllocation(o Buffer) bool {
	if b.ptr != nil {
		return b.ptr == o.ptr
	}
	if len(b.host) == 0 || len(o.host) == 0 {
		return false
	}
	return &b.host[:1][0] == &o.host[:1][0]
}

// Slice returns the n-byte view starting off bytes into b.
func (b Buffer) Slice(off, n int64) Buffer {
	if off < 0 || n < 0 || off+n > b.n {
		panic(fmt.Sprintf("memory: slice [%d:%d] out of range for %d-byte buffer", off, off+n, b.n))
	}
	out := b
	out.off = b.off + off
	out.n = n
	return out
}
