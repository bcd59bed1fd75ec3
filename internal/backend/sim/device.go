package sim

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// hostVector reports the widest vector extension of the host CPU and its
// register width in bits.
func hostVector() (string, int) {
	switch {
	case cpu.X86.HasAVX512F:
		return "avx512", 512
	case cpu.X86.HasAVX2:
		return "avx2", 256
	case cpu.ARM64.HasSVE:
		return "sve", 256
	case cpu.ARM64.HasASIMD:
		return "neon", 128
	case cpu.X86.HasSSE2:
		return "sse2", 128
	default:
		return runtime.GOARCH, 64
	}
}

// peakScale maps a vector width to a throughput multiplier, with 256-bit
// hosts at 1.
func peakScale(bits int) float64 {
	if bits <= 0 {
		return 1
	}
	return float64(bits) / 256
}
