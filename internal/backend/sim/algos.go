package sim

import (
	"github.com/samcharles93/convtune/internal/conv"
)

// geom is the convolution reduced to the numbers the cost model needs.
type geom struct {
	n, c, k, groups int64
	in, kernel, out []int64
	stride, dil     []int64
	elem            int64
	compute         conv.DType
}

func geometry(p conv.Problem, role conv.Role) geom {
	in := p.Input.Slice()
	w := p.Weight.Slice()
	out := p.Output.Slice()
	g := geom{
		groups: p.Groups,
		stride: p.Stride.Slice(),
		dil:    p.Dilation.Slice(),
		elem:   p.DType.Size(),
	}
	if p.Layout.ChannelsLast() {
		last := len(in) - 1
		g.n, g.c = in[0], in[last]
		g.k = w[0]
		g.in = in[1:last]
		g.kernel = w[1:last]
		g.out = out[1:last]
	} else {
		g.n, g.c = in[0], in[1]
		g.k = w[0]
		g.in = in[2:]
		g.kernel = w[2:]
		g.out = out[2:]
	}
	g.compute = p.ForwardCompute
	if role != conv.RoleForward {
		g.compute = p.BackwardCompute
	}
	return g
}

func prod(v []int64) int64 {
	n := int64(1)
	for _, x := range v {
		n *= x
	}
	return n
}

func all(v []int64, want int64) bool {
	for _, x := range v {
		if x != want {
			return false
		}
	}
	return true
}

func (g geom) flops() float64 {
	return 2 * float64(g.n) * float64(g.k) * float64(g.c/g.groups) * float64(prod(g.out)) * float64(prod(g.kernel))
}

func (g geom) plain() bool {
	return g.groups == 1 && all(g.stride, 1) && all(g.dil, 1)
}

func (g geom) kernelIs(size int64) bool {
	return len(g.kernel) == 2 && all(g.kernel, size)
}

func nextPow2(x int64) int64 {
	n := int64(1)
	for n < x {
		n <<= 1
	}
	return n
}

// algoSpec describes one simulated algorithm of one role.
type algoSpec struct {
	id   conv.AlgoID
	name string
	// eff scales the device peak throughput.
	eff         float64
	accelerated bool
	supports    func(g geom) bool
	workspace   func(g geom) int64
}

func always(geom) bool       { return true }
func never(geom) bool        { return false }
func noWorkspace(geom) int64 { return 0 }

func precompWorkspace(g geom) int64 {
	return 4 * prod(g.kernel) * prod(g.out)
}

func gemmWorkspace(g geom) int64 {
	return g.elem * (g.c / g.groups) * prod(g.kernel) * prod(g.out)
}

func fftSupported(g geom) bool {
	return g.plain() && len(g.kernel) == 2 && g.kernel[0] <= 32 && g.kernel[1] <= 32
}

func fftWorkspace(g geom) int64 {
	size := int64(1)
	for i, d := range g.in {
		size *= nextPow2(d + g.kernel[i] - 1)
	}
	return g.elem * 2 * g.n * (g.c + g.k) * size
}

func fftTilingWorkspace(g geom) int64 {
	tiles := int64(1)
	for _, d := range g.out {
		tiles *= (d + 31) / 32
	}
	return g.elem * 2 * (g.c + g.k) * 64 * 64 * min(tiles, 16)
}

func winogradSupported(g geom) bool {
	return g.plain() && g.kernelIs(3)
}

func winogradNonfusedSupported(g geom) bool {
	return g.plain() && (g.kernelIs(3) || g.kernelIs(5))
}

func winogradNonfusedWorkspace(g geom) int64 {
	tiles := int64(1)
	for _, d := range g.out {
		tiles *= (d + 3) / 4
	}
	return g.elem * 36 * (g.c*g.k + g.n*(g.c+g.k)*tiles)
}

// Algorithm numbering follows the common vendor enumeration.
var algoTable = map[conv.Role][]algoSpec{
	conv.RoleForward: {
		{0, "implicit_gemm", 0.35, true, always, noWorkspace},
		{1, "implicit_precomp_gemm", 0.55, true, always, precompWorkspace},
		{2, "gemm", 0.50, false, always, gemmWorkspace},
		{3, "direct", 0, false, never, noWorkspace},
		{4, "fft", 0.80, false, fftSupported, fftWorkspace},
		{5, "fft_tiling", 0.70, false, fftSupported, fftTilingWorkspace},
		{6, "winograd", 1.10, true, winogradSupported, noWorkspace},
		{7, "winograd_nonfused", 1.00, true, winogradNonfusedSupported, winogradNonfusedWorkspace},
	},
	conv.RoleBackwardData: {
		{0, "algo_0", 0.30, false, always, noWorkspace},
		{1, "algo_1", 0.50, true, always, precompWorkspace},
		{2, "fft", 0.75, false, fftSupported, fftWorkspace},
		{3, "fft_tiling", 0.65, false, fftSupported, fftTilingWorkspace},
		{4, "winograd", 1.05, true, winogradSupported, noWorkspace},
		{5, "winograd_nonfused", 0.95, true, winogradNonfusedSupported, winogradNonfusedWorkspace},
	},
	conv.RoleBackwardFilter: {
		{0, "algo_0", 0.30, false, always, noWorkspace},
		{1, "algo_1", 0.50, true, always, precompWorkspace},
		{2, "fft", 0.70, false, fftSupported, fftWorkspace},
		{3, "algo_3", 0.45, false, always, gemmWorkspace},
		{4, "winograd", 0, false, never, noWorkspace},
		{5, "winograd_nonfused", 0.90, true, winogradNonfusedSupported, winogradNonfusedWorkspace},
		{6, "fft_tiling", 0.60, false, fftSupported, fftTilingWorkspace},
	},
}

func lookupAlgo(role conv.Role, id conv.AlgoID) (algoSpec, bool) {
	for _, a := range algoTable[role] {
		if a.id == id {
			return a, true
		}
	}
	return algoSpec{}, false
}
