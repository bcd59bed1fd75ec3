package conv

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// MaxRank is the largest tensor rank a convolution may use (3-D convolution).
	MaxRank = 5
	// MaxSpatial is the number of spatial axes of a 3-D convolution.
	MaxSpatial = MaxRank - 2
)

// DType is an element or compute data type.
type DType uint8

const (
	Float32 DType = iota
	Float64
	Float16
)

func (d DType) Size() int64 {
	switch d {
	case Float64:
		return 8
	case Float16:
		return 2
	default:
		return 4
	}
}

func (d DType) String() string {
	switch d {
	case Float64:
		return "float64"
	case Float16:
		return "float16"
	default:
		return "float32"
	}
}

func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "float32", "fp32", "f32":
		return Float32, nil
	case "float64", "fp64", "f64":
		return Float64, nil
	case "float16", "fp16", "f16", "half":
		return Float16, nil
	default:
		return Float32, fmt.Errorf("unknown dtype %q (expected float32, float64, or float16)", s)
	}
}

// Layout is the memory layout of the data tensors.
type Layout uint8

const (
	NCHW Layout = iota
	NCW
	NCDHW
	NHWC
	NWC
	NDHWC
)

var layoutNames = [...]string{
	NCHW:  "NCHW",
	NCW:   "NCW",
	NCDHW: "NCDHW",
	NHWC:  "NHWC",
	NWC:   "NWC",
	NDHWC: "NDHWC",
}

func (l Layout) String() string {
	if int(l) < len(layoutNames) {
		return layoutNames[l]
	}
	return fmt.Sprintf("layout(%d)", uint8(l))
}

func ParseLayout(s string) (Layout, error) {
	want := strings.ToUpper(strings.TrimSpace(s))
	if want == "" {
		return NCHW, nil
	}
	for i, name := range layoutNames {
		if name == want {
			return Layout(i), nil
		}
	}
	return NCHW, fmt.Errorf("unknown layout %q", s)
}

// ChannelsLast reports whether the channel axis is the innermost one.
func (l Layout) ChannelsLast() bool {
	return l == NHWC || l == NWC || l == NDHWC
}

// Rank is the tensor rank implied by the layout.
func (l Layout) Rank() int {
	switch l {
	case NCW, NWC:
		return 3
	case NCDHW, NDHWC:
		return 5
	default:
		return 4
	}
}

// Shape is a fixed-capacity tensor shape so it can take part in map keys.
type Shape struct {
	Dims [MaxRank]int64
	Rank uint8
}

func MakeShape(dims ...int64) Shape {
	var s Shape
	n := copy(s.Dims[:], dims)
	s.Rank = uint8(n)
	return s
}

func (s Shape) Slice() []int64 {
	return append([]int64(nil), s.Dims[:s.Rank]...)
}

// Size is the number of elements.
func (s Shape) Size() int64 {
	if s.Rank == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range s.Dims[:s.Rank] {
		n *= d
	}
	return n
}

func (s Shape) String() string {
	return joinDims(s.Dims[:s.Rank])
}

// Spatial holds one value per spatial axis (stride, pad or dilation).
type Spatial struct {
	Vals [MaxSpatial]int64
	Rank uint8
}

func MakeSpatial(vals ...int64) Spatial {
	var s Spatial
	n := copy(s.Vals[:], vals)
	s.Rank = uint8(n)
	return s
}

func (s Spatial) Slice() []int64 {
	return append([]int64(nil), s.Vals[:s.Rank]...)
}

// Product multiplies the values together.
func (s Spatial) Product() int64 {
	n := int64(1)
	for _, v := range s.Vals[:s.Rank] {
		n *= v
	}
	return n
}

func (s Spatial) String() string {
	return joinDims(s.Vals[:s.Rank])
}

func joinDims(dims []int64) string {
	if len(dims) == 0 {
		return "()"
	}
	var b strings.Builder
	for i, d := range dims {
		if i > 0 {
			b.WriteByte('x')
		}
		b.WriteString(strconv.FormatInt(d, 10))
	}
	return b.String()
}

// Problem describes one convolution as handed over by the host framework.
type Problem struct {
	Input    Shape
	Weight   Shape
	Output   Shape
	Stride   Spatial
	Pad      Spatial
	Dilation Spatial
	Groups   int64
	Layout   Layout
	DType    DType

	ForwardCompute  DType
	BackwardCompute DType

	// AddToWeight is set when the weight gradient is accumulated into
	// rather than overwritten.
	AddToWeight bool
}

// Channels returns the input feature count. 1-D layouts are treated as
// their 2-D counterparts with a height of one.
func (p Problem) Channels() int64 {
	if p.Input.Rank < 3 {
		return 0
	}
	if p.Layout.ChannelsLast() {
		return p.Input.Dims[p.Input.Rank-1]
	}
	return p.Input.Dims[1]
}

// TrueFloat16 reports whether fp16 data is also computed in fp16.
func (p Problem) TrueFloat16() bool {
	return p.DType == Float16 && (p.ForwardCompute == Float16 || p.BackwardCompute == Float16)
}

var ErrInvalidProblem = errors.New("invalid convolution problem")

func invalidProblem(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidProblem, fmt.Sprintf(format, args...))
}

// Validate checks ranks and spatial parameters.
func (p Problem) Validate() error {
	rank := int(p.Input.Rank)
	if rank < 3 || rank > MaxRank {
		return invalidProblem("input rank %d, supporting only 3, 4 or 5", rank)
	}
	if int(p.Weight.Rank) != rank || int(p.Output.Rank) != rank {
		return invalidProblem("input %s, weight %s and output %s must share a rank", p.Input, p.Weight, p.Output)
	}
	if p.Layout.Rank() != rank {
		return invalidProblem("layout %s does not match rank %d", p.Layout, rank)
	}
	spatial := rank - 2
	params := []struct {
		name string
		vals Spatial
		min  int64
	}{
		{"stride", p.Stride, 1},
		{"pad", p.Pad, 0},
		{"dilation", p.Dilation, 1},
	}
	for _, prm := range params {
		if int(prm.vals.Rank) != spatial {
			return invalidProblem("%s has %d axes, want %d", prm.name, prm.vals.Rank, spatial)
		}
		for _, v := range prm.vals.Vals[:prm.vals.Rank] {
			if v < prm.min {
				return invalidProblem("%s %s out of range", prm.name, prm.vals)
			}
		}
	}
	if p.Groups < 1 {
		return invalidProblem("groups must be >= 1, got %d", p.Groups)
	}
	for _, s := range []Shape{p.Input, p.Weight, p.Output} {
		for _, d := range s.Dims[:s.Rank] {
			if d <= 0 {
				return invalidProblem("shape %s has a non-positive dimension", s)
			}
		}
	}
	return nil
}

// Signature is the canonical, comparable key for one selection problem.
// Equal signatures always resolve to the same cached Entry.
type Signature struct {
	Input    Shape
	Weight   Shape
	Output   Shape
	Stride   Spatial
	Pad      Spatial
	Dilation Spatial
	Groups   int64
	Layout   Layout
	DType    DType

	ForwardCompute  DType
	BackwardCompute DType

	Arch        string
	AddToWeight bool
	Policy      Policy
}

// NewSignature validates the problem and builds its signature.
func NewSignature(p Problem, dev Device, pol Policy) (Signature, error) {
	if err := p.Validate(); err != nil {
		return Signature{}, err
	}
	return Signature{
		Input:           p.Input,
		Weight:          p.Weight,
		Output:          p.Output,
		Stride:          p.Stride,
		Pad:             p.Pad,
		Dilation:        p.Dilation,
		Groups:          p.Groups,
		Layout:          p.Layout,
		DType:           p.DType,
		ForwardCompute:  p.ForwardCompute,
		BackwardCompute: p.BackwardCompute,
		Arch:            dev.Arch(),
		AddToWeight:     p.AddToWeight,
		Policy:          pol,
	}, nil
}

// Key renders the signature as a canonical string. It depends only on the
// field values, so it is stable across processes.
func (s Signature) Key() string {
	var b strings.Builder
	b.Grow(192)
	b.WriteString("in=")
	b.WriteString(s.Input.String())
	b.WriteString(";w=")
	b.WriteString(s.Weight.String())
	b.WriteString(";out=")
	b.WriteString(s.Output.String())
	b.WriteString(";stride=")
	b.WriteString(s.Stride.String())
	b.WriteString(";pad=")
	b.WriteString(s.Pad.String())
	b.WriteString(";dilate=")
	b.WriteString(s.Dilation.String())
	fmt.Fprintf(&b, ";groups=%d;layout=%s;dtype=%s;fwd=%s;bwd=%s;arch=%s;addto=%t;",
		s.Groups, s.Layout, s.DType, s.ForwardCompute, s.BackwardCompute, s.Arch, s.AddToWeight)
	b.WriteString(s.Policy.key())
	return b.String()
}

func (s Signature) String() string {
	return fmt.Sprintf("data %s weight %s out %s stride %s pad %s dilate %s groups %d %s %s (fwd %s, bwd %s) %s addto=%t tune=%s",
		s.Input, s.Weight, s.Output, s.Stride, s.Pad, s.Dilation, s.Groups,
		s.Layout, s.DType, s.ForwardCompute, s.BackwardCompute, s.Arch, s.AddToWeight, s.Policy.Mode)
}
