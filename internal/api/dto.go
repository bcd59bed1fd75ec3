package api

import (
	"fmt"

	"github.com/samcharles93/convtune/internal/conv"
)

// ProblemRequest is the wire form of one convolution. It is shared by the
// HTTP API and the layers files read by the CLI.
type ProblemRequest struct {
	Name string `json:"name,omitempty" yaml:"name"`

	Input  []int64 `json:"input" yaml:"input"`
	Weight []int64 `json:"weight" yaml:"weight"`
	// Output is derived from the other parameters when omitted.
	Output []int64 `json:"output,omitempty" yaml:"output"`

	Stride   []int64 `json:"stride,omitempty" yaml:"stride"`
	Pad      []int64 `json:"pad,omitempty" yaml:"pad"`
	Dilation []int64 `json:"dilation,omitempty" yaml:"dilation"`
	Groups   int64   `json:"groups,omitempty" yaml:"groups"`

	Layout          string `json:"layout,omitempty" yaml:"layout"`
	DType           string `json:"dtype,omitempty" yaml:"dtype"`
	ForwardCompute  string `json:"forward_compute,omitempty" yaml:"forward_compute"`
	BackwardCompute string `json:"backward_compute,omitempty" yaml:"backward_compute"`
	AddToWeight     bool   `json:"add_to_weight,omitempty" yaml:"add_to_weight"`

	Policy *PolicyRequest `json:"policy,omitempty" yaml:"policy"`
}

// PolicyRequest overrides fields of the default policy. Nil fields keep the
// default.
type PolicyRequest struct {
	Tune             string `json:"tune,omitempty" yaml:"tune"`
	WorkspaceMB      *int64 `json:"workspace_mb,omitempty" yaml:"workspace_mb"`
	Forward          *int32 `json:"forward,omitempty" yaml:"forward"`
	BackwardData     *int32 `json:"backward_data,omitempty" yaml:"backward_data"`
	BackwardFilter   *int32 `json:"backward_filter,omitempty" yaml:"backward_filter"`
	AllowAccelerated *bool  `json:"allow_accelerated,omitempty" yaml:"allow_accelerated"`
	AcceleratedOnly  bool   `json:"accelerated_only,omitempty" yaml:"accelerated_only"`
}

// SelectResponse is returned by POST /v1/select.
type SelectResponse struct {
	ID        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	Key       string         `json:"key"`
	Backend   string         `json:"backend"`
	Arch      string         `json:"arch"`
	Selection conv.Selection `json:"selection"`
}

type RegistryResponse struct {
	Object  string               `json:"object"`
	Entries []conv.SnapshotEntry `json:"data"`
	Stats   conv.RegistryStats   `json:"stats"`
}

// Problem converts the request, filling in defaults for omitted fields.
func (r ProblemRequest) Problem() (conv.Problem, error) {
	layout, err := conv.ParseLayout(r.Layout)
	if err != nil {
		return conv.Problem{}, newInvalidRequest(err.Error())
	}
	if r.Layout == "" && len(r.Input) > 0 {
		layout = defaultLayout(len(r.Input))
	}
	dtype, err := conv.ParseDType(r.DType)
	if err != nil {
		return conv.Problem{}, newInvalidRequest(err.Error())
	}
	fwd, bwd := dtype, dtype
	if r.ForwardCompute != "" {
		if fwd, err = conv.ParseDType(r.ForwardCompute); err != nil {
			return conv.Problem{}, newInvalidRequest(err.Error())
		}
	}
	if r.BackwardCompute != "" {
		if bwd, err = conv.ParseDType(r.BackwardCompute); err != nil {
			return conv.Problem{}, newInvalidRequest(err.Error())
		}
	}
	if len(r.Input) < 3 || len(r.Input) > conv.MaxRank {
		return conv.Problem{}, newInvalidRequest(fmt.Sprintf("input must have 3 to %d dimensions, got %d", conv.MaxRank, len(r.Input)))
	}
	spatial := len(r.Input) - 2
	if len(r.Weight) != len(r.Input) {
		return conv.Problem{}, newInvalidRequest(fmt.Sprintf("weight has %d dimensions, input has %d", len(r.Weight), len(r.Input)))
	}
	if len(r.Output) > 0 && len(r.Output) != len(r.Input) {
		return conv.Problem{}, newInvalidRequest(fmt.Sprintf("output has %d dimensions, input has %d", len(r.Output), len(r.Input)))
	}
	for _, f := range []struct {
		name string
		vals []int64
	}{
		{"stride", r.Stride},
		{"pad", r.Pad},
		{"dilation", r.Dilation},
	} {
		if len(f.vals) > 0 && len(f.vals) != spatial {
			return conv.Problem{}, newInvalidRequest(fmt.Sprintf("%s needs %d values, got %d", f.name, spatial, len(f.vals)))
		}
	}
	groups := r.Groups
	if groups == 0 {
		groups = 1
	}

	p := conv.Problem{
		Input:           conv.MakeShape(r.Input...),
		Weight:          conv.MakeShape(r.Weight...),
		Stride:          conv.MakeSpatial(orFill(r.Stride, spatial, 1)...),
		Pad:             conv.MakeSpatial(orFill(r.Pad, spatial, 0)...),
		Dilation:        conv.MakeSpatial(orFill(r.Dilation, spatial, 1)...),
		Groups:          groups,
		Layout:          layout,
		DType:           dtype,
		ForwardCompute:  fwd,
		BackwardCompute: bwd,
		AddToWeight:     r.AddToWeight,
	}
	if len(r.Output) > 0 {
		p.Output = conv.MakeShape(r.Output...)
	} else {
		out, err := inferOutput(p)
		if err != nil {
			return conv.Problem{}, err
		}
		p.Output = out
	}
	if err := p.Validate(); err != nil {
		return conv.Problem{}, newInvalidRequest(err.Error())
	}
	return p, nil
}

// ApplyPolicy applies the request's overrides on top of base.
func (r ProblemRequest) ApplyPolicy(base conv.Policy) (conv.Policy, error) {
	pol := base
	if r.Policy == nil {
		return pol, nil
	}
	pr := r.Policy
	if pr.Tune != "" {
		mode, err := conv.ParseTuneMode(pr.Tune)
		if err != nil {
			return pol, newInvalidRequest(err.Error())
		}
		pol.Mode = mode
	}
	if pr.WorkspaceMB != nil {
		if *pr.WorkspaceMB < 0 {
			return pol, newInvalidRequest("workspace_mb must not be negative")
		}
		pol.Workspace = *pr.WorkspaceMB << 20
	}
	if pr.Forward != nil {
		pol.Forward = conv.AlgoID(*pr.Forward)
	}
	if pr.BackwardData != nil {
		pol.BackwardData = conv.AlgoID(*pr.BackwardData)
	}
	if pr.BackwardFilter != nil {
		pol.BackwardFilter = conv.AlgoID(*pr.BackwardFilter)
	}
	if pr.AllowAccelerated != nil {
		pol.AllowAccelerated = *pr.AllowAccelerated
	}
	pol.AcceleratedOnly = pr.AcceleratedOnly
	return pol, nil
}

func defaultLayout(rank int) conv.Layout {
	switch rank {
	case 3:
		return conv.NCW
	case 5:
		return conv.NCDHW
	default:
		return conv.NCHW
	}
}

func orFill(vals []int64, n int, def int64) []int64 {
	if len(vals) > 0 {
		return vals
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = def
	}
	return out
}

// inferOutput computes the output shape of a convolution from its input,
// weight and spatial parameters.
func inferOutput(p conv.Problem) (conv.Shape, error) {
	in := p.Input.Slice()
	w := p.Weight.Slice()
	if len(w) != len(in) {
		return conv.Shape{}, newInvalidRequest(fmt.Sprintf("weight has %d dimensions, input has %d", len(w), len(in)))
	}
	stride, pad, dil := p.Stride.Slice(), p.Pad.Slice(), p.Dilation.Slice()
	spatial := len(in) - 2
	if len(stride) != spatial || len(pad) != spatial || len(dil) != spatial {
		return conv.Shape{}, newInvalidRequest(fmt.Sprintf("stride, pad and dilation need %d values", spatial))
	}

	first := 2
	if p.Layout.ChannelsLast() {
		first = 1
	}
	out := make([]int64, len(in))
	copy(out, in)
	for i := range spatial {
		ax := first + i
		if stride[i] < 1 || dil[i] < 1 {
			return conv.Shape{}, newInvalidRequest("stride and dilation must be positive")
		}
		extent := dil[i]*(w[ax]-1) + 1
		padded := in[ax] + 2*pad[i]
		if padded < extent {
			return conv.Shape{}, newInvalidRequest(fmt.Sprintf("kernel extent %d exceeds padded input %d on spatial axis %d", extent, padded, i))
		}
		out[ax] = (padded-extent)/stride[i] + 1
	}
	if p.Layout.ChannelsLast() {
		out[len(out)-1] = w[0]
	} else {
		out[1] = w[0]
	}
	return conv.MakeShape(out...), nil
}
