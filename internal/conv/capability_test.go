package conv

import (
	"errors"
	"strings"
	"testing"
)

func TestSupports(t *testing.T) {
	t.Parallel()

	volta := Device{Name: "v100", SM: 70}
	pascal := Device{Name: "p100", SM: 60}
	maxwell := Device{Name: "m40", SM: 52}

	tests := []struct {
		name    string
		mutate  func(p *Problem, pol *Policy)
		dev     Device
		wantErr string
	}{
		{name: "plain fp32", dev: maxwell},
		{name: "ndhwc", mutate: func(p *Problem, _ *Policy) { p.Layout = NDHWC }, dev: volta, wantErr: "layout NDHWC"},
		{name: "nwc", mutate: func(p *Problem, _ *Policy) { p.Layout = NWC }, dev: volta, wantErr: "layout NWC"},
		{name: "nhwc fp32", mutate: func(p *Problem, _ *Policy) { p.Layout = NHWC }, dev: volta},
		{
			name: "nhwc true fp16",
			mutate: func(p *Problem, _ *Policy) {
				p.Layout = NHWC
				p.DType, p.ForwardCompute, p.BackwardCompute = Float16, Float16, Float16
			},
			dev:     volta,
			wantErr: "NHWC",
		},
		{
			name: "nhwc fp16 storage with fp32 compute",
			mutate: func(p *Problem, _ *Policy) {
				p.Layout = NHWC
				p.DType = Float16
			},
			dev: volta,
		},
		{
			name:    "fp16 compute before sm_53",
			mutate:  func(p *Problem, _ *Policy) { p.ForwardCompute = Float16 },
			dev:     maxwell,
			wantErr: "no float16 compute",
		},
		{
			name: "dilated fp16 backward",
			mutate: func(p *Problem, _ *Policy) {
				p.Dilation = MakeSpatial(2, 2)
				p.BackwardCompute = Float16
			},
			dev:     volta,
			wantErr: "dilated",
		},
		{
			name:    "accelerated only on pascal",
			mutate:  func(_ *Problem, pol *Policy) { pol.AcceleratedOnly = true },
			dev:     pascal,
			wantErr: "no accelerated math",
		},
		{
			name: "accelerated only but disallowed",
			mutate: func(_ *Problem, pol *Policy) {
				pol.AcceleratedOnly = true
				pol.AllowAccelerated = false
			},
			dev:     volta,
			wantErr: "requires accelerated math",
		},
		{name: "accelerated only on volta", mutate: func(_ *Problem, pol *Policy) { pol.AcceleratedOnly = true }, dev: volta},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, pol := testProblem(), DefaultPolicy()
			if tt.mutate != nil {
				tt.mutate(&p, &pol)
			}
			err := Supports(p, pol, tt.dev)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Supports: %v", err)
				}
				return
			}
			var capErr *CapabilityError
			if !errors.As(err, &capErr) || !errors.Is(err, ErrCapability) {
				t.Fatalf("expected CapabilityError, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}
