package conv

// Supports reports whether the operator described by p and pol can run on
// dev. It is checked before any selection happens.
func Supports(p Problem, pol Policy, dev Device) error {
	// NDHWC and NWC have no kernels; NHWC has none in true fp16.
	switch {
	case p.Layout == NDHWC || p.Layout == NWC:
		return capabilityError("layout %s is not supported", p.Layout)
	case p.Layout == NHWC && p.TrueFloat16():
		return capabilityError("layout NHWC is not supported with float16 compute")
	}

	if !dev.SupportsFloat16() && (p.ForwardCompute == Float16 || p.BackwardCompute == Float16) {
		return capabilityError("device %s (%s) has no float16 compute", dev.Arch(), dev.Name)
	}

	if p.Dilation.Product() > 1 && p.BackwardCompute == Float16 {
		return capabilityError("dilated convolution backward does not support float16 compute")
	}

	if pol.AcceleratedOnly {
		if !pol.AllowAccelerated {
			return capabilityError("accelerated-math-only requires accelerated math to be allowed")
		}
		if !dev.SupportsAcceleratedMath() {
			return capabilityError("device %s (%s) has no accelerated math", dev.Arch(), dev.Name)
		}
	}
	return nil
}
