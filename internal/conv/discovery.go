package conv

import (
	"context"
	"fmt"
	"sync"

	"github.com/samcharles93/convtune/internal/logger"
	"github.com/samcharles93/convtune/internal/memory"
)

// Verbosity levels for selection diagnostics.
const (
	VerboseSelection  = 1
	VerboseCandidates = 2
)

// Discoverer asks the backend for candidates and ranks them for all three
// roles of one convolution.
type Discoverer struct {
	Backend Backend
	// Lock quiets concurrent allocation while algorithms are benchmarked.
	// It is never taken for heuristic queries.
	Lock    sync.Locker
	Log     logger.Logger
	Verbose int
}

// NewDiscoverer queries b. A nil lock means the process-wide memory lock and
// a nil log discards diagnostics.
func NewDiscoverer(b Backend, lock sync.Locker, log logger.Logger) *Discoverer {
	if lock == nil {
		lock = memory.ProcessLock()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Discoverer{Backend: b, Lock: lock, Log: log}
}

// Discover runs selection for p under pol. Benchmarking modes hold Lock for
// the whole call.
func (d *Discoverer) Discover(ctx context.Context, p Problem, pol Policy) (Entry, error) {
	if pol.Mode.Benchmarks() {
		d.Lock.Lock()
		defer d.Lock.Unlock()
	}

	var e Entry
	for _, role := range Roles {
		c, err := d.discoverRole(ctx, role, p, pol)
		if err != nil {
			return Entry{}, err
		}
		e.setChoice(role, c)
	}

	if ApplyLegacyOverrides(p, &e) {
		d.Log.Debug("forcing legacy backward filter algorithm for accumulating wide input",
			"channels", p.Channels(), "algo", e.BackwardFilter.Algo)
	}

	for _, role := range Roles {
		n, err := d.Backend.WorkspaceSize(role, p, e.Choice(role))
		if err != nil {
			if pref := pol.Preference(role); pol.Mode == TuneOff && pref != NoPreference && e.Choice(role).Algo == pref {
				d.Log.Debug("preferred algorithm rejected by backend", "role", role, "algo", pref, "err", err)
				return Entry{}, &ConfigurationError{
					Role:       role,
					Mode:       pol.Mode,
					Budget:     pol.Workspace,
					Preference: pref,
				}
			}
			return Entry{}, backendQueryError("workspace size", role, err)
		}
		e.setWorkspace(role, n)
	}
	return e, nil
}

func (d *Discoverer) discoverRole(ctx context.Context, role Role, p Problem, pol Policy) (Choice, error) {
	pref := pol.Preference(role)
	if pol.Mode == TuneOff && pref != NoPreference {
		return Choice{Algo: pref}, nil
	}
	if err := ctx.Err(); err != nil {
		return Choice{}, err
	}

	q := Query{AllowAccelerated: pol.AllowAccelerated, Workspace: pol.Workspace}
	var (
		cands []Candidate
		err   error
		op    = "find"
	)
	if pol.Mode.Benchmarks() {
		cands, err = d.Backend.Find(ctx, role, p, q)
	} else {
		op = "get"
		cands, err = d.Backend.Heuristic(ctx, role, p, q)
	}
	if err != nil {
		return Choice{}, backendQueryError(op, role, err)
	}
	if d.Verbose >= VerboseCandidates {
		d.logCandidates(op, role, cands)
	}

	return SelectCandidate(RankRequest{
		Role:            role,
		Mode:            pol.Mode,
		Candidates:      cands,
		Timed:           pol.Mode.Benchmarks(),
		Budget:          pol.Workspace,
		Preference:      pref,
		AcceleratedOnly: pol.AcceleratedOnly,
	})
}

func (d *Discoverer) logCandidates(op string, role Role, cands []Candidate) {
	d.Log.Info(fmt.Sprintf("full results of algo %s %s", op, role), "count", len(cands))
	for _, c := range cands {
		tc := "-"
		if c.Accelerated {
			tc = "+"
		}
		d.Log.Info("    candidate",
			"algo", c.Algo,
			"tc", tc,
			"time_ms", fmt.Sprintf("%7.3f", c.Time),
			"wksp", c.Memory,
			"status", c.Status.String())
	}
}

// LogSelection writes the verbose summary of a selection. The accelerated
// math annotation is only shown for devices that can run it.
func LogSelection(log logger.Logger, dev Device, sig Signature, e Entry) {
	log.Info("algo selection for convolution", "signature", sig.String())
	for _, line := range []struct {
		name string
		c    Choice
	}{
		{"            forward", e.Forward},
		{"   backprop-to-data", e.BackwardData},
		{" backprop-to-filter", e.BackwardFilter},
	} {
		log.Info(line.name + ": " + fmt.Sprint(line.c.Algo) + tensorCoreSuffix(dev, line.c.Accelerated))
	}
}

func tensorCoreSuffix(dev Device, accelerated bool) string {
	switch {
	case !dev.SupportsAcceleratedMath():
		return ""
	case accelerated:
		return " (Tensor Core)"
	default:
		return " (not Tensor Core)"
	}
}
