package conv

import (
	"cmp"
	"slices"
)

// EquivalenceThreshold is the time ratio under which an accelerated
// candidate and its plain twin count as the same algorithm (1% here).
const EquivalenceThreshold = 1.01

// RankRequest is the input to SelectCandidate for one role.
type RankRequest struct {
	Role       Role
	Mode       TuneMode
	Candidates []Candidate
	// Timed is set when Candidates carry benchmark times.
	Timed           bool
	Budget          int64
	Preference      AlgoID
	AcceleratedOnly bool
}

// SelectCandidate picks the fastest acceptable candidate that matches the
// preference, regardless of math mode, then prefers the plain variant of an
// accelerated algorithm that is reported twice with equivalent timing.
func SelectCandidate(req RankRequest) (Choice, error) {
	results := req.Candidates
	if req.Timed {
		results = slices.Clone(results)
		// Failed entries carry no usable time and stay behind the rest.
		slices.SortStableFunc(results, func(a, b Candidate) int {
			if c := cmp.Compare(failed(a), failed(b)); c != 0 {
				return c
			}
			return cmp.Compare(a.Time, b.Time)
		})
	}

	for i, res := range results {
		if !req.acceptable(res) {
			continue
		}
		// Only the immediate successor is considered.
		if res.Accelerated && !req.AcceleratedOnly && i+1 < len(results) {
			next := results[i+1]
			if next.Status == StatusSuccess &&
				next.Algo == res.Algo &&
				next.Memory == res.Memory &&
				!next.Accelerated &&
				float64(next.Time) < EquivalenceThreshold*float64(res.Time) {
				continue
			}
		}
		return Choice{Algo: res.Algo, Accelerated: res.Accelerated}, nil
	}

	return Choice{}, &ConfigurationError{
		Role:       req.Role,
		Mode:       req.Mode,
		Budget:     req.Budget,
		Preference: req.Preference,
		Tried:      len(results),
	}
}

func failed(c Candidate) int {
	if c.Status == StatusSuccess {
		return 0
	}
	return 1
}

func (req RankRequest) acceptable(c Candidate) bool {
	if c.Status != StatusSuccess {
		return false
	}
	if req.Mode == TuneLimited && c.Memory > req.Budget {
		return false
	}
	if req.Preference != NoPreference && req.Preference != c.Algo {
		return false
	}
	if req.AcceleratedOnly && !c.Accelerated {
		return false
	}
	return true
}

const (
	// legacyFilterMaxFeatures is the input channel count from which the
	// benchmarked backward-filter algorithms may fail when accumulating.
	legacyFilterMaxFeatures = 64 * 1024
	legacyFilterAlgo        = AlgoID(1)
)

// ApplyLegacyOverrides forces backward-filter algorithm 1 for accumulating
// convolutions with very wide inputs. It runs after ranking and ignores it.
func ApplyLegacyOverrides(p Problem, e *Entry) bool {
	if !p.AddToWeight || p.Channels() < legacyFilterMaxFeatures {
		return false
	}
	e.BackwardFilter = Choice{Algo: legacyFilterAlgo, Accelerated: true}
	return true
}
