package conv

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// TuneMode selects how algorithms are discovered.
type TuneMode uint8

const (
	// TuneOff asks the backend heuristics; nothing is benchmarked.
	TuneOff TuneMode = iota
	// TuneOn benchmarks every algorithm and picks the fastest.
	TuneOn
	// TuneLimited benchmarks and picks the fastest that fits the workspace budget.
	TuneLimited
)

func (m TuneMode) String() string {
	switch m {
	case TuneOff:
		return "off"
	case TuneLimited:
		return "limited"
	default:
		return "on"
	}
}

// Benchmarks reports whether the mode runs the exhaustive timed search.
func (m TuneMode) Benchmarks() bool {
	return m != TuneOff
}

func ParseTuneMode(s string) (TuneMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "0", "none":
		return TuneOff, nil
	case "", "on", "1", "fastest":
		return TuneOn, nil
	case "limited", "2", "limited_workspace":
		return TuneLimited, nil
	default:
		return TuneOn, fmt.Errorf("unknown tune mode %q (expected off, on, or limited)", s)
	}
}

// Policy is the tuning configuration of one operator. It is part of the
// signature, so operators with different policies never share an entry.
type Policy struct {
	Mode TuneMode
	// Workspace is the scratch budget in bytes.
	Workspace int64

	Forward        AlgoID
	BackwardData   AlgoID
	BackwardFilter AlgoID

	AllowAccelerated bool
	AcceleratedOnly  bool
}

// DefaultWorkspaceMB matches the framework's default per-operator budget.
const DefaultWorkspaceMB = 1024

// DefaultPolicy benchmarks with a 1 GiB budget and no preferences.
func DefaultPolicy() Policy {
	return Policy{
		Mode:             TuneOn,
		Workspace:        DefaultWorkspaceMB << 20,
		Forward:          NoPreference,
		BackwardData:     NoPreference,
		BackwardFilter:   NoPreference,
		AllowAccelerated: true,
	}
}

// Preference returns the configured algorithm for role, or NoPreference.
func (p Policy) Preference(role Role) AlgoID {
	switch role {
	case RoleBackwardData:
		return p.BackwardData
	case RoleBackwardFilter:
		return p.BackwardFilter
	default:
		return p.Forward
	}
}

func (p Policy) key() string {
	return fmt.Sprintf("tune=%s;ws=%d;pref=%d,%d,%d;accel=%t;accelonly=%t",
		p.Mode, p.Workspace, p.Forward, p.BackwardData, p.BackwardFilter, p.AllowAccelerated, p.AcceleratedOnly)
}

const (
	envAutotuneDefault  = "CONVTUNE_AUTOTUNE_DEFAULT"
	envWorkerNStreams   = "CONVTUNE_GPU_WORKER_NSTREAMS"
	envAllowTensorCore  = "CONVTUNE_ALLOW_TENSOR_CORE"
	envAlgoVerbose      = "CONVTUNE_ALGO_VERBOSE"
	defaultWorkerStream = 2
)

// Config holds process-wide defaults for operators that do not set them.
type Config struct {
	Tune             TuneMode
	WorkerStreams    int
	AllowAccelerated bool
	Verbose          int
}

// DualStream reports whether backward kernels run on two streams.
func (c Config) DualStream() bool {
	return c.WorkerStreams > 1
}

// ConfigFromEnv reads the defaults from the environment. Unparseable values
// fall back to the built-in default.
func ConfigFromEnv() Config {
	cfg := Config{
		Tune:             TuneOn,
		WorkerStreams:    defaultWorkerStream,
		AllowAccelerated: true,
	}
	if v, ok := os.LookupEnv(envAutotuneDefault); ok {
		if mode, err := ParseTuneMode(v); err == nil {
			cfg.Tune = mode
		}
	}
	if v, ok := os.LookupEnv(envWorkerNStreams); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			cfg.WorkerStreams = n
		}
	}
	if v, ok := os.LookupEnv(envAllowTensorCore); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.AllowAccelerated = b
		}
	}
	if v, ok := os.LookupEnv(envAlgoVerbose); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			cfg.Verbose = n
		}
	}
	return cfg
}
