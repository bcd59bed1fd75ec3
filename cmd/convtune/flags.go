package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"
)

var (
	configFile    string
	backendName   string
	deviceSM      int64
	deviceMemMB   int64
	tuneMode      string
	workspaceMB   int64
	workerStreams int64
	allowTC       bool
	verbose       int64
	logLevel      string
	logFormat     string
	debug         bool
)

func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml (default ~/.config/convtune/config.yaml)",
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "compute backend (auto, sim, cudnn)",
			Value:       "auto",
			Destination: &backendName,
		},
		&cli.Int64Flag{
			Name:        "sm",
			Usage:       "compute capability of the simulated device (major*10+minor)",
			Value:       70,
			Destination: &deviceSM,
		},
		&cli.Int64Flag{
			Name:        "device-memory-mb",
			Usage:       "device memory of the simulated device in MiB",
			Value:       16 << 10,
			Destination: &deviceMemMB,
		},
		&cli.StringFlag{
			Name:        "tune",
			Usage:       "discovery mode (off, on, limited); defaults to $CONVTUNE_AUTOTUNE_DEFAULT",
			Destination: &tuneMode,
		},
		&cli.Int64Flag{
			Name:        "workspace-mb",
			Aliases:     []string{"ws"},
			Usage:       "per-operator workspace budget in MiB",
			Value:       1024,
			Destination: &workspaceMB,
		},
		&cli.Int64Flag{
			Name:        "worker-streams",
			Usage:       "GPU worker streams; dual-stream backward when > 1 (defaults to $CONVTUNE_GPU_WORKER_NSTREAMS)",
			Value:       2,
			Destination: &workerStreams,
		},
		&cli.BoolFlag{
			Name:        "allow-tensor-core",
			Usage:       "allow accelerated (tensor core) math (defaults to $CONVTUNE_ALLOW_TENSOR_CORE)",
			Value:       true,
			Destination: &allowTC,
		},
		&cli.Int64Flag{
			Name:        "verbose",
			Aliases:     []string{"v"},
			Usage:       "selection diagnostics: 1 logs choices, 2 also logs every candidate",
			Destination: &verbose,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// problemFlags describe one convolution on the command line.
type problemFlags struct {
	name            string
	input           string
	weight          string
	output          string
	stride          string
	pad             string
	dilation        string
	groups          int64
	layout          string
	dtype           string
	forwardCompute  string
	backwardCompute string
	addToWeight     bool

	preferForward   int64
	preferData      int64
	preferFilter    int64
	acceleratedOnly bool
}

func (f *problemFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "name", Usage: "label for the convolution", Destination: &f.name},
		&cli.StringFlag{Name: "input", Aliases: []string{"x"}, Usage: "input shape, e.g. 32x64x56x56", Destination: &f.input},
		&cli.StringFlag{Name: "weight", Aliases: []string{"w"}, Usage: "weight shape, e.g. 64x64x3x3", Destination: &f.weight},
		&cli.StringFlag{Name: "output", Usage: "output shape (derived when omitted)", Destination: &f.output},
		&cli.StringFlag{Name: "stride", Usage: "stride per spatial axis", Destination: &f.stride},
		&cli.StringFlag{Name: "pad", Usage: "padding per spatial axis", Destination: &f.pad},
		&cli.StringFlag{Name: "dilation", Usage: "dilation per spatial axis", Destination: &f.dilation},
		&cli.Int64Flag{Name: "groups", Usage: "number of groups", Value: 1, Destination: &f.groups},
		&cli.StringFlag{Name: "layout", Usage: "data layout (NCW, NCHW, NCDHW, NWC, NHWC, NDHWC)", Destination: &f.layout},
		&cli.StringFlag{Name: "dtype", Usage: "data type (float32, float64, float16)", Value: "float32", Destination: &f.dtype},
		&cli.StringFlag{Name: "forward-compute", Usage: "forward compute type (defaults to dtype)", Destination: &f.forwardCompute},
		&cli.StringFlag{Name: "backward-compute", Usage: "backward compute type (defaults to dtype)", Destination: &f.backwardCompute},
		&cli.BoolFlag{Name: "add-to-weight", Usage: "accumulate into the weight gradient", Destination: &f.addToWeight},
		&cli.Int64Flag{Name: "prefer-forward", Usage: "preferred forward algorithm", Value: -1, Destination: &f.preferForward},
		&cli.Int64Flag{Name: "prefer-data", Usage: "preferred backprop-to-data algorithm", Value: -1, Destination: &f.preferData},
		&cli.Int64Flag{Name: "prefer-filter", Usage: "preferred backprop-to-filter algorithm", Value: -1, Destination: &f.preferFilter},
		&cli.BoolFlag{Name: "accelerated-only", Usage: "only accept accelerated (tensor core) algorithms", Destination: &f.acceleratedOnly},
	}
}

// parseDims accepts "32x64x56x56" or "32,64,56,56". Empty input yields nil.
func parseDims(s string) ([]int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == 'x' || r == 'X' || r == ',' || r == ' '
	})
	dims := make([]int64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid dimension %q in %q", f, s)
		}
		dims = append(dims, v)
	}
	return dims, nil
}
