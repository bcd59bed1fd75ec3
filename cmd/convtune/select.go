package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/samcharles93/convtune/internal/api"
	"github.com/samcharles93/convtune/internal/conv"
	"github.com/urfave/cli/v3"
)

func selectCmd() *cli.Command {
	var (
		pf         problemFlags
		layersPath string
		asJSON     bool
	)

	return &cli.Command{
		Name:  "select",
		Usage: "Choose algorithms and plan workspace for one convolution or a layers file",
		Flags: append(pf.flags(),
			&cli.StringFlag{
				Name:        "layers",
				Aliases:     []string{"f"},
				Usage:       "YAML file listing convolutions to select for",
				Destination: &layersPath,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print selections as JSON",
				Destination: &asJSON,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			reqs, err := problemRequests(cmd, &pf, layersPath)
			if err != nil {
				return err
			}
			eng, err := openEngine(ctx, cmd, 0)
			if err != nil {
				return err
			}
			defer eng.Close()

			server := eng.server()
			out := make([]api.SelectResponse, 0, len(reqs))
			for _, req := range reqs {
				resp, err := server.Select(ctx, req)
				if err != nil {
					if req.Name != "" {
						return fmt.Errorf("%s: %w", req.Name, err)
					}
					return err
				}
				out = append(out, resp)
			}

			if asJSON {
				if layersPath == "" {
					return writeJSON(os.Stdout, out[0])
				}
				return writeJSON(os.Stdout, out)
			}
			for _, resp := range out {
				printSelection(os.Stdout, resp)
			}
			return nil
		},
	}
}

// problemRequests returns the layers file contents, or the single
// convolution described by flags.
func problemRequests(cmd *cli.Command, pf *problemFlags, layersPath string) ([]api.ProblemRequest, error) {
	if layersPath != "" {
		return loadLayers(layersPath)
	}
	req, err := pf.request(cmd)
	if err != nil {
		return nil, err
	}
	return []api.ProblemRequest{req}, nil
}

func (f *problemFlags) request(cmd *cli.Command) (api.ProblemRequest, error) {
	if f.input == "" || f.weight == "" {
		return api.ProblemRequest{}, fmt.Errorf("--input and --weight are required (or use --layers)")
	}
	req := api.ProblemRequest{
		Name:            f.name,
		Groups:          f.groups,
		Layout:          f.layout,
		DType:           f.dtype,
		ForwardCompute:  f.forwardCompute,
		BackwardCompute: f.backwardCompute,
		AddToWeight:     f.addToWeight,
	}
	dims := []struct {
		flag string
		src  string
		dst  *[]int64
	}{
		{"input", f.input, &req.Input},
		{"weight", f.weight, &req.Weight},
		{"output", f.output, &req.Output},
		{"stride", f.stride, &req.Stride},
		{"pad", f.pad, &req.Pad},
		{"dilation", f.dilation, &req.Dilation},
	}
	for _, d := range dims {
		v, err := parseDims(d.src)
		if err != nil {
			return api.ProblemRequest{}, fmt.Errorf("--%s: %w", d.flag, err)
		}
		*d.dst = v
	}

	var pol api.PolicyRequest
	set := false
	for _, p := range []struct {
		flag string
		val  int64
		dst  **int32
	}{
		{"prefer-forward", f.preferForward, &pol.Forward},
		{"prefer-data", f.preferData, &pol.BackwardData},
		{"prefer-filter", f.preferFilter, &pol.BackwardFilter},
	} {
		if cmd.IsSet(p.flag) {
			v := int32(p.val)
			*p.dst = &v
			set = true
		}
	}
	if f.acceleratedOnly {
		pol.AcceleratedOnly = true
		set = true
	}
	if set {
		req.Policy = &pol
	}
	return req, nil
}

func printSelection(w io.Writer, resp api.SelectResponse) {
	sel := resp.Selection
	name := resp.Name
	if name == "" {
		name = "convolution"
	}
	fmt.Fprintf(w, "%s (%s %s)\n", name, resp.Backend, resp.Arch)
	for _, row := range []struct {
		role conv.Role
		c    conv.Choice
		ws   int64
	}{
		{conv.RoleForward, sel.Forward, sel.Layout.Forward},
		{conv.RoleBackwardData, sel.BackwardData, sel.Layout.BackwardData},
		{conv.RoleBackwardFilter, sel.BackwardFilter, sel.Layout.BackwardFilter},
	} {
		kind := "default math"
		if row.c.Accelerated {
			kind = "tensor core"
		}
		fmt.Fprintf(w, "  %-20s algo %-2d %-12s workspace %s\n", row.role.String()+":", row.c.Algo, kind, formatBytes(row.ws))
	}
	mode := "single stream"
	if sel.Layout.DualStream {
		mode = fmt.Sprintf("dual stream, data@%d filter@%d", sel.Layout.DataOffset, sel.Layout.FilterOffset)
	}
	fmt.Fprintf(w, "  %-20s %s (%s)\n", "backward buffer:", formatBytes(sel.Layout.Backward), mode)
	fmt.Fprintf(w, "  %-20s %s\n", "key:", resp.Key)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

func formatBytes(b int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.2f GiB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.2f MiB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.2f KiB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
