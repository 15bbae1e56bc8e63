package main

import (
	"errors"
	"io"

	json "github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"
	"github.com/spf13/cobra"
)

func newDumpCmd() *cobra.Command {
	var (
		limit  int
		indent bool
	)
	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "Print the features of a shapefile as a GeoJSON FeatureCollection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(cmd.OutOrStdout(), args[0], limit, indent)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "stop after this many features (0 for all)")
	cmd.Flags().BoolVar(&indent, "indent", false, "indent the output")
	return cmd
}

func runDump(out io.Writer, path string, limit int, indent bool) error {
	r, err := openShapefile(path)
	if err != nil {
		return err
	}
	defer r.Close()

	fc := geojson.NewFeatureCollection()
	for limit <= 0 || len(fc.Features) < limit {
		f, err := r.ReadFeature()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		fc.Append(f)
	}

	enc := json.NewEncoder(out)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(fc)
}
