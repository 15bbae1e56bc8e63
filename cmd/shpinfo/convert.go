package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	shapefile "github.com/tingold/orb-shapefile"
)

type convertOptions struct {
	Name        string
	Description string
	NoIndex     bool
	WGS84       bool
	EPSG        int
}

func newConvertCmd() *cobra.Command {
	var opts convertOptions
	cmd := &cobra.Command{
		Use:   "convert <file> <out.fgb>",
		Short: "Convert a shapefile to FlatGeobuf",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := runConvert(args[0], args[1], opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d features to %s\n", n, args[1])
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "layer name (default: input file name)")
	cmd.Flags().StringVar(&opts.Description, "description", "", "layer description")
	cmd.Flags().BoolVar(&opts.NoIndex, "no-index", false, "omit the spatial index")
	cmd.Flags().BoolVar(&opts.WGS84, "wgs84", false, "tag the layer as EPSG:4326")
	cmd.Flags().IntVar(&opts.EPSG, "epsg", 0, "tag the layer with this EPSG code")
	return cmd
}

func runConvert(in, out string, opts convertOptions) (int, error) {
	r, err := openShapefile(in)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	fgbOpts := shapefile.DefaultFlatGeobufOptions()
	fgbOpts.Name = opts.Name
	if fgbOpts.Name == "" {
		fgbOpts.Name = layerName(in)
	}
	fgbOpts.Description = opts.Description
	fgbOpts.IncludeIndex = !opts.NoIndex
	switch {
	case opts.WGS84:
		fgbOpts.CRS = shapefile.WGS84()
	case opts.EPSG > 0:
		fgbOpts.CRS = &shapefile.CRS{Code: opts.EPSG}
	}

	f, err := os.Create(out)
	if err != nil {
		return 0, err
	}
	n, err := shapefile.ExportFlatGeobuf(f, r, fgbOpts)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(out)
		return n, err
	}
	return n, nil
}

// layerName returns the file name of path without its extensions.
func layerName(path string) string {
	name := filepath.Base(path)
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	return name
}
