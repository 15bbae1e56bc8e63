package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	shapefile "github.com/tingold/orb-shapefile"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index <file.shp> [out.shx]",
		Short: "Rebuild the .shx index of a shapefile",
		Long: `index reads the records of a .shp file and writes the matching .shx
index. The output defaults to the .shx sibling of the input.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := ""
			if len(args) == 2 {
				out = args[1]
			}
			n, out, err := runIndex(args[0], out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d entries to %s\n", n, out)
			return nil
		},
	}
	return cmd
}

func runIndex(in, out string) (int, string, error) {
	if out == "" {
		base := in
		switch strings.ToLower(filepath.Ext(base)) {
		case ".gz", ".zst":
			base = strings.TrimSuffix(base, filepath.Ext(base))
		}
		out = strings.TrimSuffix(base, filepath.Ext(base)) + ".shx"
	}

	shp, err := openCompressed(in)
	if err != nil {
		return 0, out, err
	}
	defer shp.Close()

	// Written next to the output and renamed, so a failed rebuild keeps the
	// old index.
	tmp, err := os.CreateTemp(filepath.Dir(out), filepath.Base(out)+".*")
	if err != nil {
		return 0, out, err
	}
	n, err := shapefile.RebuildIndex(shp, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return n, out, err
	}
	return n, out, os.Rename(tmp.Name(), out)
}
