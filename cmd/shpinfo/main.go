// Command shpinfo inspects and converts ESRI shapefiles.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Global configuration
type Config struct {
	BlockSize int
	Stream    bool
}

var (
	config  Config
	rootCmd *cobra.Command
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd = newRootCmd()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shpinfo",
		Short: "Inspect and convert ESRI shapefiles",
		Long: `shpinfo reads the .shp/.shx/.dbf files of a shapefile.

Inputs ending in .gz or .zst are decompressed on the fly and read as a
stream, without the index.

Examples:
  shpinfo info roads.shp
  shpinfo dump roads.shp --limit 10
  shpinfo convert roads.shp roads.fgb --wgs84
  shpinfo index roads.shp`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().IntVar(&config.BlockSize, "block-size", 0, "read window in bytes when streaming (default 512)")
	cmd.PersistentFlags().BoolVar(&config.Stream, "stream", false, "read through a sliding window instead of loading the file")

	cmd.AddCommand(newInfoCmd())
	cmd.AddCommand(newDumpCmd())
	cmd.AddCommand(newConvertCmd())
	cmd.AddCommand(newIndexCmd())
	return cmd
}
