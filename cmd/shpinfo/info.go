package main

import (
	"errors"
	"fmt"
	"io"
	"math"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	shapefile "github.com/tingold/orb-shapefile"
)

type axis struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type fieldInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Length   int    `json:"length"`
	Decimals int    `json:"decimals"`
}

type summary struct {
	Path        string      `json:"path"`
	Type        string      `json:"type"`
	FileLength  int64       `json:"fileLength"`
	Records     int         `json:"records"`
	NullRecords int         `json:"nullRecords"`
	X           *axis       `json:"x,omitempty"`
	Y           *axis       `json:"y,omitempty"`
	Z           *axis       `json:"z,omitempty"`
	M           *axis       `json:"m,omitempty"`
	Fields      []fieldInfo `json:"fields,omitempty"`
}

func newInfoCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "info <file>",
		Short: "Print the header, record count and fields of a shapefile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(cmd.OutOrStdout(), args[0], asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func runInfo(out io.Writer, path string, asJSON bool) error {
	s, err := summarize(path)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Fprintf(out, "File:     %s\n", s.Path)
	fmt.Fprintf(out, "Type:     %s\n", s.Type)
	fmt.Fprintf(out, "Length:   %d bytes\n", s.FileLength)
	fmt.Fprintf(out, "Records:  %d (%d null)\n", s.Records, s.NullRecords)
	for _, a := range []struct {
		name string
		axis *axis
	}{{"X", s.X}, {"Y", s.Y}, {"Z", s.Z}, {"M", s.M}} {
		if a.axis != nil {
			fmt.Fprintf(out, "%s:        [%g, %g]\n", a.name, a.axis.Min, a.axis.Max)
		}
	}
	if len(s.Fields) > 0 {
		fmt.Fprintln(out, "Fields:")
		for _, f := range s.Fields {
			fmt.Fprintf(out, "  %-10s %s(%d,%d)\n", f.Name, f.Type, f.Length, f.Decimals)
		}
	}
	return nil
}

func summarize(path string) (*summary, error) {
	r, err := openShapefile(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	h, err := r.Header()
	if err != nil {
		return nil, err
	}
	fields, err := r.Fields()
	if err != nil {
		return nil, err
	}

	s := &summary{
		Path:       path,
		Type:       h.Type.String(),
		FileLength: h.FileLength,
		X:          newAxis(h.Bounds.MinX, h.Bounds.MaxX),
		Y:          newAxis(h.Bounds.MinY, h.Bounds.MaxY),
		Z:          newAxis(h.Bounds.MinZ, h.Bounds.MaxZ),
		M:          newAxis(h.Bounds.MinM, h.Bounds.MaxM),
	}
	if !h.Type.HasZ() {
		s.Z = nil
	}
	if !h.Type.HasM() {
		s.M = nil
	}
	for _, f := range fields {
		s.Fields = append(s.Fields, fieldInfo{Name: f.Name, Type: f.Type.String(), Length: f.Length, Decimals: f.Decimals})
	}

	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		s.Records++
		if rec.Type == shapefile.TypeNull {
			s.NullRecords++
		}
	}
	return s, nil
}

func newAxis(min, max float64) *axis {
	if math.IsNaN(min) || math.IsNaN(max) {
		return nil
	}
	return &axis{Min: min, Max: max}
}
