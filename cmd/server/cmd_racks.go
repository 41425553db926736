package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rl1809/rack-inventory/internal/core/domain"
)

var racksCmd = &cobra.Command{
	Use:   "racks",
	Short: "Provision and inspect racks",
}

// inventory racks import racks.json
var racksImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Register or resize racks from a JSON array of {label, capacity}",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		racks, err := parseRacks(f)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := bootstrap(ctx, false)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		for _, rack := range racks {
			if err := a.store.Racks().Upsert(ctx, rack); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d racks\n", len(racks))
		return nil
	},
}

var racksListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every rack with its occupancy",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := bootstrap(ctx, false)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		racks, err := a.store.Racks().List(ctx)
		if err != nil {
			return err
		}
		return printRacks(cmd.OutOrStdout(), racks)
	},
}

type rackFileEntry struct {
	Label    string `json:"label"`
	Capacity int    `json:"capacity"`
}

func parseRacks(r io.Reader) ([]domain.Rack, error) {
	var entries []rackFileEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode rack file: %w", err)
	}

	seen := make(map[string]bool, len(entries))
	racks := make([]domain.Rack, 0, len(entries))
	for i, e := range entries {
		label := domain.NormalizeLabel(e.Label)
		if label == "" {
			return nil, fmt.Errorf("rack %d: label is required", i)
		}
		if e.Capacity <= 0 {
			return nil, fmt.Errorf("rack %s: capacity must be positive", label)
		}
		if seen[label] {
			return nil, fmt.Errorf("rack %s: listed twice", label)
		}
		seen[label] = true
		racks = append(racks, domain.Rack{Label: label, Capacity: e.Capacity})
	}
	return racks, nil
}

func printRacks(out io.Writer, racks []domain.Rack) error {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "LABEL\tCAPACITY\tOCCUPIED\tPRODUCT")
	for _, r := range racks {
		product := r.Product
		if product == "" {
			product = "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", r.Label, r.Capacity, r.Occupied, product)
	}
	return w.Flush()
}
