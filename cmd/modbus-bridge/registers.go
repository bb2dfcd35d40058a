package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/edgeo-scada/modbus-bridge/internal/registers"
)

var registersCmd = &cobra.Command{
	Use:   "registers",
	Short: "Inspect register map files",
}

var registersCheckCmd = &cobra.Command{
	Use:   "check FILE",
	Short: "Validate a register map and print its layout",
	Example: `  modbus-bridge registers check plant.yaml
  modbus-bridge registers check plant.yaml -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runRegistersCheck,
}

func init() {
	registersCmd.AddCommand(registersCheckCmd)
}

func runRegistersCheck(cmd *cobra.Command, args []string) error {
	p := newPrinter(outputFmt, noColor)
	p.w = cmd.OutOrStdout()

	m, err := registers.LoadMap(args[0])
	if err != nil {
		p.Error("%v", err)
		return fmt.Errorf("%s: invalid register map", args[0])
	}
	return printMap(p, m)
}

func printMap(p *printer, m *registers.Map) error {
	s := m.Summary()
	if p.format == "json" {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	w := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SPACE\tNAME\tSTART\tEND\tCOUNT\tACCESS")
	fmt.Fprintln(w, "-----\t----\t-----\t---\t-----\t------")
	for _, b := range m.Holding {
		access := "ro"
		if b.Writable {
			access = "rw"
		}
		fmt.Fprintf(w, "holding\t%s\t%d\t%d\t%d\t%s\n", b.Name, b.Start, b.End(), len(b.Values), access)
	}
	for _, b := range m.Input {
		fmt.Fprintf(w, "input\t%s\t%d\t%d\t%d\tro\n", b.Name, b.Start, b.End(), len(b.Values))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	p.Success("%d holding (%d writable) in %d blocks, %d input in %d blocks",
		s.Holding, s.Writable, s.HoldingBlocks, s.Input, s.InputBlocks)
	return nil
}
