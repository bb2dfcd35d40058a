package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	modbus "github.com/edgeo-scada/modbus-bridge"
)

var (
	readAddr   uint16
	readCount  uint16
	readFormat string
)

var readCmd = &cobra.Command{
	Use:     "read",
	Aliases: []string{"r"},
	Short:   "Read registers from a Modbus server",
}

var readHoldingRegistersCmd = &cobra.Command{
	Use:     "holding-registers",
	Aliases: []string{"hr", "holding"},
	Short:   "Read holding registers (FC03)",
	Long: `Read holding registers using function code 03.

Supported formats for -f/--format flag:
  uint16  - Unsigned 16-bit integer (default)
  int16   - Signed 16-bit integer
  uint32  - Unsigned 32-bit integer (2 registers, high word first)
  int32   - Signed 32-bit integer (2 registers, high word first)
  float32 - 32-bit floating point (2 registers, high word first)`,
	Example: `  modbus-bridge read holding-registers -a 0 -c 10 -H 127.0.0.1
  modbus-bridge r hr -a 100 -c 4 -f float32`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRead("Holding Registers", (*modbus.Client).ReadHoldingRegisters)
	},
}

var readInputRegistersCmd = &cobra.Command{
	Use:     "input-registers",
	Aliases: []string{"ir", "input"},
	Short:   "Read input registers (FC04)",
	Example: `  modbus-bridge read input-registers -a 0 -c 10 -H 127.0.0.1
  modbus-bridge r ir -a 100 -c 2 -f int32`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRead("Input Registers", (*modbus.Client).ReadInputRegisters)
	},
}

func init() {
	addClientFlags(readCmd)
	readCmd.AddCommand(readHoldingRegistersCmd)
	readCmd.AddCommand(readInputRegistersCmd)

	for _, cmd := range []*cobra.Command{readHoldingRegistersCmd, readInputRegistersCmd} {
		cmd.Flags().Uint16VarP(&readAddr, "address", "a", 0, "Starting address")
		cmd.Flags().Uint16VarP(&readCount, "count", "c", 1, "Number of registers to read")
		cmd.Flags().StringVarP(&readFormat, "format", "f", "uint16", "Data format: uint16, int16, uint32, int32, float32")
	}
}

type readFunc func(c *modbus.Client, ctx context.Context, addr, qty uint16) ([]uint16, error)

func runRead(title string, read readFunc) error {
	if !validFormat(readFormat) {
		return fmt.Errorf("unknown format %q", readFormat)
	}
	return withClient(func(ctx context.Context, client *modbus.Client) error {
		values, err := read(client, ctx, readAddr, readCount)
		if err != nil {
			return fmt.Errorf("read %s failed: %w", title, err)
		}
		p := newPrinter(outputFmt, noColor)
		return p.Registers(title, readAddr, values, readFormat)
	})
}
