package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	modbus "github.com/edgeo-scada/modbus-bridge"
)

var (
	writeAddr  uint16
	writeValue string
)

var writeCmd = &cobra.Command{
	Use:     "write",
	Aliases: []string{"w"},
	Short:   "Write registers on a Modbus server",
}

var writeRegisterCmd = &cobra.Command{
	Use:     "register",
	Aliases: []string{"reg", "r"},
	Short:   "Write single register (FC06)",
	Long: `Write a single holding register using function code 06.

Value can be decimal, hexadecimal (0x prefix), octal (0o prefix) or binary
(0b prefix).`,
	Example: `  modbus-bridge write register -a 0 -V 1234 -H 127.0.0.1
  modbus-bridge w r -a 100 -V 0xFF00`,
	RunE: runWriteRegister,
}

func init() {
	addClientFlags(writeCmd)
	writeCmd.AddCommand(writeRegisterCmd)

	writeRegisterCmd.Flags().Uint16VarP(&writeAddr, "address", "a", 0, "Register address")
	writeRegisterCmd.Flags().StringVarP(&writeValue, "value", "V", "", "Value to write")
	writeRegisterCmd.MarkFlagRequired("value")
}

func runWriteRegister(cmd *cobra.Command, args []string) error {
	value, err := parseUint16Value(writeValue)
	if err != nil {
		return err
	}

	return withClient(func(ctx context.Context, client *modbus.Client) error {
		if err := client.WriteSingleRegister(ctx, writeAddr, value); err != nil {
			return fmt.Errorf("write register failed: %w", err)
		}
		newPrinter(outputFmt, noColor).Success("Wrote register %d = %d (0x%04X)", writeAddr, value, value)
		return nil
	})
}

func parseUint16Value(s string) (uint16, error) {
	s = strings.TrimSpace(s)

	var value uint64
	var err error

	switch {
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		value, err = strconv.ParseUint(s[2:], 16, 16)
	case strings.HasPrefix(s, "0b") || strings.HasPrefix(s, "0B"):
		value, err = strconv.ParseUint(s[2:], 2, 16)
	case strings.HasPrefix(s, "0o") || strings.HasPrefix(s, "0O"):
		value, err = strconv.ParseUint(s[2:], 8, 16)
	default:
		value, err = strconv.ParseUint(s, 10, 16)
	}

	if err != nil {
		return 0, fmt.Errorf("invalid uint16 value: %s", s)
	}
	return uint16(value), nil
}
