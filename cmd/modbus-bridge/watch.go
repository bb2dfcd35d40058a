package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	modbus "github.com/edgeo-scada/modbus-bridge"
)

const colorYellow = "\033[33m"

var (
	watchInterval time.Duration
	watchCount    int
	watchDiff     bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll registers continuously",
	Long: `Poll registers at a fixed interval over a single connection and print
every sample. With --diff only changed registers are printed.`,
	Example: `  modbus-bridge watch hr -a 0 -c 5 -i 1s -H 127.0.0.1
  modbus-bridge watch ir -a 10 -c 2 -n 10 --diff`,
}

var watchHoldingRegistersCmd = &cobra.Command{
	Use:     "holding-registers",
	Aliases: []string{"hr", "holding"},
	Short:   "Watch holding registers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch("Holding Registers", (*modbus.Client).ReadHoldingRegisters)
	},
}

var watchInputRegistersCmd = &cobra.Command{
	Use:     "input-registers",
	Aliases: []string{"ir", "input"},
	Short:   "Watch input registers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch("Input Registers", (*modbus.Client).ReadInputRegisters)
	},
}

func init() {
	addClientFlags(watchCmd)
	watchCmd.AddCommand(watchHoldingRegistersCmd)
	watchCmd.AddCommand(watchInputRegistersCmd)

	for _, cmd := range []*cobra.Command{watchHoldingRegistersCmd, watchInputRegistersCmd} {
		cmd.Flags().Uint16VarP(&readAddr, "address", "a", 0, "Starting address")
		cmd.Flags().Uint16VarP(&readCount, "count", "c", 1, "Number of registers to read")
		cmd.Flags().DurationVarP(&watchInterval, "interval", "i", time.Second, "Poll interval")
		cmd.Flags().IntVarP(&watchCount, "iterations", "n", 0, "Number of iterations (0 = until interrupted)")
		cmd.Flags().BoolVar(&watchDiff, "diff", false, "Only print registers that changed")
	}
}

func runWatch(title string, read readFunc) error {
	client, err := modbus.NewClient(getAddress(),
		modbus.WithUnitID(modbus.UnitID(unitID)),
		modbus.WithTimeout(timeout),
		modbus.WithClientLogger(logger),
	)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	err = client.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}

	p := newPrinter(outputFmt, noColor)
	var prev []uint16
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

loop:
	for i := 1; ; i++ {
		readCtx, cancel := context.WithTimeout(ctx, timeout)
		values, err := read(client, readCtx, readAddr, readCount)
		cancel()

		if err != nil {
			p.Error("%s: %v", title, err)
		} else {
			printSample(p, time.Now(), prev, values)
			prev = values
		}

		if watchCount > 0 && i >= watchCount {
			break
		}
		select {
		case <-ctx.Done():
			fmt.Fprintln(p.w)
			break loop
		case <-ticker.C:
		}
	}

	m := client.Metrics()
	p.Success("%d reads, %d failed", m.RequestsTotal.Value(), m.RequestsErrors.Value())
	return nil
}

// printSample prints one line per register, marking values that differ from
// prev. With --diff unchanged registers are skipped.
func printSample(p *printer, at time.Time, prev, values []uint16) {
	for i, v := range values {
		changed := prev != nil && prev[i] != v
		if watchDiff && prev != nil && !changed {
			continue
		}
		line := fmt.Sprintf("%s  %5d  %5d  0x%04X", at.Format("15:04:05.000"), int(readAddr)+i, v, v)
		if changed {
			line = p.color(colorYellow, line+fmt.Sprintf("  (was %d)", prev[i]))
		}
		fmt.Fprintln(p.w, line)
	}
}
