package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	modbus "github.com/edgeo-scada/modbus-bridge"
)

var (
	host    string
	port    int
	unitID  uint8
	timeout time.Duration
)

// addClientFlags registers the connection flags shared by client commands.
func addClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&host, "host", "H", "localhost", "Modbus server host")
	cmd.PersistentFlags().IntVarP(&port, "port", "p", 502, "Modbus server port")
	cmd.PersistentFlags().Uint8VarP(&unitID, "unit", "u", 1, "Modbus unit ID")
	cmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", modbus.DefaultTimeout, "Operation timeout")
}

func getAddress() string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// withClient connects a client, runs fn and closes the client.
func withClient(fn func(ctx context.Context, client *modbus.Client) error) error {
	client, err := modbus.NewClient(
		getAddress(),
		modbus.WithUnitID(modbus.UnitID(unitID)),
		modbus.WithTimeout(timeout),
		modbus.WithClientLogger(logger),
	)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	return fn(ctx, client)
}
