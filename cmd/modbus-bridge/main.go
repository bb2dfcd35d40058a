// Package main is the modbus-bridge command: a polled single-client Modbus
// TCP server and a matching client for poking at it.
package main

import (
	"fmt"
	"os"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
