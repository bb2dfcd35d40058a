package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
)

const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorBold  = "\033[1m"
)

// printer renders command results in the selected output format.
type printer struct {
	w       io.Writer
	errW    io.Writer
	format  string
	noColor bool
}

func newPrinter(format string, noColor bool) *printer {
	return &printer{w: os.Stdout, errW: os.Stderr, format: format, noColor: noColor}
}

func (p *printer) color(c, s string) string {
	if p.noColor {
		return s
	}
	return c + s + colorReset
}

func (p *printer) Success(format string, args ...interface{}) {
	fmt.Fprintln(p.w, p.color(colorGreen, "OK")+" "+fmt.Sprintf(format, args...))
}

func (p *printer) Error(format string, args ...interface{}) {
	fmt.Fprintln(p.errW, p.color(colorRed, "ERROR")+" "+fmt.Sprintf(format, args...))
}

// RegisterResult is one decoded value in JSON output.
type RegisterResult struct {
	Address uint16      `json:"address"`
	Raw     []uint16    `json:"raw"`
	Hex     string      `json:"hex"`
	Value   interface{} `json:"value"`
	Format  string      `json:"format"`
}

func validFormat(format string) bool {
	switch format {
	case "", "uint16", "int16", "uint32", "int32", "float32":
		return true
	}
	return false
}

// width returns how many registers one value of format spans.
func width(format string) int {
	switch format {
	case "uint32", "int32", "float32":
		return 2
	}
	return 1
}

// decode groups values into results of the given format. Trailing registers
// that do not fill a whole value are dropped.
func decode(startAddr uint16, values []uint16, format string) []RegisterResult {
	if format == "" {
		format = "uint16"
	}
	n := width(format)
	results := make([]RegisterResult, 0, len(values)/n)
	for i := 0; i+n <= len(values); i += n {
		r := RegisterResult{
			Address: startAddr + uint16(i),
			Raw:     values[i : i+n],
			Format:  format,
		}
		switch format {
		case "int16":
			r.Value = int16(values[i])
			r.Hex = fmt.Sprintf("0x%04X", values[i])
		case "uint32":
			v := combineRegisters(values[i], values[i+1])
			r.Value, r.Hex = v, fmt.Sprintf("0x%08X", v)
		case "int32":
			v := combineRegisters(values[i], values[i+1])
			r.Value, r.Hex = int32(v), fmt.Sprintf("0x%08X", v)
		case "float32":
			v := combineRegisters(values[i], values[i+1])
			r.Value, r.Hex = math.Float32frombits(v), fmt.Sprintf("0x%08X", v)
		default:
			r.Value = values[i]
			r.Hex = fmt.Sprintf("0x%04X", values[i])
		}
		results = append(results, r)
	}
	return results
}

// Registers prints register values read from startAddr.
func (p *printer) Registers(title string, startAddr uint16, values []uint16, format string) error {
	switch p.format {
	case "json":
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(decode(startAddr, values, format))
	case "csv":
		return p.registersCSV(startAddr, values, format)
	case "raw":
		for _, v := range values {
			fmt.Fprintf(p.w, "%d\n", v)
		}
		return nil
	case "hex":
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = fmt.Sprintf("%04X", v)
		}
		fmt.Fprintln(p.w, strings.Join(parts, " "))
		return nil
	default:
		return p.registersTable(title, startAddr, values, format)
	}
}

func (p *printer) registersTable(title string, startAddr uint16, values []uint16, format string) error {
	fmt.Fprintf(p.w, "\n%s (Address %d, Count: %d)\n", p.color(colorBold, title), startAddr, len(values))
	fmt.Fprintln(p.w, strings.Repeat("-", 60))

	w := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	if width(format) == 1 && format != "int16" {
		fmt.Fprintln(w, "ADDRESS\tDECIMAL\tHEX\tBINARY")
		fmt.Fprintln(w, "-------\t-------\t---\t------")
		for i, v := range values {
			fmt.Fprintf(w, "%d\t%d\t0x%04X\t%016b\n", int(startAddr)+i, v, v, v)
		}
	} else {
		fmt.Fprintln(w, "ADDRESS\tVALUE\tHEX")
		fmt.Fprintln(w, "-------\t-----\t---")
		for _, r := range decode(startAddr, values, format) {
			addr := strconv.Itoa(int(r.Address))
			if len(r.Raw) > 1 {
				addr += "-" + strconv.Itoa(int(r.Address)+len(r.Raw)-1)
			}
			fmt.Fprintf(w, "%s\t%v\t%s\n", addr, r.Value, r.Hex)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(p.w)
	return nil
}

func (p *printer) registersCSV(startAddr uint16, values []uint16, format string) error {
	w := csv.NewWriter(p.w)
	w.Write([]string{"address", "raw", "hex", "value"})
	for _, r := range decode(startAddr, values, format) {
		w.Write([]string{
			strconv.Itoa(int(r.Address)),
			strconv.Itoa(int(r.Raw[0])),
			r.Hex,
			fmt.Sprintf("%v", r.Value),
		})
	}
	w.Flush()
	return w.Error()
}

// combineRegisters joins two registers, high word first.
func combineRegisters(high, low uint16) uint32 {
	return uint32(high)<<16 | uint32(low)
}
