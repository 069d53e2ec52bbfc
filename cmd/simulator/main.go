// Command simulator loads a topology, applies its control section, turns
// on terminals and prints the per-channel reception reports.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/Mininet-Optical/mininet-optical-sub000/core"
	"github.com/Mininet-Optical/mininet-optical-sub000/internal/logging"
	"github.com/Mininet-Optical/mininet-optical-sub000/topology"
)

type options struct {
	topologyPath string
	turnOn       []string
	safe         bool
	format       string
	describePath string
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	var turnOn string
	fs.StringVar(&opts.topologyPath, "topology", "examples/topologies/linear.yaml", "topology file (.yaml, .yml or .json)")
	fs.StringVar(&turnOn, "turn-on", "", "comma-separated terminals to turn on (default: the file's turn_on list)")
	fs.BoolVar(&opts.safe, "safe", false, "stop signals at routing loops without reporting an error")
	fs.StringVar(&opts.format, "format", "text", "output format: text or json")
	fs.StringVar(&opts.describePath, "describe", "", "write the resulting topology and configuration to this file")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if turnOn != "" {
		for _, name := range strings.Split(turnOn, ",") {
			if name = strings.TrimSpace(name); name != "" {
				opts.turnOn = append(opts.turnOn, name)
			}
		}
	}
	if opts.format != "text" && opts.format != "json" {
		return options{}, fmt.Errorf("unknown -format %q", opts.format)
	}
	return opts, nil
}

func main() {
	log := logging.NewFromEnv()
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr, log); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "simulator:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, log logging.Logger) error {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}
	if log == nil {
		log = logging.Noop()
	}

	desc, err := topology.LoadFile(opts.topologyPath)
	if err != nil {
		return err
	}
	n, err := topology.Build(desc, core.WithLogger(log))
	if err != nil {
		return err
	}

	// Bindings come from the file; which terminals launch is decided here.
	ctl := topology.Control{}
	if desc.Control != nil {
		ctl = *desc.Control
	}
	if len(opts.turnOn) > 0 {
		ctl.TurnOn = opts.turnOn
	}
	ctl.Safe = ctl.Safe || opts.safe
	if err := topology.Apply(ctx, n, &ctl, log); err != nil && !errors.Is(err, core.ErrRoutingLoop) {
		return err
	} else if err != nil {
		fmt.Fprintln(stderr, "warning:", err)
	}

	if opts.describePath != "" {
		if err := topology.Describe(n).WriteToFile(opts.describePath); err != nil {
			return err
		}
	}

	var rows []reportRow
	for _, lt := range n.LineTerminals() {
		for _, rep := range lt.Reports() {
			rows = append(rows, newReportRow(lt.Name(), rep))
		}
	}
	if opts.format == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	printText(stdout, rows)
	return nil
}

// reportRow is one reception report in printable form. Infinite dB values
// become null in JSON.
type reportRow struct {
	Terminal    string   `json:"terminal"`
	Channel     int      `json:"channel"`
	Transceiver int      `json:"transceiver"`
	OK          bool     `json:"ok"`
	Reason      string   `json:"reason,omitempty"`
	PowerDBm    *float64 `json:"power_dbm"`
	OSNRdB      *float64 `json:"osnr_db"`
	GOSNRdB     *float64 `json:"gosnr_db"`
	ThresholdDB float64  `json:"threshold_db"`
}

func newReportRow(terminal string, rep core.ReceptionReport) reportRow {
	row := reportRow{
		Terminal:    terminal,
		Channel:     rep.Channel,
		Transceiver: rep.TransceiverID,
		OK:          rep.OK,
		Reason:      rep.Reason,
		ThresholdDB: rep.ThresholdDB,
	}
	if rep.Reason != core.ReasonMissing {
		row.PowerDBm = finite(rep.PowerDBm)
		row.OSNRdB = finite(rep.OSNRdB)
		row.GOSNRdB = finite(rep.GOSNRdB)
	}
	return row
}

func finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

func printText(w io.Writer, rows []reportRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "no reception reports")
		return
	}
	fmt.Fprintf(w, "%-12s %4s %4s %-6s %9s %9s %9s  %s\n", "terminal", "ch", "trx", "status", "power", "osnr", "gosnr", "reason")
	for _, r := range rows {
		status := "FAIL"
		if r.OK {
			status = "OK"
		}
		fmt.Fprintf(w, "%-12s %4d %4d %-6s %9s %9s %9s  %s\n",
			r.Terminal, r.Channel, r.Transceiver, status,
			dB(r.PowerDBm, "dBm"), dB(r.OSNRdB, "dB"), dB(r.GOSNRdB, "dB"), r.Reason)
	}
}

func dB(v *float64, unit string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f %s", *v, unit)
}
