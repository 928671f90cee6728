// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/joeycumines/go-eventexecutor"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

type (
	report struct {
		Seed               int64            `json:"seed" yaml:"seed"`
		Loops              int              `json:"loops" yaml:"loops"`
		Producers          int              `json:"producers" yaml:"producers"`
		Accepted           int              `json:"accepted" yaml:"accepted"`
		Ran                int              `json:"ran" yaml:"ran"`
		Lost               int              `json:"lost" yaml:"lost"`
		ScheduledAccepted  int              `json:"scheduled_accepted" yaml:"scheduled_accepted"`
		ScheduledRan       int              `json:"scheduled_ran" yaml:"scheduled_ran"`
		ScheduledCancelled int              `json:"scheduled_cancelled" yaml:"scheduled_cancelled"`
		FIFOViolations     int              `json:"fifo_violations" yaml:"fifo_violations"`
		DeadlineViolations int              `json:"deadline_violations" yaml:"deadline_violations"`
		MaxLateness        duration         `json:"max_lateness" yaml:"max_lateness"`
		Elapsed            duration         `json:"elapsed" yaml:"elapsed"`
		Throughput         float64          `json:"throughput" yaml:"throughput"`
		Executors          []executorReport `json:"executors" yaml:"executors"`
	}

	executorReport struct {
		Name         string   `json:"name" yaml:"name"`
		Executed     uint64   `json:"executed" yaml:"executed"`
		Failed       uint64   `json:"failed" yaml:"failed"`
		Rejected     uint64   `json:"rejected" yaml:"rejected"`
		Cancelled    uint64   `json:"cancelled" yaml:"cancelled"`
		TPS          float64  `json:"tps" yaml:"tps"`
		P50          duration `json:"p50" yaml:"p50"`
		P99          duration `json:"p99" yaml:"p99"`
		Max          duration `json:"max" yaml:"max"`
		QueueMax     int      `json:"queue_max" yaml:"queue_max"`
		QueueAvg     float64  `json:"queue_avg" yaml:"queue_avg"`
		ScheduledMax int      `json:"scheduled_max" yaml:"scheduled_max"`
	}

	versionInfo struct {
		Version   string `json:"version" yaml:"version"`
		GoVersion string `json:"go_version" yaml:"go_version"`
	}

	// duration renders as a string, e.g. "1.5ms", in every format.
	duration time.Duration
)

func (d duration) String() string { return time.Duration(d).String() }

func (d duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d duration) MarshalYAML() (any, error) { return d.String(), nil }

// Violations is the number of broken guarantees: out of order immediate or
// scheduled tasks, and accepted immediate tasks that never ran.
func (r *report) Violations() int {
	return r.FIFOViolations + r.DeadlineViolations + r.Lost
}

func (r *report) addExecutor(name string, m *eventexecutor.Metrics) {
	row := executorReport{Name: name}
	if m != nil {
		row.Executed = m.Executed
		row.Failed = m.Failed
		row.Rejected = m.Rejected
		row.Cancelled = m.Cancelled
		row.TPS = m.TPS
		row.P50 = duration(m.Latency.P50)
		row.P99 = duration(m.Latency.P99)
		row.Max = duration(m.Latency.Max)
		row.QueueMax = m.Queue.ImmediateMax
		row.QueueAvg = m.Queue.ImmediateAvg
		row.ScheduledMax = m.Queue.ScheduledMax
	}
	r.Executors = append(r.Executors, row)
}

func writeReport(w io.Writer, format string, noColor bool, r *report) error {
	switch format {
	case `json`:
		return writeJSON(w, r)
	case `yaml`:
		return writeYAML(w, r)
	case `table`, ``:
		return writeTable(w, noColor, r)
	default:
		return fmt.Errorf(`unknown output format %q`, format)
	}
}

func writeVersion(w io.Writer, format string, info versionInfo) error {
	switch format {
	case `json`:
		return writeJSON(w, info)
	case `yaml`:
		return writeYAML(w, info)
	default:
		_, err := fmt.Fprintf(w, "loopbench %s (%s)\n", info.Version, info.GoVersion)
		return err
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent(``, `  `)
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func writeTable(w io.Writer, noColor bool, r *report) error {
	useColor := !noColor && isTerminal(w)
	paint := func(attrs ...color.Attribute) func(format string, a ...any) string {
		c := color.New(attrs...)
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c.Sprintf
	}
	header, good, bad := paint(color.Bold), paint(color.FgGreen), paint(color.FgRed, color.Bold)

	table := newTable(w)
	table.SetHeader([]string{`EXECUTOR`, `EXECUTED`, `FAILED`, `CANCELLED`, `TPS`, `P50`, `P99`, `MAX`, `QUEUE MAX`, `QUEUE AVG`})
	for _, e := range r.Executors {
		table.Append([]string{
			e.Name,
			strconv.FormatUint(e.Executed, 10),
			strconv.FormatUint(e.Failed, 10),
			strconv.FormatUint(e.Cancelled, 10),
			strconv.FormatFloat(e.TPS, 'f', 1, 64),
			e.P50.String(),
			e.P99.String(),
			e.Max.String(),
			strconv.Itoa(e.QueueMax),
			strconv.FormatFloat(e.QueueAvg, 'f', 1, 64),
		})
	}
	table.Render()

	if _, err := fmt.Fprintf(w, "\n%s %d immediate (%d ran), %d scheduled (%d ran, %d cancelled) in %s, %.0f tasks/s, max lateness %s\n",
		header(`total:`),
		r.Accepted, r.Ran,
		r.ScheduledAccepted, r.ScheduledRan, r.ScheduledCancelled,
		r.Elapsed, r.Throughput, r.MaxLateness,
	); err != nil {
		return err
	}

	verdict := good(`ok`)
	if r.Violations() != 0 {
		verdict = bad(`%d fifo, %d deadline, %d lost`, r.FIFOViolations, r.DeadlineViolations, r.Lost)
	}
	_, err := fmt.Fprintf(w, "%s %s\n", header(`ordering:`), verdict)
	return err
}

func newTable(w io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator(``)
	table.SetColumnSeparator(``)
	table.SetRowSeparator(``)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	return table
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}
