package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/banshee-data/gridctl/internal/config"
	"github.com/banshee-data/gridctl/internal/db"
	"github.com/banshee-data/gridctl/internal/engine"
	"github.com/banshee-data/gridctl/internal/httputil"
)

// run executes one gridctl command against the daemon behind c.
func run(ctx context.Context, c *httputil.Client, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errors.New("missing command; run 'gridctl help'")
	}
	switch args[0] {
	case "status":
		return showStatus(ctx, c, stdout)
	case "config":
		return showConfig(ctx, c, stdout)
	case "apply":
		return applyConfig(ctx, c, args[1:], stdout)
	case "history":
		return showHistory(ctx, c, args[1:], stdout)
	case "ports":
		return showPorts(ctx, c, stdout)
	case "help", "-h", "--help":
		printHelp(stdout)
		return nil
	default:
		return fmt.Errorf("unknown command %q; run 'gridctl help'", args[0])
	}
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: gridctl [-addr URL] <command> [args]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  status            Show the latest control cycle")
	fmt.Fprintln(w, "  config            Print the running configuration")
	fmt.Fprintln(w, "  apply <file>      Replace the running configuration with file")
	fmt.Fprintln(w, "  history [-n N]    List the last N recorded cycles (default 20)")
	fmt.Fprintln(w, "  ports             List serial ports")
}

func showStatus(ctx context.Context, c *httputil.Client, w io.Writer) error {
	var st struct {
		engine.Status
		Healthy bool `json:"healthy"`
	}
	if err := c.GetJSON(ctx, "/api/status", &st); err != nil {
		return err
	}

	conn := st.Connection
	fmt.Fprintf(w, "cycle %d, epoch %d, %s\n", st.Cycle, st.Epoch, st.Time.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "controller: %s %s", conn.State, conn.Port)
	if conn.Reason != "" {
		fmt.Fprintf(w, " (%s)", conn.Reason)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "healthy: %t, telemetry: %t\n", st.Healthy, st.TelemetryOK)

	if len(st.Signals) > 0 {
		tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
		fmt.Fprintf(tw, "\nSIGNAL\tFN\tVALUE\tMIN\tMAX\n")
		for _, s := range st.Signals {
			fmt.Fprintf(tw, "%s\t%s\t%.1f\t%.1f\t%.1f\n", s.Name, s.Fn, s.Value, s.Min, s.Max)
		}
		tw.Flush()
	}

	rpm := make(map[int]int, len(st.Fans))
	for _, f := range st.Fans {
		rpm[f.Channel] = f.RPM
	}
	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "\nFAN\tTARGET\tLEVEL\tRPM\n")
	for i, target := range st.Targets {
		ch := i + 1
		level := -1
		if i < len(st.Levels) {
			level = st.Levels[i]
		}
		r, polled := rpm[ch]
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", ch, levelText(target), levelText(level), optional(r, polled))
	}
	tw.Flush()

	for _, e := range st.Errors {
		fmt.Fprintf(w, "error: %s\n", e)
	}
	return nil
}

func levelText(v int) string {
	if v < 0 {
		return "-"
	}
	return strconv.Itoa(v) + "%"
}

func optional(v int, ok bool) string {
	if !ok {
		return "-"
	}
	return strconv.Itoa(v)
}

func showConfig(ctx context.Context, c *httputil.Client, w io.Writer) error {
	var resp struct {
		Epoch  uint64          `json:"epoch"`
		Config json.RawMessage `json:"config"`
	}
	if err := c.GetJSON(ctx, "/api/config", &resp); err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, resp.Config, "", "  "); err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}
	fmt.Fprintf(w, "// epoch %d\n%s\n", resp.Epoch, out.String())
	return nil
}

// applyConfig sends a configuration file, which may contain comments, to the
// daemon and reports any rejected fields.
func applyConfig(ctx context.Context, c *httputil.Client, args []string, w io.Writer) error {
	if len(args) != 1 {
		return errors.New("usage: gridctl apply <file>")
	}
	body, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}

	var resp struct {
		Epoch uint64 `json:"epoch"`
	}
	err = c.PutJSON(ctx, "/api/config", body, &resp)
	var serr *httputil.StatusError
	if errors.As(err, &serr) {
		var rejected struct {
			Fields []config.FieldError `json:"fields"`
		}
		if json.Unmarshal(serr.Body, &rejected) == nil && len(rejected.Fields) > 0 {
			for _, f := range rejected.Fields {
				fmt.Fprintf(w, "  %s: %s\n", f.Field, f.Msg)
			}
			return fmt.Errorf("configuration rejected: %d invalid fields", len(rejected.Fields))
		}
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "configuration applied, epoch %d\n", resp.Epoch)
	return nil
}

func showHistory(ctx context.Context, c *httputil.Client, args []string, w io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(w)
	n := fs.Int("n", 20, "Number of cycles to list")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *n < 1 || *n > db.MaxHistoryLimit {
		return fmt.Errorf("-n must be between 1 and %d", db.MaxHistoryLimit)
	}

	var records []db.CycleRecord
	if err := c.GetJSON(ctx, fmt.Sprintf("/api/history?limit=%d", *n), &records); err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "No cycles recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 2, 0, 3, ' ', 0)
	fmt.Fprintf(tw, "TIME\tCYCLE\tSTATE\tOK\tSENT\tLEVELS\n")
	for _, r := range records {
		levels := make([]string, 0, len(r.Fans))
		for _, f := range r.Fans {
			levels = append(levels, levelText(f.Level))
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%t\t%d\t%s\n",
			r.Time.Local().Format("15:04:05"), r.Cycle, r.State, r.OK, r.Sent, strings.Join(levels, " "))
	}
	return tw.Flush()
}

func showPorts(ctx context.Context, c *httputil.Client, w io.Writer) error {
	var resp struct {
		Configured string   `json:"configured"`
		Ports      []string `json:"ports"`
	}
	if err := c.GetJSON(ctx, "/api/ports", &resp); err != nil {
		return err
	}
	for _, p := range resp.Ports {
		marker := " "
		if p == resp.Configured {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %s\n", marker, p)
	}
	if len(resp.Ports) == 0 {
		fmt.Fprintln(w, "No serial ports found.")
	}
	return nil
}
