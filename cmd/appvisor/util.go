package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/loykin/appvisor/internal/history"
	"github.com/loykin/appvisor/pkg/client"
	"gopkg.in/yaml.v3"
)

// printAs writes v as indented JSON or YAML.
func printAs(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer func() { _ = enc.Close() }()
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q (want json or yaml)", format)
	}
}

func printStatusTable(w io.Writer, apps []client.AppStatus) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tSTATE\tPID\tUPTIME\tRESTARTS\tEXIT\tWATCH\tENTRYPOINT")
	for _, a := range apps {
		pid := "-"
		if a.PID > 0 {
			pid = fmt.Sprint(a.PID)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%t\t%s\n",
			a.Name, a.State, pid, a.Uptime.Truncate(time.Second), a.Restarts, a.ExitCode, a.Watching, a.Entrypoint)
	}
	_ = tw.Flush()
}

func printEvents(w io.Writer, events []history.Event) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "TIME\tEVENT\tNAME\tPID\tSTATE\tEXIT\tRESTARTS\tREASON")
	for _, e := range events {
		r := e.Record
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\t%d\t%s\n",
			e.OccurredAt.Local().Format(time.DateTime), e.Type, r.Name, r.PID, r.State, r.ExitCode, r.Restarts, r.Reason)
	}
	_ = tw.Flush()
}
