package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/wireproto/engine/pkg/logging"
)

var inspectLogCmd = &cobra.Command{
	Use:   "inspect-log <path>",
	Short: "Print a recorded event sink's stack lifecycle timeline",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspectLog,
}

func init() {
	inspectLogCmd.Flags().String("format", "jsonl", "Sink format: jsonl, cbor, or sqlite")
	v.BindPFlag("inspect-log.format", inspectLogCmd.Flags().Lookup("format"))
	rootCmd.AddCommand(inspectLogCmd)
}

func runInspectLog(cmd *cobra.Command, args []string) error {
	path := args[0]
	format := v.GetString("inspect-log.format")

	var events []*logging.Event
	var err error
	switch format {
	case "jsonl":
		events, err = readJSONLEvents(path)
	case "cbor":
		events, err = readCBOREvents(path)
	case "sqlite":
		events, err = readSQLiteEvents(path)
	default:
		return fmt.Errorf("inspect-log: unknown format %q", format)
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tSTACK\tTRANSITION\tLAYER\tCAUSE")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format("2006-01-02T15:04:05.000Z"), e.StackName, e.Transition, e.Layer, e.Cause)
	}
	return w.Flush()
}

func readJSONLEvents(path string) ([]*logging.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("inspect-log: %w", err)
	}
	defer f.Close()

	var events []*logging.Event
	dec := json.NewDecoder(f)
	for {
		var e logging.Event
		if err := dec.Decode(&e); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("inspect-log: decoding jsonl: %w", err)
		}
		events = append(events, &e)
	}
	return events, nil
}

func readCBOREvents(path string) ([]*logging.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("inspect-log: %w", err)
	}
	defer f.Close()

	var events []*logging.Event
	dec := cbor.NewDecoder(f)
	for {
		var e logging.Event
		if err := dec.Decode(&e); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("inspect-log: decoding cbor: %w", err)
		}
		events = append(events, &e)
	}
	return events, nil
}

func readSQLiteEvents(path string) ([]*logging.Event, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("inspect-log: %w", err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT ts, stack, transition, layer, cause FROM events ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("inspect-log: querying sqlite: %w", err)
	}
	defer rows.Close()

	var events []*logging.Event
	for rows.Next() {
		var e logging.Event
		var ts string
		var layer, cause sql.NullString
		if err := rows.Scan(&ts, &e.StackName, &e.Transition, &layer, &cause); err != nil {
			return nil, fmt.Errorf("inspect-log: scanning row: %w", err)
		}
		if parsed, perr := parseEventTimestamp(ts); perr == nil {
			e.Timestamp = parsed
		}
		e.Layer = layer.String
		e.Cause = cause.String
		events = append(events, &e)
	}
	return events, rows.Err()
}

func parseEventTimestamp(s string) (time.Time, error) {
	return time.Parse("2006-01-02T15:04:05.000000000Z07:00", s)
}
