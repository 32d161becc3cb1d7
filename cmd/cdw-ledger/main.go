package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"cdw-asset-import/internal/ledger"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// openLedger is replaced in tests.
var openLedger = ledger.Open

// cdw-ledger prepares the run ledger table and prints the most recent run.
func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("cdw-ledger", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	dsn := fs.String("dsn", os.Getenv("CDW_LEDGER_DSN"), "PostgreSQL DSN of the run ledger")
	table := fs.String("table", ledger.DefaultTable, "Run ledger table name")
	initOnly := fs.Bool("init", false, "Only create the table")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}

	if *dsn == "" {
		fmt.Fprintln(stderr, "Usage: cdw-ledger --dsn=postgres://... [--table=cdw_import_runs] [--init]")
		return exitUsage
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	runs, err := openLedger(ctx, *dsn, *table)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to open ledger: %v\n", err)
		return exitError
	}
	defer runs.Close()

	fmt.Fprintf(stdout, "Ledger table %s is ready\n", *table)
	if *initOnly {
		return exitOK
	}

	last, err := runs.Last(ctx)
	if errors.Is(err, ledger.ErrNoRuns) {
		fmt.Fprintln(stdout, "No runs recorded yet")
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "Failed to read last run: %v\n", err)
		return exitError
	}

	printRun(stdout, last)
	return exitOK
}

func printRun(w io.Writer, last *ledger.Run) {
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintln(w, "LAST RUN")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "Run: %s\n", last.ID)
	fmt.Fprintf(w, "Finished: %s (took %s)\n", last.FinishedAt.Format(time.RFC3339), last.FinishedAt.Sub(last.StartedAt))
	fmt.Fprintf(w, "Outcome: %s\n", last.Outcome)
	if last.ErrorKind != "" {
		fmt.Fprintf(w, "Error: %s: %s\n", last.ErrorKind, last.Message)
	}
	if len(last.MissingHeaders) > 0 {
		fmt.Fprintf(w, "Missing headers: %s\n", strings.Join(last.MissingHeaders, ", "))
	}
	fmt.Fprintf(w, "Remote file: %s (%d bytes)\n", last.RemoteFile, last.DownloadBytes)
	fmt.Fprintf(w, "Output file: %s\n", last.OutputFile)
	fmt.Fprintf(w, "Rows: read=%d written=%d skipped=%d overridden=%d\n",
		last.RowsRead, last.RowsWritten, last.RowsSkipped, last.RowsOverridden)
}
