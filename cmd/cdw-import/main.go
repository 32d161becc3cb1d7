package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"cdw-asset-import/internal/config"
	"cdw-asset-import/internal/fetch"
	"cdw-asset-import/internal/ledger"
	"cdw-asset-import/internal/logger"
	"cdw-asset-import/internal/pipeline"
	"cdw-asset-import/pkg/importer"
)

const (
	exitOK     = 0
	exitFatal  = 1
	exitConfig = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	settings, err := config.Load(args, time.Now(), stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return exitConfig
	}

	log, err := logger.New(settings.LogLevel, settings.LogFormat)
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return exitConfig
	}
	defer log.Sync() //nolint:errcheck

	mapping, err := importer.LoadMappingConfig(settings.MappingPath)
	if err != nil {
		log.Error("invalid mapping", zap.String("error_kind", "CONFIGURATION_ERROR"), zap.Error(err))
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []pipeline.Option{
		pipeline.WithLogger(logger.Named(log, "pipeline")),
		pipeline.WithMapping(mapping),
	}

	if settings.LedgerDSN != "" {
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		runs, err := ledger.Open(openCtx, settings.LedgerDSN, settings.LedgerTable)
		cancel()
		if err != nil {
			log.Warn("run ledger disabled", zap.Error(err))
		} else {
			defer runs.Close()
			opts = append(opts, pipeline.WithRecorder(runs))
		}
	}

	fetcher := fetch.NewSFTPFetcher(logger.Named(log, "fetch"))
	res := pipeline.New(settings, fetcher, opts...).Run(ctx)

	printSummary(stdout, settings, res)
	return res.ExitCode()
}

func printSummary(w io.Writer, s config.Settings, res pipeline.Result) {
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintln(w, "CDW IMPORT SUMMARY")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "Run: %s\n", res.RunID)
	fmt.Fprintf(w, "Outcome: %s\n", res.Outcome)
	fmt.Fprintf(w, "Remote file: %s (%d bytes)\n", s.RemoteFile, res.DownloadBytes)

	switch res.Outcome {
	case pipeline.Fatal:
		fmt.Fprintf(w, "Failed at: %s\n", res.Stage)
		fmt.Fprintf(w, "Error: %v\n", res.Err)
	case pipeline.NoData:
		fmt.Fprintf(w, "Report is %d bytes or smaller; nothing to import\n", s.MinFileSize)
	default:
		fmt.Fprintf(w, "Output: %s\n", s.OutputPath)
		fmt.Fprintf(w, "Rows read: %d\n", res.Summary.RowsRead)
		fmt.Fprintf(w, "Rows written: %d\n", res.Summary.RowsWritten)
		fmt.Fprintf(w, "Rows skipped (no asset tag): %d\n", res.Summary.Skipped)
		fmt.Fprintf(w, "Customer name overridden: %d\n", res.Summary.Overridden)
		if res.Summary.Warnings > 0 {
			fmt.Fprintf(w, "Row warnings: %d\n", res.Summary.Warnings)
			for _, sample := range res.Summary.Samples {
				fmt.Fprintf(w, "  Line %d: %s\n", sample.Row, sample.Message)
			}
		}
	}
}
