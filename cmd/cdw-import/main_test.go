package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"cdw-asset-import/internal/config"
	"cdw-asset-import/internal/pipeline"
	"cdw-asset-import/pkg/importer"
)

func TestRunExitCodes(t *testing.T) {
	t.Setenv("CDW_SERVER_PASSWORD", "")
	t.Setenv("CDW_ENV_FILE", "")

	tests := []struct {
		name       string
		args       []string
		want       int
		wantStderr string
	}{
		{name: "help", args: []string{"--help"}, want: exitOK, wantStderr: "--server-address"},
		{name: "unknown flag", args: []string{"--bogus"}, want: exitConfig, wantStderr: "unknown flag: --bogus"},
		{name: "missing credentials", args: []string{"--server-username=svc"}, want: exitConfig, wantStderr: "--server-password must be provided"},
		{name: "bad port", args: []string{"--server-username=svc", "--server-password=x", "--server-port=0"}, want: exitConfig},
		{
			name: "bad mapping",
			args: []string{"--server-username=svc", "--server-password=x", "--mapping=" + filepath.Join(t.TempDir(), "absent.yaml")},
			want: exitConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			assert.Equal(t, tt.want, run(tt.args, &stdout, &stderr))
			assert.Contains(t, stderr.String(), tt.wantStderr)
		})
	}
}

func TestPrintSummary(t *testing.T) {
	s := config.Settings{RemoteFile: "/Outbox/CDW_Asset_03072024.csv", OutputPath: "/out.csv", MinFileSize: 600}

	var buf bytes.Buffer
	printSummary(&buf, s, pipeline.Result{
		Outcome:       pipeline.Proceed,
		DownloadBytes: 2048,
		Summary: importer.Summary{
			RowsRead: 3, RowsWritten: 2, Skipped: 1, Warnings: 1,
			Samples: []importer.RowError{{Row: 4, Message: "row has 29 fields, expected 30; padding with empty values"}},
		},
	})
	out := buf.String()
	assert.Contains(t, out, "Outcome: proceed")
	assert.Contains(t, out, "Rows written: 2")
	assert.Contains(t, out, "Line 4: row has 29 fields")

	buf.Reset()
	printSummary(&buf, s, pipeline.Result{Outcome: pipeline.Fatal, Stage: "fetch", Err: errors.New("CONNECTION_ERROR: dial: refused")})
	assert.Contains(t, buf.String(), "Failed at: fetch")

	buf.Reset()
	printSummary(&buf, s, pipeline.Result{Outcome: pipeline.NoData})
	assert.Contains(t, buf.String(), "600 bytes or smaller")
}
