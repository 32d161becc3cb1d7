package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"cdw-asset-import/internal/apperr"
	"cdw-asset-import/pkg/importer"
)

// EnvPrefix is prepended to every flag name when it is looked up in the environment,
// e.g. --server-password is read from CDW_SERVER_PASSWORD.
const EnvPrefix = "CDW"

// DateStamp is the layout used for the date-stamped default paths (MMDDYYYY).
const DateStamp = "01022006"

// Settings is the immutable configuration of one import run.
type Settings struct {
	RemoteFile       string
	DownloadPath     string
	TemplatePath     string
	OutputPath       string
	ArchivePath      string
	ServerAddress    string
	ServerPort       int
	Username         string
	Password         string
	MinFileSize      int64
	KnownHostsPath   string
	SourceCustomer   string
	OverrideCustomer string
	Timeout          time.Duration

	MappingPath string
	HeaderCheck string

	MetricsFile string
	LedgerDSN   string
	LedgerTable string

	LogLevel  string
	LogFormat string
}

// Load parses args into Settings. Flag values win over CDW_* environment
// variables, which win over the defaults. Path defaults carry the date of now.
// Usage and parse errors are printed to output.
func Load(args []string, now time.Time, output io.Writer) (Settings, error) {
	if output == nil {
		output = os.Stderr
	}
	fs := NewFlagSet(now)
	fs.SetOutput(output)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return Settings{}, err
		}
		fmt.Fprintf(output, "Error: %v\n", err)
		fs.PrintDefaults()
		return Settings{}, apperr.New(apperr.KindConfiguration, "parse flags", err)
	}

	envFile, _ := fs.GetString("env-file")
	if envFile == "" {
		envFile = os.Getenv(EnvPrefix + "_ENV_FILE")
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Settings{}, apperr.New(apperr.KindConfiguration, "load env file "+envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return Settings{}, apperr.New(apperr.KindConfiguration, "bind flags", err)
	}

	minSize, err := cast.ToInt64E(v.Get("min-filesize"))
	if err != nil {
		return Settings{}, apperr.Errorf(apperr.KindConfiguration, "min-filesize", "not an integer: %v", err)
	}
	port, err := cast.ToIntE(v.Get("server-port"))
	if err != nil {
		return Settings{}, apperr.Errorf(apperr.KindConfiguration, "server-port", "not an integer: %v", err)
	}
	timeout, err := cast.ToDurationE(v.Get("timeout"))
	if err != nil {
		return Settings{}, apperr.Errorf(apperr.KindConfiguration, "timeout", "not a duration: %v", err)
	}

	s := Settings{
		RemoteFile:       v.GetString("remote-file"),
		DownloadPath:     v.GetString("download-location"),
		TemplatePath:     v.GetString("template"),
		OutputPath:       v.GetString("output-file"),
		ArchivePath:      v.GetString("archive-file"),
		ServerAddress:    v.GetString("server-address"),
		ServerPort:       port,
		Username:         v.GetString("server-username"),
		Password:         v.GetString("server-password"),
		MinFileSize:      minSize,
		KnownHostsPath:   v.GetString("known-hosts"),
		SourceCustomer:   v.GetString("cdw-name"),
		OverrideCustomer: v.GetString("customer-name"),
		Timeout:          timeout,
		MappingPath:      v.GetString("mapping"),
		HeaderCheck:      strings.ToLower(v.GetString("header-check")),
		MetricsFile:      v.GetString("metrics-file"),
		LedgerDSN:        v.GetString("ledger-dsn"),
		LedgerTable:      v.GetString("ledger-table"),
		LogLevel:         strings.ToLower(v.GetString("log-level")),
		LogFormat:        strings.ToLower(v.GetString("log-format")),
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// NewFlagSet declares every flag of the import job with its default.
func NewFlagSet(now time.Time) *pflag.FlagSet {
	stamp := now.Format(DateStamp)

	fs := pflag.NewFlagSet("cdw-import", pflag.ContinueOnError)
	fs.SortFlags = false

	fs.String("remote-file", "/Outbox/CDW_Asset_"+stamp+".csv", "Path on the remote server where the report exists")
	fs.String("download-location", "/tmp/CDW_Asset_"+stamp+".csv", "Local path the report is downloaded to")
	fs.String("template", "/snipeit/assetmanagement/resources/template.csv", "Template file (.csv or .xlsx) defining the output columns")
	fs.String("output-file", "/snipeit/assetmanagement/output/assetrecord_"+stamp+".csv", "Output file picked up by the asset-management import")
	fs.String("archive-file", "/snipeit/assetmanagement/archive/"+stamp+".csv", "Copy of the downloaded report kept for audit")
	fs.String("server-address", "gis.cdw.com", "SFTP server address")
	fs.Int("server-port", 22, "SFTP server port")
	fs.String("server-username", "", "SFTP username")
	fs.String("server-password", "", "SFTP password (prefer "+EnvPrefix+"_SERVER_PASSWORD)")
	fs.Int64("min-filesize", 600, "Reports of this many bytes or fewer are treated as having no data")
	fs.String("known-hosts", "/snipeit/assetmanagement/resources/cdw.knownhosts", "known_hosts file used to verify the server")
	fs.String("cdw-name", "Company Name", "Customer name as it appears in the CDW report")
	fs.String("customer-name", "Company Name", "Company name written in place of the CDW customer name")
	fs.Duration("timeout", 0, "Connection timeout for the SFTP session (0 disables)")
	fs.String("mapping", "", "YAML column mapping overriding the built-in one")
	fs.String("header-check", importer.HeaderCheckSuperset, "Required header check: superset or exact")
	fs.String("metrics-file", "", "Write Prometheus metrics to this textfile after the run")
	fs.String("ledger-dsn", "", "PostgreSQL DSN of the run ledger (disabled when empty)")
	fs.String("ledger-table", "cdw_import_runs", "Run ledger table name")
	fs.String("log-level", "info", "Log level: debug, info, warn, error")
	fs.String("log-format", "console", "Log format: console or json")
	fs.String("env-file", "", "dotenv file loaded before reading "+EnvPrefix+"_* variables")

	return fs
}

// Validate checks that every required setting is present and in range.
func (s Settings) Validate() error {
	required := []struct {
		flag  string
		value string
	}{
		{"remote-file", s.RemoteFile},
		{"download-location", s.DownloadPath},
		{"template", s.TemplatePath},
		{"output-file", s.OutputPath},
		{"archive-file", s.ArchivePath},
		{"server-address", s.ServerAddress},
		{"server-username", s.Username},
		{"server-password", s.Password},
		{"known-hosts", s.KnownHostsPath},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return apperr.Errorf(apperr.KindConfiguration, r.flag, "--%s must be provided", r.flag)
		}
	}

	if s.MinFileSize < 0 {
		return apperr.Errorf(apperr.KindConfiguration, "min-filesize", "must not be negative, got %d", s.MinFileSize)
	}
	if s.ServerPort < 1 || s.ServerPort > 65535 {
		return apperr.Errorf(apperr.KindConfiguration, "server-port", "must be between 1 and 65535, got %d", s.ServerPort)
	}
	if s.Timeout < 0 {
		return apperr.Errorf(apperr.KindConfiguration, "timeout", "must not be negative, got %v", s.Timeout)
	}

	switch s.HeaderCheck {
	case importer.HeaderCheckSuperset, importer.HeaderCheckExact:
	default:
		return apperr.Errorf(apperr.KindConfiguration, "header-check", "must be %q or %q, got %q", importer.HeaderCheckSuperset, importer.HeaderCheckExact, s.HeaderCheck)
	}

	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return apperr.Errorf(apperr.KindConfiguration, "log-level", "unknown level %q", s.LogLevel)
	}
	switch s.LogFormat {
	case "console", "json":
	default:
		return apperr.Errorf(apperr.KindConfiguration, "log-format", "unknown format %q", s.LogFormat)
	}

	if s.LedgerDSN != "" && strings.TrimSpace(s.LedgerTable) == "" {
		return apperr.Errorf(apperr.KindConfiguration, "ledger-table", "must be provided when --ledger-dsn is set")
	}

	return nil
}

// Redacted returns a copy safe to log.
func (s Settings) Redacted() Settings {
	if s.Password != "" {
		s.Password = "********"
	}
	if s.LedgerDSN != "" {
		s.LedgerDSN = "********"
	}
	return s
}

func (s Settings) String() string {
	r := s.Redacted()
	return fmt.Sprintf("remote=%s download=%s template=%s output=%s archive=%s server=%s:%d user=%s min=%d",
		r.RemoteFile, r.DownloadPath, r.TemplatePath, r.OutputPath, r.ArchivePath,
		r.ServerAddress, r.ServerPort, r.Username, r.MinFileSize)
}
