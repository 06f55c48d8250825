// Package config loads and validates archiver configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/archive"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/backfill"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/fetch"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/pipeline"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/retry"
	"github.com/Erdos-Projects/spring-2026-electricity-TX/internal/sortengine"
)

const (
	envPrefix = "ERCOT"

	// DefaultFromDate and DefaultToDate bound the ten-year default window.
	DefaultFromDate = "2016-01-01"
	DefaultToDate   = "2025-12-31"
)

// Config captures all archiver configuration knobs loaded via Viper.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Listing  ListingConfig  `mapstructure:"listing"`
	Download DownloadConfig `mapstructure:"download"`
	Sort     SortConfig     `mapstructure:"sort"`
	Backfill BackfillConfig `mapstructure:"backfill"`
	Failures FailuresConfig `mapstructure:"failures"`
	Mirror   MirrorConfig   `mapstructure:"mirror"`
	Events   EventsConfig   `mapstructure:"events"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// APIConfig holds the ERCOT account and endpoints.
type APIConfig struct {
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	SubscriptionKey string `mapstructure:"subscription_key"`
	TokenURL        string `mapstructure:"token_url"`
	ClientID        string `mapstructure:"client_id"`
	// Scope defaults to "openid <client_id> offline_access" when empty.
	Scope          string `mapstructure:"scope"`
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// HTTPConfig configures request retries and pacing.
type HTTPConfig struct {
	MaxRetries             int     `mapstructure:"max_retries"`
	RetrySleepSeconds      float64 `mapstructure:"retry_sleep_seconds"`
	RequestIntervalSeconds float64 `mapstructure:"request_interval_seconds"`
}

// ListingConfig governs archive pagination.
type ListingConfig struct {
	PageSize int    `mapstructure:"page_size"`
	Retries  int    `mapstructure:"retries"`
	Order    string `mapstructure:"order"`
	MaxDocs  int    `mapstructure:"max_docs"`
}

// DownloadConfig drives the per-dataset download run.
type DownloadConfig struct {
	Datasets                []string `mapstructure:"datasets"`
	From                    string   `mapstructure:"from"`
	To                      string   `mapstructure:"to"`
	DetectEarliest          bool     `mapstructure:"detect_earliest"`
	Resume                  bool     `mapstructure:"resume"`
	StateDir                string   `mapstructure:"state_dir"`
	OutDir                  string   `mapstructure:"out_dir"`
	LogsDir                 string   `mapstructure:"logs_dir"`
	Bulk                    bool     `mapstructure:"bulk"`
	BulkChunkSize           int      `mapstructure:"bulk_chunk_size"`
	DryRun                  bool     `mapstructure:"dry_run"`
	Consolidate             bool     `mapstructure:"consolidate"`
	DeleteSource            bool     `mapstructure:"delete_source"`
	ExtractZips             bool     `mapstructure:"extract_zips"`
	WriteManifest           bool     `mapstructure:"write_manifest"`
	DNSFailureThreshold     int      `mapstructure:"dns_failure_threshold"`
	DNSCooldownSeconds      float64  `mapstructure:"dns_cooldown_seconds"`
	SkipUnavailableDatasets bool     `mapstructure:"skip_unavailable"`
}

// SortConfig selects how period files are ordered after merging.
type SortConfig struct {
	Order    string `mapstructure:"order"`
	Strategy string `mapstructure:"strategy"`
	Existing bool   `mapstructure:"existing"`
}

// BackfillConfig drives the posting-time reconciler.
type BackfillConfig struct {
	Mode            string `mapstructure:"mode"`
	Order           string `mapstructure:"order"`
	Overwrite       bool   `mapstructure:"overwrite"`
	DownloadMissing bool   `mapstructure:"download_missing"`
	FetchMissing    bool   `mapstructure:"fetch_missing"`
	BulkChunkSize   int    `mapstructure:"bulk_chunk_size"`
	ManifestPath    string `mapstructure:"manifest_path"`
	Verify          bool   `mapstructure:"verify"`
	DeleteRedundant bool   `mapstructure:"delete_redundant"`
	ArchiveDir      string `mapstructure:"archive_dir"`
}

// FailuresConfig locates the failure log and the optional Postgres copy.
type FailuresConfig struct {
	CSVPath       string `mapstructure:"csv_path"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
}

// MirrorConfig enables copying period files to GCS or a second local tree.
type MirrorConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
}

// EventsConfig enables publishing progress events to Pub/Sub.
type EventsConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := New()
	return LoadInto(v, path)
}

// New returns a Viper instance carrying defaults and environment bindings,
// ready for flags to be bound before LoadInto.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindCredentials(v)
	setDefaults(v)
	return v
}

// LoadInto reads the optional file into v, then unmarshals and validates.
func LoadInto(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindCredentials maps the account variables, which do not follow the key layout.
func bindCredentials(v *viper.Viper) {
	_ = v.BindEnv("api.username", "ERCOT_API_USERNAME")
	_ = v.BindEnv("api.password", "ERCOT_API_PASSWORD")
	_ = v.BindEnv("api.subscription_key", "ERCOT_SUBSCRIPTION_KEY")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.token_url", archive.DefaultTokenURL)
	v.SetDefault("api.client_id", archive.DefaultClientID)
	v.SetDefault("api.base_url", archive.DefaultBaseURL)
	v.SetDefault("api.timeout_seconds", 60)
	v.SetDefault("http.max_retries", 4)
	v.SetDefault("http.retry_sleep_seconds", 1.5)
	v.SetDefault("http.request_interval_seconds", 0.6)
	v.SetDefault("listing.page_size", 1000)
	v.SetDefault("listing.retries", 6)
	v.SetDefault("listing.order", archive.OrderAPI)
	v.SetDefault("listing.max_docs", 0)
	v.SetDefault("download.datasets", []string{})
	v.SetDefault("download.from", DefaultFromDate)
	v.SetDefault("download.to", DefaultToDate)
	v.SetDefault("download.resume", true)
	v.SetDefault("download.state_dir", "state")
	v.SetDefault("download.out_dir", "data/raw/ercot")
	v.SetDefault("download.logs_dir", "logs/downloads")
	v.SetDefault("download.bulk", true)
	v.SetDefault("download.bulk_chunk_size", 256)
	v.SetDefault("download.dns_failure_threshold", 25)
	v.SetDefault("download.dns_cooldown_seconds", 20.0)
	v.SetDefault("download.skip_unavailable", true)
	v.SetDefault("sort.order", string(sortengine.Ascending))
	v.SetDefault("sort.strategy", string(sortengine.StrategyAuto))
	v.SetDefault("backfill.mode", string(backfill.ModeAddMissing))
	v.SetDefault("backfill.order", string(sortengine.Ascending))
	v.SetDefault("backfill.bulk_chunk_size", fetch.MaxRepairChunk)
	v.SetDefault("failures.postgres_table", "ercot_failures")
	v.SetDefault("mirror.prefix", "ercot")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate performs semantic checks on the loaded configuration.
func (c Config) Validate() error {
	if c.API.TimeoutSeconds <= 0 {
		return errors.New("api.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return errors.New("http.max_retries must be >= 0")
	}
	if c.HTTP.RetrySleepSeconds < 0 || c.HTTP.RequestIntervalSeconds < 0 {
		return errors.New("http sleep and interval values must be >= 0")
	}
	if c.Listing.PageSize <= 0 {
		return errors.New("listing.page_size must be > 0")
	}
	if c.Listing.Retries < 0 {
		return errors.New("listing.retries must be >= 0")
	}
	if !archive.ValidOrder(c.Listing.Order) {
		return fmt.Errorf("listing.order %q is not one of api, newest-first, oldest-first", c.Listing.Order)
	}
	if c.Listing.MaxDocs < 0 {
		return errors.New("listing.max_docs must be >= 0")
	}
	if _, _, err := c.Window(); err != nil {
		return err
	}
	if c.Download.BulkChunkSize < 1 || c.Download.BulkChunkSize > fetch.MaxBulkChunk {
		return fmt.Errorf("download.bulk_chunk_size must be between 1 and %d", fetch.MaxBulkChunk)
	}
	if c.Download.DeleteSource && !c.Download.Consolidate {
		return errors.New("download.delete_source requires download.consolidate")
	}
	if c.Download.DNSFailureThreshold < 0 || c.Download.DNSCooldownSeconds < 0 {
		return errors.New("download DNS threshold and cooldown must be >= 0")
	}
	if c.Download.OutDir == "" || c.Download.StateDir == "" {
		return errors.New("download.out_dir and download.state_dir are required")
	}
	if _, _, err := sortengine.ResolveOrder(c.Sort.Order, c.Listing.Order); err != nil {
		return fmt.Errorf("sort.order: %w", err)
	}
	if !sortengine.ValidStrategy(c.Sort.Strategy) {
		return fmt.Errorf("sort.strategy %q is not supported", c.Sort.Strategy)
	}
	if c.Backfill.BulkChunkSize < 1 || c.Backfill.BulkChunkSize > fetch.MaxRepairChunk {
		return fmt.Errorf("backfill.bulk_chunk_size must be between 1 and %d", fetch.MaxRepairChunk)
	}
	if c.Mirror.GCSBucket != "" && c.Mirror.LocalDir != "" {
		return errors.New("mirror.gcs_bucket and mirror.local_dir are exclusive")
	}
	if c.Events.TopicName != "" && c.Events.ProjectID == "" {
		return errors.New("events.project_id is required when events.topic_name is set")
	}
	return nil
}

// Credentials returns the account values for the token exchange.
func (c Config) Credentials() archive.Credentials {
	return archive.Credentials{
		Username:        c.API.Username,
		Password:        c.API.Password,
		SubscriptionKey: c.API.SubscriptionKey,
	}
}

// ScopeOrDefault resolves the OAuth scope.
func (c Config) ScopeOrDefault() string {
	if c.API.Scope != "" {
		return c.API.Scope
	}
	return archive.DefaultScope(c.API.ClientID)
}

// Timeout is the per-request HTTP timeout.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// ClientConfig maps the api and http sections onto the archive client.
func (c Config) ClientConfig() archive.ClientConfig {
	return archive.ClientConfig{
		BaseURL:         c.API.BaseURL,
		SubscriptionKey: c.API.SubscriptionKey,
		Timeout:         c.Timeout(),
		Retry: retry.Policy{
			MaxAttempts: c.HTTP.MaxRetries + 1,
			BaseDelay:   seconds(c.HTTP.RetrySleepSeconds),
		},
		RequestInterval: seconds(c.HTTP.RequestIntervalSeconds),
	}
}

// ListerConfig maps the listing section onto the archive lister.
func (c Config) ListerConfig() archive.ListerConfig {
	return archive.ListerConfig{
		ListingRetries: c.Listing.Retries,
		RetryBase:      seconds(c.HTTP.RetrySleepSeconds),
	}
}

// Window parses the configured date range.
func (c Config) Window() (time.Time, time.Time, error) {
	from, err := time.Parse(time.DateOnly, c.Download.From)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("download.from: %w", err)
	}
	to, err := time.Parse(time.DateOnly, c.Download.To)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("download.to: %w", err)
	}
	if from.After(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("download.from %s is after download.to %s", c.Download.From, c.Download.To)
	}
	return from, to, nil
}

// RunDir is the per-run log directory stamped with the run start.
func (c Config) RunDir(start time.Time) string {
	return filepath.Join(c.Download.LogsDir, start.Format("20060102_150405"))
}

// FailuresPath is the CSV failure log, defaulting into the run directory.
func (c Config) FailuresPath(runDir string) string {
	if c.Failures.CSVPath != "" {
		return c.Failures.CSVPath
	}
	return filepath.Join(runDir, "failures.csv")
}

// PipelineOptions maps the download and sort sections onto an orchestrator run
// whose summary lands in runDir.
func (c Config) PipelineOptions(runDir string) (pipeline.Options, error) {
	from, to, err := c.Window()
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		Datasets:       append([]string(nil), c.Download.Datasets...),
		From:           from,
		To:             to,
		DetectEarliest: c.Download.DetectEarliest,
		Resume:         c.Download.Resume,
		BaseURL:        c.API.BaseURL,
		OutDir:         c.Download.OutDir,
		PageSize:       c.Listing.PageSize,
		Order:          c.Listing.Order,
		MaxDocs:        c.Listing.MaxDocs,
		Bulk:           c.Download.Bulk,
		BulkChunkSize:  c.Download.BulkChunkSize,
		DryRun:         c.Download.DryRun,
		Consolidate:    c.Download.Consolidate,
		DeleteSource:   c.Download.DeleteSource,
		ExtractZips:    c.Download.ExtractZips,
		SortOption:     c.Sort.Order,
		SortStrategy:   sortengine.Strategy(c.Sort.Strategy),
		SortExisting:   c.Sort.Existing,
		DNSThreshold:   c.Download.DNSFailureThreshold,
		DNSCooldown:    seconds(c.Download.DNSCooldownSeconds),
		WriteManifest:  c.Download.WriteManifest,
		SummaryPath:    filepath.Join(runDir, "summary.json"),
	}, nil
}

// BackfillOptions maps the backfill section onto a reconciler run. A zero
// window is passed through when withWindow is false so every month is processed.
func (c Config) BackfillOptions(withWindow bool) (backfill.Options, error) {
	opts := backfill.Options{
		OutDir:          c.Download.OutDir,
		Mode:            backfill.Mode(c.Backfill.Mode),
		Order:           c.Backfill.Order,
		Overwrite:       c.Backfill.Overwrite,
		DownloadMissing: c.Backfill.DownloadMissing,
		FetchMissing:    c.Backfill.FetchMissing,
		ManifestPath:    c.Backfill.ManifestPath,
		BaseURL:         c.API.BaseURL,
		PageSize:        c.Listing.PageSize,
		BulkChunkSize:   c.Backfill.BulkChunkSize,
		Verify:          c.Backfill.Verify,
		DeleteRedundant: c.Backfill.DeleteRedundant,
		ArchiveDir:      c.Backfill.ArchiveDir,
		DryRun:          c.Download.DryRun,
	}
	if opts.ManifestPath == "" {
		opts.ManifestPath = filepath.Join(c.Download.OutDir, pipeline.ManifestName)
	}
	if withWindow {
		from, to, err := c.Window()
		if err != nil {
			return backfill.Options{}, err
		}
		opts.From, opts.To = from, to
	}
	if err := opts.Validate(); err != nil {
		return backfill.Options{}, err
	}
	return opts, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
