// Package config builds the run configuration once at process start: YAML file
// first, then LEDGERSYNC_* environment overrides, then CLI flags (applied by
// the caller). The result is passed explicitly to every collaborator.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rumor-ml/commons.systems/ledgersync/internal/logger"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/match"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/reconcile"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/transform"
)

// Backend names.
const (
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
	BackendMongo     = "mongo"
)

// Defaults for values the file leaves out.
const (
	DefaultSourcesDir       = "./sources"
	DefaultSQLitePath       = "./ledgersync.db"
	DefaultCollectionPrefix = "ledger"
	DefaultMongoDatabase    = "ledgersync"
	DefaultOTPSubject       = "Your American Express one-time verification code"
	DefaultOTPMarker        = "One-Time Verification Code:"
	DefaultOTPTimeout       = 60 * time.Second
	DefaultOTPPollInterval  = 2 * time.Second
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LEDGERSYNC_"

// Config is the whole run configuration.
type Config struct {
	Sources     SourcesConfig   `yaml:"sources"`
	Accounts    []Account       `yaml:"accounts"`
	AmountScale int64           `yaml:"amount_scale"`
	Rules       string          `yaml:"rules"` // payee rules file, empty = embedded defaults
	Match       MatchConfig     `yaml:"match"`
	Reconcile   ReconcileConfig `yaml:"reconcile"`
	Backend     BackendConfig   `yaml:"backend"`
	Log         LogConfig       `yaml:"log"`
	Notify      NotifyConfig    `yaml:"notify"`
	OTP         OTPConfig       `yaml:"otp"`
	// SnapshotFile receives the ledger's import-ID index on dry runs.
	SnapshotFile string `yaml:"snapshot_file"`
}

// SourcesConfig locates the source exports.
type SourcesConfig struct {
	Dir string `yaml:"dir"`
}

// Account maps a source account (directory name or in-file name) to a ledger account.
type Account struct {
	Name            string `yaml:"name"`
	LedgerAccountID string `yaml:"ledger_account_id"`
}

// MatchConfig holds the tunable match parameters.
type MatchConfig struct {
	DateWindowDays      int     `yaml:"date_window_days"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// ReconcileConfig selects how pending-to-posted transitions are written.
type ReconcileConfig struct {
	Strategy string `yaml:"strategy"` // replace | update
}

// BackendConfig selects and configures the ledger backend.
type BackendConfig struct {
	Type      string          `yaml:"type"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Firestore FirestoreConfig `yaml:"firestore"`
	Mongo     MongoConfig     `yaml:"mongo"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type FirestoreConfig struct {
	ProjectID        string `yaml:"project_id"`
	CredentialsFile  string `yaml:"credentials_file"`
	CollectionPrefix string `yaml:"collection_prefix"`
}

type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

// NotifyConfig configures operator notifications. The console is always notified.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// OTPConfig configures the one-time passcode mailbox wait.
type OTPConfig struct {
	Dir          string        `yaml:"dir"`
	Subject      string        `yaml:"subject"`
	Marker       string        `yaml:"marker"`
	Timeout      time.Duration `yaml:"timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Default returns a configuration with every default filled in and no accounts.
func Default() *Config {
	mc := match.DefaultConfig()
	return &Config{
		Sources:     SourcesConfig{Dir: DefaultSourcesDir},
		AmountScale: transform.DefaultAmountScale,
		Match: MatchConfig{
			DateWindowDays:      mc.DateWindowDays,
			SimilarityThreshold: mc.SimilarityThreshold,
		},
		Reconcile: ReconcileConfig{Strategy: string(reconcile.StrategyReplace)},
		Backend: BackendConfig{
			Type:      BackendSQLite,
			SQLite:    SQLiteConfig{Path: DefaultSQLitePath},
			Firestore: FirestoreConfig{CollectionPrefix: DefaultCollectionPrefix},
			Mongo:     MongoConfig{Database: DefaultMongoDatabase},
		},
		Log: LogConfig{Level: "info", Format: logger.FormatConsole},
		OTP: OTPConfig{
			Subject:      DefaultOTPSubject,
			Marker:       DefaultOTPMarker,
			Timeout:      DefaultOTPTimeout,
			PollInterval: DefaultOTPPollInterval,
		},
	}
}

// Load reads the YAML file at path (skipped when path is empty) over the
// defaults, then applies environment overrides from lookup (os.LookupEnv when
// nil). The result is not validated: flags may still change it.
func Load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
		}
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode overlays YAML onto cfg. Unknown keys are rejected so that typos
// don't silently fall back to defaults.
func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SOURCES_DIR":           &c.Sources.Dir,
		"RULES":                 &c.Rules,
		"STRATEGY":              &c.Reconcile.Strategy,
		"BACKEND":               &c.Backend.Type,
		"SQLITE_PATH":           &c.Backend.SQLite.Path,
		"FIRESTORE_PROJECT":     &c.Backend.Firestore.ProjectID,
		"FIRESTORE_CREDENTIALS": &c.Backend.Firestore.CredentialsFile,
		"FIRESTORE_PREFIX":      &c.Backend.Firestore.CollectionPrefix,
		"MONGO_URI":             &c.Backend.Mongo.URI,
		"MONGO_DATABASE":        &c.Backend.Mongo.Database,
		"LOG_LEVEL":             &c.Log.Level,
		"LOG_FORMAT":            &c.Log.Format,
		"WEBHOOK_URL":           &c.Notify.WebhookURL,
		"OTP_DIR":               &c.OTP.Dir,
		"SNAPSHOT_FILE":         &c.SnapshotFile,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	if v, ok := lookup(EnvPrefix + "DATE_WINDOW_DAYS"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %sDATE_WINDOW_DAYS %q: %w", EnvPrefix, v, err)
		}
		c.Match.DateWindowDays = n
	}
	if v, ok := lookup(EnvPrefix + "SIMILARITY_THRESHOLD"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("invalid %sSIMILARITY_THRESHOLD %q: %w", EnvPrefix, v, err)
		}
		c.Match.SimilarityThreshold = f
	}
	if v, ok := lookup(EnvPrefix + "OTP_TIMEOUT"); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %sOTP_TIMEOUT %q: %w", EnvPrefix, v, err)
		}
		c.OTP.Timeout = d
	}
	return nil
}

// MatchParams returns the matcher configuration.
func (c *Config) MatchParams() match.Config {
	return match.Config{
		DateWindowDays:      c.Match.DateWindowDays,
		SimilarityThreshold: c.Match.SimilarityThreshold,
	}
}

// AccountMap returns source account name to ledger account ID.
func (c *Config) AccountMap() map[string]string {
	m := make(map[string]string, len(c.Accounts))
	for _, a := range c.Accounts {
		m[a.Name] = a.LedgerAccountID
	}
	return m
}

// LedgerAccountIDs returns the configured ledger account IDs in file order.
func (c *Config) LedgerAccountIDs() []string {
	ids := make([]string, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		ids = append(ids, a.LedgerAccountID)
	}
	return ids
}

// Validate checks the configuration needed for a sync run.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Sources.Dir) == "" {
		errs = append(errs, errors.New("sources.dir is required"))
	}
	if len(c.Accounts) == 0 {
		errs = append(errs, errors.New("at least one account mapping is required"))
	}
	names := make(map[string]bool)
	ids := make(map[string]bool)
	for i, a := range c.Accounts {
		switch {
		case strings.TrimSpace(a.Name) == "":
			errs = append(errs, fmt.Errorf("accounts[%d]: name is required", i))
		case names[a.Name]:
			errs = append(errs, fmt.Errorf("accounts[%d]: duplicate name %q", i, a.Name))
		}
		switch {
		case strings.TrimSpace(a.LedgerAccountID) == "":
			errs = append(errs, fmt.Errorf("accounts[%d]: ledger_account_id is required", i))
		case ids[a.LedgerAccountID]:
			errs = append(errs, fmt.Errorf("accounts[%d]: ledger account %q mapped twice", i, a.LedgerAccountID))
		}
		names[a.Name] = true
		ids[a.LedgerAccountID] = true
	}

	if c.AmountScale <= 0 {
		errs = append(errs, fmt.Errorf("amount_scale must be positive, got %d", c.AmountScale))
	}
	if err := c.MatchParams().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("match: %w", err))
	}
	if _, err := reconcile.ParseStrategy(c.Reconcile.Strategy); err != nil {
		errs = append(errs, fmt.Errorf("reconcile: %w", err))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if f := strings.ToLower(c.Log.Format); f != "" && f != logger.FormatConsole && f != logger.FormatJSON {
		errs = append(errs, fmt.Errorf("log.format must be %q or %q, got %q", logger.FormatConsole, logger.FormatJSON, c.Log.Format))
	}

	switch c.Backend.Type {
	case BackendSQLite:
		if c.Backend.SQLite.Path == "" {
			errs = append(errs, errors.New("backend.sqlite.path is required"))
		}
	case BackendFirestore:
		if c.Backend.Firestore.ProjectID == "" {
			errs = append(errs, errors.New("backend.firestore.project_id is required"))
		}
	case BackendMongo:
		if c.Backend.Mongo.URI == "" {
			errs = append(errs, errors.New("backend.mongo.uri is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (want %s, %s or %s)", c.Backend.Type, BackendSQLite, BackendFirestore, BackendMongo))
	}

	return errors.Join(errs...)
}

// ValidateOTP checks the configuration needed for a mailbox wait.
func (c *Config) ValidateOTP() error {
	var errs []error
	if c.OTP.Dir == "" {
		errs = append(errs, errors.New("otp.dir is required"))
	}
	if c.OTP.Subject == "" {
		errs = append(errs, errors.New("otp.subject is required"))
	}
	if c.OTP.Marker == "" {
		errs = append(errs, errors.New("otp.marker is required"))
	}
	if c.OTP.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("otp.timeout must be positive, got %s", c.OTP.Timeout))
	}
	if c.OTP.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("otp.poll_interval must be positive, got %s", c.OTP.PollInterval))
	}
	return errors.Join(errs...)
}
