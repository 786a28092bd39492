package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledgersync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleYAML = `
sources:
  dir: /data/exports
accounts:
  - name: Gold Card
    ledger_account_id: acc-gold
  - name: Checking
    ledger_account_id: acc-chk
amount_scale: 1000
match:
  date_window_days: 5
  similarity_threshold: 0.4
reconcile:
  strategy: update
backend:
  type: mongo
  mongo:
    uri: mongodb://localhost:27017
log:
  level: debug
  format: json
notify:
  webhook_url: https://hooks.example.com/ledger
otp:
  dir: /var/mail/otp
  timeout: 90s
`

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", env(nil))
	require.NoError(t, err)

	assert.Equal(t, DefaultSourcesDir, cfg.Sources.Dir)
	assert.Equal(t, int64(100), cfg.AmountScale)
	assert.Equal(t, 3, cfg.Match.DateWindowDays)
	assert.Equal(t, 0.25, cfg.Match.SimilarityThreshold)
	assert.Equal(t, "replace", cfg.Reconcile.Strategy)
	assert.Equal(t, BackendSQLite, cfg.Backend.Type)
	assert.Equal(t, DefaultOTPTimeout, cfg.OTP.Timeout)
	assert.Empty(t, cfg.Accounts)

	assert.ErrorContains(t, cfg.Validate(), "at least one account")
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML), env(nil))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/data/exports", cfg.Sources.Dir)
	assert.Equal(t, int64(1000), cfg.AmountScale)
	assert.Equal(t, 5, cfg.MatchParams().DateWindowDays)
	assert.Equal(t, 0.4, cfg.MatchParams().SimilarityThreshold)
	assert.Equal(t, "update", cfg.Reconcile.Strategy)
	assert.Equal(t, BackendMongo, cfg.Backend.Type)
	assert.Equal(t, DefaultMongoDatabase, cfg.Backend.Mongo.Database, "unset nested values keep defaults")
	assert.Equal(t, 90*time.Second, cfg.OTP.Timeout)
	assert.Equal(t, DefaultOTPMarker, cfg.OTP.Marker)

	assert.Equal(t, map[string]string{"Gold Card": "acc-gold", "Checking": "acc-chk"}, cfg.AccountMap())
	assert.Equal(t, []string{"acc-gold", "acc-chk"}, cfg.LedgerAccountIDs())
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""), env(nil))
	require.NoError(t, err)
	assert.Equal(t, DefaultSourcesDir, cfg.Sources.Dir)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), env(nil))
	assert.ErrorContains(t, err, "failed to read config file")

	_, err = Load(writeConfig(t, "sources:\n  directory: /x\n"), env(nil))
	assert.ErrorContains(t, err, "failed to parse config file", "unknown keys are rejected")

	_, err = Load("", env(map[string]string{"LEDGERSYNC_DATE_WINDOW_DAYS": "three"}))
	assert.ErrorContains(t, err, "DATE_WINDOW_DAYS")

	_, err = Load("", env(map[string]string{"LEDGERSYNC_SIMILARITY_THRESHOLD": "high"}))
	assert.Error(t, err)

	_, err = Load("", env(map[string]string{"LEDGERSYNC_OTP_TIMEOUT": "60"}))
	assert.Error(t, err)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML), env(map[string]string{
		"LEDGERSYNC_SOURCES_DIR":          " /override ",
		"LEDGERSYNC_BACKEND":              "sqlite",
		"LEDGERSYNC_SQLITE_PATH":          "/tmp/l.db",
		"LEDGERSYNC_DATE_WINDOW_DAYS":     "2",
		"LEDGERSYNC_SIMILARITY_THRESHOLD": "0.3",
		"LEDGERSYNC_WEBHOOK_URL":          "",
		"LEDGERSYNC_OTP_TIMEOUT":          "15s",
	}))
	require.NoError(t, err)

	assert.Equal(t, "/override", cfg.Sources.Dir)
	assert.Equal(t, BackendSQLite, cfg.Backend.Type)
	assert.Equal(t, "/tmp/l.db", cfg.Backend.SQLite.Path)
	assert.Equal(t, 2, cfg.Match.DateWindowDays)
	assert.Equal(t, 0.3, cfg.Match.SimilarityThreshold)
	assert.Empty(t, cfg.Notify.WebhookURL, "set-but-empty clears the file value")
	assert.Equal(t, 15*time.Second, cfg.OTP.Timeout)
	assert.Equal(t, "debug", cfg.Log.Level, "untouched file values stay")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Accounts = []Account{{Name: "Gold Card", LedgerAccountID: "acc-gold"}}
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"empty sources dir":  {func(c *Config) { c.Sources.Dir = " " }, "sources.dir"},
		"account no name":    {func(c *Config) { c.Accounts[0].Name = "" }, "name is required"},
		"account no ledger":  {func(c *Config) { c.Accounts[0].LedgerAccountID = "" }, "ledger_account_id"},
		"duplicate name":     {func(c *Config) { c.Accounts = append(c.Accounts, Account{Name: "Gold Card", LedgerAccountID: "x"}) }, "duplicate name"},
		"duplicate ledger":   {func(c *Config) { c.Accounts = append(c.Accounts, Account{Name: "Other", LedgerAccountID: "acc-gold"}) }, "mapped twice"},
		"zero scale":         {func(c *Config) { c.AmountScale = 0 }, "amount_scale"},
		"negative window":    {func(c *Config) { c.Match.DateWindowDays = -1 }, "match"},
		"threshold too high": {func(c *Config) { c.Match.SimilarityThreshold = 1 }, "match"},
		"bad strategy":       {func(c *Config) { c.Reconcile.Strategy = "merge" }, "reconcile"},
		"bad level":          {func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		"bad format":         {func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		"bad backend":        {func(c *Config) { c.Backend.Type = "postgres" }, "unknown backend"},
		"sqlite no path":     {func(c *Config) { c.Backend.SQLite.Path = "" }, "sqlite.path"},
		"firestore no project": {func(c *Config) {
			c.Backend.Type = BackendFirestore
		}, "project_id"},
		"mongo no uri": {func(c *Config) { c.Backend.Type = BackendMongo }, "mongo.uri"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.AmountScale = -1
	cfg.Backend.Type = "nope"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one account")
	assert.Contains(t, err.Error(), "amount_scale")
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestValidateOTP(t *testing.T) {
	cfg := Default()
	assert.ErrorContains(t, cfg.ValidateOTP(), "otp.dir")

	cfg.OTP.Dir = "/var/mail/otp"
	assert.NoError(t, cfg.ValidateOTP())

	cfg.OTP.Timeout = 0
	assert.ErrorContains(t, cfg.ValidateOTP(), "otp.timeout")
}
