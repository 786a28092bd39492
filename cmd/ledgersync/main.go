package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/rumor-ml/commons.systems/ledgersync/internal/config"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/domain"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/firestore"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/ledger"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/ledger/sqlite"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/logger"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/mailbox"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/match"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/mongo"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/notify"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/output"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/pipeline"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/reconcile"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/registry"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/rules"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/transform"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/ui"
)

const (
	version = "0.1.0"

	// otpClockSkew is how far a passcode email's Date header may lag the
	// start of the wait.
	otpClockSkew = time.Minute
)

var (
	// Global flags
	versionFlag = flag.Bool("version", false, "Show version")
	configFile  = flag.String("config", "", "YAML configuration file")

	// Run flags, each overriding the matching config value when set
	sourcesDir  = flag.String("sources", config.DefaultSourcesDir, "Directory of source exports laid out {dir}/{account}/{file}")
	rulesFile   = flag.String("rules", "", "Payee rules file (default: embedded rules)")
	backendName = flag.String("backend", config.BackendSQLite, "Ledger backend: sqlite, firestore or mongo")
	dryRun      = flag.Bool("dry-run", false, "Reconcile and report without writing to the ledger")
	outputFile  = flag.String("output", "", `Write the run report as JSON ("-" for stdout)`)
	verbose     = flag.Bool("verbose", false, "Debug logging and per-transaction lines")

	// OTP mode
	otpDir     = flag.String("otp-dir", "", "Wait for a one-time passcode email in this directory, print the code and exit")
	otpTimeout = flag.Duration("otp-timeout", config.DefaultOTPTimeout, "How long to wait for the passcode email")
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, `ledgersync - Reconcile bank exports and pending feeds into a budgeting ledger

Usage:
  ledgersync [flags]

Flags:
`)
		flag.PrintDefaults()
		fmt.Fprint(os.Stderr, `
Examples:
  # Sync with a config file
  ledgersync -config ledgersync.yaml

  # Show what would change without writing
  ledgersync -config ledgersync.yaml -dry-run -output -

  # Wait for a login passcode delivered to a maildir export
  ledgersync -config ledgersync.yaml -otp-dir ~/mail/inbox

`)
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("ledgersync version %s\n", version)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		ui.Error(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(*configFile, nil)
	if err != nil {
		return err
	}
	applyFlags(cfg, setFlags())

	log, err := logger.New(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	ctx = logger.WithContext(ctx, log)

	if cfg.OTP.Dir != "" {
		return runOTP(ctx, cfg)
	}
	return runSync(ctx, cfg)
}

// setFlags returns the names of the flags given on the command line.
func setFlags() map[string]bool {
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	return set
}

// applyFlags overlays the flags that were set explicitly, so that a flag's
// default never masks a value from the config file or environment.
func applyFlags(cfg *config.Config, set map[string]bool) {
	if set["sources"] {
		cfg.Sources.Dir = *sourcesDir
	}
	if set["rules"] {
		cfg.Rules = *rulesFile
	}
	if set["backend"] {
		cfg.Backend.Type = *backendName
	}
	if set["otp-dir"] {
		cfg.OTP.Dir = *otpDir
	}
	if set["otp-timeout"] {
		cfg.OTP.Timeout = *otpTimeout
	}
	if *verbose {
		cfg.Log.Level = zerolog.LevelDebugValue
	}
}

func runSync(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	log := logger.FromContext(ctx)

	ui.Header("Ledger Sync")

	r, err := rules.Load(cfg.Rules)
	if err != nil {
		return err
	}
	normalizer, err := transform.NewNormalizer(cfg.AmountScale, r)
	if err != nil {
		return err
	}
	matcher, err := match.New(cfg.MatchParams(), r)
	if err != nil {
		return err
	}
	strategy, err := reconcile.ParseStrategy(cfg.Reconcile.Strategy)
	if err != nil {
		return err
	}
	engine, err := reconcile.NewEngine(matcher, r, strategy, log)
	if err != nil {
		return err
	}
	reg, err := registry.New()
	if err != nil {
		return fmt.Errorf("failed to create parser registry: %w", err)
	}

	l, err := openLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := l.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close ledger")
		}
	}()

	notifier, err := buildNotifier(cfg)
	if err != nil {
		return err
	}

	p, err := pipeline.New(pipeline.Options{
		Ledger:         l,
		Registry:       reg,
		Normalizer:     normalizer,
		Engine:         engine,
		Notifier:       notifier,
		Logger:         log,
		Progress:       func(ev pipeline.ProgressEvent) { ui.Step(int(ev.Stage), pipeline.StageCount, ev.Message) },
		SourcesDir:     cfg.Sources.Dir,
		Accounts:       cfg.AccountMap(),
		AmountScale:    cfg.AmountScale,
		DateWindowDays: cfg.Match.DateWindowDays,
		DryRun:         *dryRun,
		SnapshotFile:   cfg.SnapshotFile,
	})
	if err != nil {
		return err
	}

	report, runErr := p.Run(ctx)
	printReport(report, *verbose)

	if *outputFile != "" {
		if err := output.WriteReportToFile(report, *outputFile); err != nil {
			if runErr != nil {
				return errors.Join(runErr, err)
			}
			return err
		}
		if *outputFile != output.Stdout {
			ui.Success(fmt.Sprintf("Report written to %s", *outputFile))
		}
	}

	return describeRunError(runErr, cfg.Sources.Dir)
}

// describeRunError adds operator guidance to the fatal errors that have an
// obvious cause.
func describeRunError(err error, dir string) error {
	if err == nil {
		return nil
	}
	var fetchErr *domain.SourceFetchError
	var convErr *domain.ConversionError
	switch {
	case errors.Is(err, domain.ErrEmptySource):
		return fmt.Errorf("%w in %s\n\nPlease check:\n  - Each account has a directory named as in the config\n  - Files have supported extensions (.qfx, .ofx, .csv, .json)\n  - Pending feeds are not all empty", err, dir)
	case errors.As(err, &convErr):
		return fmt.Errorf("source data could not be converted, nothing was written: %w", err)
	case errors.As(err, &fetchErr):
		return fmt.Errorf("could not read %s, nothing was written: %w", fetchErr.Source, err)
	}
	return err
}

// openLedger connects the configured backend.
func openLedger(ctx context.Context, cfg *config.Config) (ledger.Ledger, error) {
	switch cfg.Backend.Type {
	case config.BackendSQLite:
		return sqlite.Open(ctx, cfg.Backend.SQLite.Path)
	case config.BackendFirestore:
		return firestore.NewClient(ctx, firestore.Options{
			ProjectID:        cfg.Backend.Firestore.ProjectID,
			CredentialsFile:  cfg.Backend.Firestore.CredentialsFile,
			CollectionPrefix: cfg.Backend.Firestore.CollectionPrefix,
		})
	case config.BackendMongo:
		return mongo.Connect(ctx, cfg.Backend.Mongo.URI, cfg.Backend.Mongo.Database)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend.Type)
	}
}

// buildNotifier always notifies the console, plus the webhook when configured.
func buildNotifier(cfg *config.Config) (notify.Notifier, error) {
	notifiers := notify.Multi{notify.NewConsole(nil)}
	if cfg.Notify.WebhookURL != "" {
		hook, err := notify.NewWebhook(&http.Client{Timeout: notify.DefaultWebhookTimeout}, cfg.Notify.WebhookURL)
		if err != nil {
			return nil, fmt.Errorf("notify.webhook_url: %w", err)
		}
		notifiers = append(notifiers, hook)
	}
	return notifiers, nil
}

func printReport(r *output.Report, detailed bool) {
	if r == nil {
		return
	}
	for _, name := range r.SkippedAccounts {
		ui.Warning(fmt.Sprintf("No ledger account mapped for %q, skipped", name))
	}

	ui.Info(fmt.Sprintf("Run %s: %s", r.RunID, r.Status))
	ui.Count("incoming", r.Summary.Incoming)
	ui.Count("voided", r.Summary.Voided)
	ui.Count("created", r.Summary.Created)
	ui.Count("cleared", r.Summary.Cleared)
	ui.Count("deleted", r.Summary.Deleted)
	ui.Count("unchanged", r.Summary.Unchanged)
	ui.Count("duplicates", r.Summary.Duplicates)
	if r.Summary.Ambiguous > 0 {
		ui.Count("ambiguous", r.Summary.Ambiguous)
	}

	if detailed {
		for _, l := range r.Created {
			ui.Detail("create  %s %s %10s %s", l.Date, l.ImportID, l.Amount, l.Payee)
		}
		for _, l := range r.Cleared {
			ui.Detail("clear   %s %s %10s %s", l.Date, l.LedgerID, l.Amount, l.Payee)
		}
		for _, l := range r.Deleted {
			ui.Detail("delete  %s %s %10s %s", l.Date, l.LedgerID, l.Amount, l.Payee)
		}
	}

	for _, msg := range r.WriteErrors {
		ui.Warning(msg)
	}
	if r.DryRun {
		ui.Info("Dry run: the ledger was not changed")
	}
}

// runOTP waits for the passcode email and prints the code on stdout.
func runOTP(ctx context.Context, cfg *config.Config) error {
	if err := cfg.ValidateOTP(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	code, err := waitForCode(ctx, cfg, time.Now().Add(-otpClockSkew))
	if err != nil {
		return err
	}
	fmt.Println(code)
	return nil
}

// waitForCode blocks until an email with the configured subject arrives in
// cfg.OTP.Dir after since, and returns the code it carries.
func waitForCode(ctx context.Context, cfg *config.Config, since time.Time) (string, error) {
	src, err := mailbox.NewDirSource(cfg.OTP.Dir)
	if err != nil {
		return "", err
	}
	w, err := mailbox.NewWaiter(src,
		mailbox.WithPollInterval(cfg.OTP.PollInterval),
		mailbox.WithSince(since),
		mailbox.WithLogger(logger.FromContext(ctx)),
	)
	if err != nil {
		return "", err
	}

	res := w.Wait(ctx, cfg.OTP.Timeout, mailbox.SubjectIs(cfg.OTP.Subject))
	switch res.Status {
	case mailbox.StatusFound:
		return mailbox.ExtractCode(res.Email.Body, cfg.OTP.Marker)
	case mailbox.StatusTimeout:
		return "", fmt.Errorf("no email with subject %q arrived within %s", cfg.OTP.Subject, cfg.OTP.Timeout)
	default:
		return "", fmt.Errorf("mailbox wait failed: %w", res.Err)
	}
}
