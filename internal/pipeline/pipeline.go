// Package pipeline runs one synchronization: read the source exports,
// normalize, cancel voiding pairs, reconcile against the ledger and apply the
// plan with sequential writes.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rumor-ml/commons.systems/ledgersync/internal/dedup"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/domain"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/ledger"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/notify"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/output"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/parser"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/reconcile"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/registry"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/scanner"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/transform"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/validate"
	"github.com/rumor-ml/commons.systems/ledgersync/internal/voiding"
)

// Stage identifies a step of the run for progress reporting.
type Stage int

const (
	StageScan Stage = iota + 1
	StageNormalize
	StageLedgerRead
	StageReconcile
	StageApply
	StageFinish
)

// StageCount is the number of stages a full run reports.
const StageCount = int(StageFinish)

// ProgressEvent is emitted at the start of each stage.
type ProgressEvent struct {
	Stage   Stage
	Message string
}

// ProgressCallback is called with progress updates during a run
type ProgressCallback func(ProgressEvent)

// Options configures a Pipeline. Ledger, Registry, Normalizer and Engine are
// required.
type Options struct {
	Ledger     ledger.Ledger
	Registry   *registry.Registry
	Normalizer *transform.Normalizer
	Engine     *reconcile.Engine
	Notifier   notify.Notifier // nil = no notifications
	Logger     zerolog.Logger
	Progress   ProgressCallback // nil = none

	// SourcesDir is walked for export files laid out {dir}/{account}/{file}.
	SourcesDir string
	// Accounts maps source account names to ledger account IDs. Sources of
	// unmapped accounts are skipped.
	Accounts map[string]string
	// AmountScale is minor units per major unit, for report formatting.
	AmountScale int64
	// DateWindowDays widens the ledger import-ID read below the earliest
	// incoming date.
	DateWindowDays int
	// DryRun reconciles and reports without writing to the ledger.
	DryRun bool
	// SnapshotFile, when set, receives the ledger's import-ID index on dry runs.
	SnapshotFile string

	// Now defaults to time.Now.
	Now func() time.Time
}

// Pipeline orchestrates one sync run
type Pipeline struct {
	opts Options
	log  zerolog.Logger
}

// New creates a pipeline
func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Ledger == nil:
		return nil, errors.New("ledger cannot be nil")
	case opts.Registry == nil:
		return nil, errors.New("parser registry cannot be nil")
	case opts.Normalizer == nil:
		return nil, errors.New("normalizer cannot be nil")
	case opts.Engine == nil:
		return nil, errors.New("reconcile engine cannot be nil")
	case opts.SourcesDir == "":
		return nil, errors.New("sources directory cannot be empty")
	case len(opts.Accounts) == 0:
		return nil, errors.New("at least one account mapping is required")
	}
	if opts.AmountScale <= 0 {
		opts.AmountScale = transform.DefaultAmountScale
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Pipeline{opts: opts, log: opts.Logger}, nil
}

// sourceBatch is the normalized content of the source exports.
type sourceBatch struct {
	transactions []domain.Transaction
	accounts     []string // ledger accounts with at least one source file, first-seen order
	skipped      []string // source account names without a mapping
}

// Run executes one sync. The report is always returned, also on failure.
// A non-nil error means the run failed before or during planning; ledger
// write failures do not fail the run, they are reported with
// Status == partial and listed in the report.
func (p *Pipeline) Run(ctx context.Context) (*output.Report, error) {
	report := output.NewReport(uuid.NewString(), p.opts.Now())
	report.DryRun = p.opts.DryRun
	report.Strategy = p.opts.Engine.Strategy()

	err := p.run(ctx, report)

	report.FinishedAt = p.opts.Now()
	switch {
	case err != nil:
		report.Status = ledger.RunStatusFailed
		report.Error = err.Error()
	case p.opts.DryRun:
		report.Status = ledger.RunStatusDryRun
	case report.Summary.WriteErrors > 0:
		report.Status = ledger.RunStatusPartial
	default:
		report.Status = ledger.RunStatusCompleted
	}

	p.progress(StageFinish, "Recording run")
	p.record(ctx, report)
	p.notify(ctx, report)

	p.log.Info().
		Str("run_id", report.RunID).
		Str("status", string(report.Status)).
		Int("created", report.Summary.Created).
		Int("cleared", report.Summary.Cleared).
		Int("deleted", report.Summary.Deleted).
		Int("write_errors", report.Summary.WriteErrors).
		Msg("sync run finished")

	return report, err
}

func (p *Pipeline) run(ctx context.Context, report *output.Report) error {
	p.progress(StageScan, "Scanning sources")
	src, err := p.readSources(ctx)
	if err != nil {
		return err
	}
	report.Accounts = append(report.Accounts, src.accounts...)
	report.SkippedAccounts = append(report.SkippedAccounts, src.skipped...)
	if len(src.transactions) == 0 {
		return domain.ErrEmptySource
	}

	incoming, pairs := voiding.Resolve(src.transactions)
	report.Summary.Incoming = len(src.transactions)
	report.Summary.Voided = 2 * len(pairs)
	for _, pair := range pairs {
		report.Voided = append(report.Voided, output.VoidedPair{
			Charge:   output.NewLine("", &pair.First, p.opts.AmountScale),
			Reversal: output.NewLine("", &pair.Second, p.opts.AmountScale),
		})
	}

	batchCheck := validate.ValidateBatch(incoming)
	p.logWarnings(batchCheck)
	if err := batchCheck.Err(); err != nil {
		return fmt.Errorf("source batch failed validation: %w", err)
	}

	p.progress(StageLedgerRead, "Reading ledger")
	pending, existing, err := p.readLedger(ctx, src.accounts, incoming)
	if err != nil {
		return err
	}

	p.progress(StageReconcile, "Reconciling")
	plan := p.opts.Engine.Reconcile(reconcile.Input{
		Incoming: incoming,
		Pending:  pending,
		Existing: existing,
		Accounts: src.accounts,
	})

	planCheck := validate.ValidatePlan(plan, existing)
	p.logWarnings(planCheck)
	if err := planCheck.Err(); err != nil {
		return fmt.Errorf("reconciliation plan failed validation: %w", err)
	}

	report.Summary.Unchanged = len(plan.Unchanged)
	report.Summary.Ambiguous = len(plan.Ambiguities)
	report.Ambiguities = append(report.Ambiguities, plan.Ambiguities...)

	if p.opts.DryRun {
		p.progress(StageApply, "Dry run, skipping ledger writes")
		p.describePlan(report, plan)
		if p.opts.SnapshotFile != "" {
			if err := dedup.SaveSnapshot(existing, p.opts.SnapshotFile, p.opts.Now()); err != nil {
				return fmt.Errorf("failed to save import-id snapshot: %w", err)
			}
		}
		return nil
	}

	p.progress(StageApply, "Applying plan")
	p.apply(ctx, report, plan)
	return nil
}

// readSources scans, parses and normalizes every source file. Posted batches
// are normalized before pending batches, each group in path order, so an
// existing pending entry meets its posted counterpart before a stale listing
// of itself. Any unreadable or unparseable file fails the whole run.
func (p *Pipeline) readSources(ctx context.Context) (*sourceBatch, error) {
	files, err := scanner.New(p.opts.SourcesDir).Scan()
	if err != nil {
		return nil, &domain.SourceFetchError{Source: p.opts.SourcesDir, Err: err}
	}
	p.log.Debug().Int("files", len(files)).Str("dir", p.opts.SourcesDir).Msg("scanned sources")
	p.progress(StageNormalize, fmt.Sprintf("Normalizing %d source file(s)", len(files)))

	src := &sourceBatch{}
	seenAccount := make(map[string]bool)
	seenSkipped := make(map[string]bool)

	var parsed []parsedSource
	for _, file := range files {
		batch, prs, err := p.opts.Registry.ParseFile(ctx, file.Path, file.Metadata)
		if err != nil {
			return nil, &domain.SourceFetchError{Source: file.Path, Err: err}
		}

		name := parser.ResolveAccount(file.Metadata, batch)
		accountID, ok := p.opts.Accounts[name]
		if !ok {
			if !seenSkipped[name] {
				seenSkipped[name] = true
				src.skipped = append(src.skipped, name)
			}
			p.log.Warn().Str("file", file.Path).Str("account", name).Msg("no ledger account mapped, skipping source")
			continue
		}
		if !seenAccount[accountID] {
			seenAccount[accountID] = true
			src.accounts = append(src.accounts, accountID)
		}
		parsed = append(parsed, parsedSource{path: file.Path, parserName: prs.Name(), accountID: accountID, batch: batch})
	}

	for _, kind := range []parser.SourceKind{parser.KindPosted, parser.KindPending} {
		for _, ps := range parsed {
			if ps.batch.Kind() != kind {
				continue
			}
			txns, err := p.opts.Normalizer.NormalizeBatch(ps.batch, ps.accountID, src.transactions)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", ps.path, err)
			}
			src.transactions = append(src.transactions, txns...)

			p.log.Debug().
				Str("file", ps.path).
				Str("parser", ps.parserName).
				Str("kind", string(kind)).
				Str("account", ps.accountID).
				Int("transactions", len(txns)).
				Msg("parsed source")
		}
	}
	return src, nil
}

// parsedSource is one mapped source file awaiting normalization.
type parsedSource struct {
	path       string
	parserName string
	accountID  string
	batch      *parser.RawBatch
}

// readLedger loads the pending entries and the import-ID index. Both must
// succeed: reconciling against partial ledger state would delete or duplicate.
func (p *Pipeline) readLedger(ctx context.Context, accounts []string, incoming []domain.Transaction) ([]domain.LedgerTransaction, *dedup.Index, error) {
	pending, err := p.opts.Ledger.PendingTransactions(ctx, accounts)
	if err != nil {
		return nil, nil, &domain.SourceFetchError{Source: "ledger pending transactions", Err: err}
	}

	since := earliestDate(incoming, p.opts.DateWindowDays)
	keys, err := p.opts.Ledger.ImportIDs(ctx, accounts, since)
	if err != nil {
		return nil, nil, &domain.SourceFetchError{Source: "ledger import ids", Err: err}
	}

	p.log.Debug().
		Int("pending", len(pending)).
		Int("import_ids", len(keys)).
		Str("since", since).
		Msg("read ledger state")
	return pending, dedup.FromKeys(keys), nil
}

// earliestDate returns the earliest transaction date minus windowDays, or ""
// when there are no transactions.
func earliestDate(txns []domain.Transaction, windowDays int) string {
	dates := make([]string, 0, len(txns))
	for i := range txns {
		dates = append(dates, txns[i].Date)
	}
	if len(dates) == 0 {
		return ""
	}
	sort.Strings(dates)
	t, err := domain.ParseDate(dates[0])
	if err != nil {
		return ""
	}
	return domain.FormatDate(t.AddDate(0, 0, -windowDays))
}

// apply issues the plan's writes one at a time: creates (one call per
// account), then pending clears, then deletes. Creates go first so a failure
// never loses the user edits carried onto a replacement. Failed writes are
// collected and never stop the remaining writes.
func (p *Pipeline) apply(ctx context.Context, report *output.Report, plan *reconcile.Plan) {
	var writeErrs []error
	scale := p.opts.AmountScale

	accounts, byAccount := plan.CreatesByAccount()
	for _, account := range accounts {
		txns := byAccount[account]
		res, err := p.opts.Ledger.CreateTransactions(ctx, txns)
		if res != nil {
			ledgerIDs := make(map[string]string, len(res.Created))
			for _, c := range res.Created {
				ledgerIDs[c.ImportID] = c.LedgerID
			}
			for i := range txns {
				if id, ok := ledgerIDs[txns[i].ImportID]; ok {
					report.Created = append(report.Created, output.NewLine(id, &txns[i], scale))
				}
			}
			report.Summary.Created += len(res.Created)
			report.Summary.Duplicates += len(res.Duplicates)
		}
		if err != nil {
			writeErrs = append(writeErrs, &domain.LedgerWriteError{Op: "create", AccountID: account, Err: err})
		}
	}

	for _, u := range plan.ClearPending {
		if err := p.opts.Ledger.UpdateTransaction(ctx, u.LedgerID, u.Transaction); err != nil {
			writeErrs = append(writeErrs, &domain.LedgerWriteError{
				Op: "update", AccountID: u.Transaction.AccountID, TransactionID: u.LedgerID, ImportID: u.Transaction.ImportID, Err: err,
			})
			continue
		}
		report.Cleared = append(report.Cleared, output.NewLine(u.LedgerID, &u.Transaction, scale))
		report.Summary.Cleared++
	}

	for i := range plan.Delete {
		d := &plan.Delete[i]
		if err := p.opts.Ledger.DeleteTransaction(ctx, d.ID); err != nil {
			writeErrs = append(writeErrs, &domain.LedgerWriteError{
				Op: "delete", AccountID: d.AccountID, TransactionID: d.ID, ImportID: d.ImportID, Err: err,
			})
			continue
		}
		report.Deleted = append(report.Deleted, output.NewLine(d.ID, &d.Transaction, scale))
		report.Summary.Deleted++
	}

	for _, err := range writeErrs {
		p.log.Error().Err(err).Msg("ledger write failed")
		report.WriteErrors = append(report.WriteErrors, err.Error())
	}
	report.Summary.WriteErrors = len(writeErrs)
}

// describePlan fills the report with what apply would have done.
func (p *Pipeline) describePlan(report *output.Report, plan *reconcile.Plan) {
	scale := p.opts.AmountScale
	for i := range plan.Create {
		report.Created = append(report.Created, output.NewLine("", &plan.Create[i], scale))
	}
	for i := range plan.ClearPending {
		u := &plan.ClearPending[i]
		report.Cleared = append(report.Cleared, output.NewLine(u.LedgerID, &u.Transaction, scale))
	}
	for i := range plan.Delete {
		d := &plan.Delete[i]
		report.Deleted = append(report.Deleted, output.NewLine(d.ID, &d.Transaction, scale))
	}
	report.Summary.Created = len(plan.Create)
	report.Summary.Cleared = len(plan.ClearPending)
	report.Summary.Deleted = len(plan.Delete)
}

func (p *Pipeline) record(ctx context.Context, report *output.Report) {
	recorder, ok := p.opts.Ledger.(ledger.RunRecorder)
	if !ok {
		return
	}
	if err := recorder.RecordRun(ctx, report.RunRecord()); err != nil {
		p.log.Warn().Err(err).Str("run_id", report.RunID).Msg("failed to record sync run")
	}
}

// notify tells the operator about failed runs and write errors. Notifier
// failures are logged only.
func (p *Pipeline) notify(ctx context.Context, report *output.Report) {
	var msg notify.Message
	switch report.Status {
	case ledger.RunStatusFailed:
		msg = notify.Message{Level: notify.LevelError, Subject: "ledger sync failed: " + report.Error}
	case ledger.RunStatusPartial:
		msg = notify.Message{
			Level:   notify.LevelError,
			Subject: fmt.Sprintf("ledger sync finished with %d write error(s)", report.Summary.WriteErrors),
			Lines:   append([]string(nil), report.WriteErrors...),
		}
	default:
		return
	}
	msg.Time = report.FinishedAt

	if err := p.opts.Notifier.Notify(ctx, msg); err != nil {
		p.log.Warn().Err(err).Msg("failed to send notification")
	}
}

func (p *Pipeline) logWarnings(res *validate.ValidationResult) {
	for _, w := range res.Warnings {
		p.log.Warn().Str("entity", w.Entity).Str("id", w.ID).Str("field", w.Field).Msg(w.Message)
	}
}

func (p *Pipeline) progress(stage Stage, msg string) {
	if p.opts.Progress != nil {
		p.opts.Progress(ProgressEvent{Stage: stage, Message: msg})
	}
}
