package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kevin07696/settlement-service/internal/domain"
	"github.com/kevin07696/settlement-service/internal/domain/ports"
	serviceports "github.com/kevin07696/settlement-service/internal/services/ports"
	"github.com/kevin07696/settlement-service/pkg/observability"
	"github.com/kevin07696/settlement-service/pkg/resilience"
	"github.com/kevin07696/settlement-service/pkg/timeutil"
)

const (
	outcomePaid     = "paid"
	outcomeFailed   = "failed"
	outcomeDeferred = "deferred"
	outcomeSkipped  = "skipped"

	// FailureReasonTimeout is recorded when the bank does not answer in time
	FailureReasonTimeout = "timeout"
)

// ProcessorConfig tunes the weekly batch
type ProcessorConfig struct {
	Location            *time.Location
	Timeouts            *resilience.TimeoutConfig
	StatusBackoff       resilience.BackoffStrategy
	Currency            string
	WeekEnd             time.Weekday
	Workers             int
	StatusWriteAttempts int
	// ClaimTTL is how long a PROCESSING claim may sit before a later batch
	// hands it back to PENDING. Zero means twice the batch timeout.
	ClaimTTL time.Duration
}

// DefaultProcessorConfig returns the production batch settings
func DefaultProcessorConfig(currency string, loc *time.Location) ProcessorConfig {
	return ProcessorConfig{
		Location:            loc,
		Timeouts:            resilience.DefaultTimeoutConfig(),
		StatusBackoff:       resilience.StoreBackoff(),
		Currency:            currency,
		WeekEnd:             time.Sunday,
		Workers:             4,
		StatusWriteAttempts: 3,
	}
}

// Processor implements serviceports.SettlementProcessor
type Processor struct {
	repo     ports.SettlementRepository
	bank     ports.BankTransferGateway
	notifier ports.Notifier
	logger   ports.Logger
	now      timeutil.Clock
	config   ProcessorConfig
	notifyWG sync.WaitGroup
	running  atomic.Bool
}

// NewProcessor creates a new settlement processor
func NewProcessor(
	repo ports.SettlementRepository,
	bank ports.BankTransferGateway,
	notifier ports.Notifier,
	logger ports.Logger,
	config ProcessorConfig,
) *Processor {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Timeouts == nil {
		config.Timeouts = resilience.DefaultTimeoutConfig()
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.StatusWriteAttempts < 2 {
		config.StatusWriteAttempts = 2
	}
	if config.ClaimTTL <= 0 {
		config.ClaimTTL = 2 * config.Timeouts.Batch
	}
	return &Processor{
		repo:     repo,
		bank:     bank,
		notifier: notifier,
		logger:   logger,
		now:      timeutil.Now,
		config:   config,
	}
}

type entryOutcome struct {
	kind string
	err  string
}

// ProcessWeek pays out every PENDING entry of the target week. One entry
// failing never stops the batch; only failing to list candidates is an error.
func (p *Processor) ProcessWeek(ctx context.Context, req serviceports.ProcessWeekRequest) (*serviceports.BatchResult, error) {
	trigger := req.Trigger
	if trigger == "" {
		trigger = "api"
	}
	if !p.running.CompareAndSwap(false, true) {
		observability.RecordBatchRun(trigger, "rejected", 0)
		return nil, domain.ErrBatchInProgress
	}
	defer p.running.Store(false)

	ctx, cancel := p.config.Timeouts.BatchContext(ctx)
	defer cancel()

	start := time.Now()
	target := p.TargetWeek(req.WeekEnding)
	p.releaseStaleClaims(ctx)

	status := domain.SettlementStatusPending
	filter := ports.SettlementFilter{Status: &status}
	if req.CatchUp {
		filter.WeekOnOrBefore = &target
	} else {
		filter.WeekEnding = &target
	}

	entries, err := p.repo.List(ctx, filter)
	if err != nil {
		observability.RecordBatchRun(trigger, "error", time.Since(start).Seconds())
		p.logger.Error("failed to list pending settlements",
			ports.String("week_ending", domain.FormatWeekEnding(target)),
			ports.Err(err),
		)
		return nil, fmt.Errorf("list pending settlements: %w", err)
	}

	p.logger.Info("processing settlement batch",
		ports.String("week_ending", domain.FormatWeekEnding(target)),
		ports.Bool("catch_up", req.CatchUp),
		ports.String("trigger", trigger),
		ports.Int("count", len(entries)),
	)

	result := &serviceports.BatchResult{
		WeekEnding: target,
		Errors:     make([]serviceports.EntryError, 0),
	}
	p.runPool(ctx, entries, result)

	runStatus := "completed"
	if result.Failed > 0 || result.Deferred > 0 {
		runStatus = "partial"
	}
	observability.RecordBatchRun(trigger, runStatus, time.Since(start).Seconds())

	p.logger.Info("settlement batch completed",
		ports.String("week_ending", domain.FormatWeekEnding(target)),
		ports.Int("processed", result.Processed),
		ports.Int("successful", result.Successful),
		ports.Int("failed", result.Failed),
		ports.Int("deferred", result.Deferred),
		ports.Int("skipped", result.Skipped),
		ports.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// TargetWeek resolves the batch week: the given date, or the most recent
// week end on or before now in the configured timezone.
func (p *Processor) TargetWeek(weekEnding *time.Time) time.Time {
	if weekEnding != nil && !weekEnding.IsZero() {
		return domain.NormalizeWeekEnding(*weekEnding)
	}
	return domain.MostRecentWeekEnding(p.now(), p.config.WeekEnd, p.config.Location)
}

func (p *Processor) runPool(ctx context.Context, entries []*domain.SettlementEntry, result *serviceports.BatchResult) {
	if len(entries) == 0 {
		return
	}

	workers := p.config.Workers
	if workers > len(entries) {
		workers = len(entries)
	}

	jobs := make(chan *domain.SettlementEntry)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entry := range jobs {
				outcome := p.processEntry(ctx, entry)

				mu.Lock()
				tally(result, entry, outcome)
				mu.Unlock()
			}
		}()
	}

	for _, entry := range entries {
		jobs <- entry
	}
	close(jobs)
	wg.Wait()
}

func tally(result *serviceports.BatchResult, entry *domain.SettlementEntry, outcome entryOutcome) {
	switch outcome.kind {
	case outcomeSkipped:
		result.Skipped++
		return
	case outcomePaid:
		result.Successful++
	case outcomeFailed:
		result.Failed++
	case outcomeDeferred:
		result.Deferred++
	}
	result.Processed++

	if outcome.kind != outcomePaid {
		result.Errors = append(result.Errors, serviceports.EntryError{
			SettlementID: entry.ID,
			RestaurantID: entry.RestaurantID,
			WeekEnding:   domain.FormatWeekEnding(entry.WeekEnding),
			Outcome:      outcome.kind,
			Error:        outcome.err,
		})
	}
}

func (p *Processor) processEntry(ctx context.Context, entry *domain.SettlementEntry) entryOutcome {
	// Outcome writes must land even when the batch context is cancelled mid-transfer.
	writeCtx := context.WithoutCancel(ctx)
	fields := []ports.Field{
		ports.String("settlement_id", entry.ID),
		ports.String("restaurant_id", entry.RestaurantID),
		ports.String("week_ending", domain.FormatWeekEnding(entry.WeekEnding)),
	}

	if ctx.Err() != nil {
		return p.recordOutcome(entry, entryOutcome{kind: outcomeDeferred, err: "batch cancelled before claim"})
	}

	claimed, err := p.claim(writeCtx, entry.ID)
	if err != nil {
		p.logger.Error("failed to claim settlement", append(fields, ports.Err(err))...)
		return p.recordOutcome(entry, entryOutcome{kind: outcomeDeferred, err: "claim: " + err.Error()})
	}
	if claimed == nil {
		p.logger.Debug("settlement claimed by another run, skipping", fields...)
		return p.recordOutcome(entry, entryOutcome{kind: outcomeSkipped})
	}
	// Orders may have landed since List; the claimed row is frozen.
	entry = claimed

	reference, reason, cancelled := p.transfer(ctx, entry)
	if cancelled {
		// Outcome unknown; the idempotency key makes the next run safe.
		p.release(writeCtx, entry, fields)
		return p.recordOutcome(entry, entryOutcome{kind: outcomeDeferred, err: "batch cancelled during transfer"})
	}

	paid := reason == ""
	now := p.now().UTC()
	err = p.writeStatus(writeCtx, func(ctx context.Context) error {
		if paid {
			return p.repo.MarkPaid(ctx, entry.ID, reference, now)
		}
		return p.repo.MarkFailed(ctx, entry.ID, reason, now)
	})
	if err != nil {
		p.logger.Error("failed to record settlement outcome, releasing claim",
			append(fields, ports.Bool("paid", paid), ports.String("transaction_id", reference), ports.Err(err))...)
		p.release(writeCtx, entry, fields)
		return p.recordOutcome(entry, entryOutcome{kind: outcomeDeferred, err: "record outcome: " + err.Error()})
	}

	note := ports.SettlementNotification{
		RestaurantID:  entry.RestaurantID,
		SettlementID:  entry.ID,
		WeekEnding:    domain.FormatWeekEnding(entry.WeekEnding),
		Amount:        entry.AmountDue,
		TransactionID: reference,
		FailureReason: reason,
	}
	if paid {
		note.Status = string(domain.SettlementStatusPaid)
		p.logger.Info("settlement paid", append(fields, ports.String("transaction_id", reference))...)
		p.notify(ctx, note)
		return p.recordOutcome(entry, entryOutcome{kind: outcomePaid})
	}

	note.Status = string(domain.SettlementStatusFailed)
	p.logger.Warn("settlement failed", append(fields, ports.String("reason", reason))...)
	p.notify(ctx, note)
	return p.recordOutcome(entry, entryOutcome{kind: outcomeFailed, err: reason})
}

func (p *Processor) claim(ctx context.Context, id string) (*domain.SettlementEntry, error) {
	var claimed *domain.SettlementEntry
	err := p.writeStatus(ctx, func(ctx context.Context) error {
		var err error
		claimed, err = p.repo.Claim(ctx, id, p.now().UTC())
		return err
	})
	return claimed, err
}

// releaseStaleClaims hands back claims abandoned by a run that died before
// recording an outcome. Failure only delays those entries, so it is logged.
func (p *Processor) releaseStaleClaims(ctx context.Context) {
	now := p.now().UTC()
	released, err := p.repo.ReleaseStale(ctx, now.Add(-p.config.ClaimTTL), now)
	if err != nil {
		p.logger.Error("failed to release stale settlement claims", ports.Err(err))
		return
	}
	if released > 0 {
		p.logger.Warn("released stale settlement claims",
			ports.Int("count", released),
			ports.Duration("claim_ttl", p.config.ClaimTTL),
		)
	}
}

// transfer returns the bank reference on success, or a failure reason.
// cancelled reports that the batch itself was cancelled, not the bank call.
func (p *Processor) transfer(ctx context.Context, entry *domain.SettlementEntry) (reference, reason string, cancelled bool) {
	tctx, cancel := p.config.Timeouts.BankTransferContext(ctx)
	defer cancel()

	start := time.Now()
	res, err := p.bank.Transfer(tctx, &ports.TransferRequest{
		RestaurantID:   entry.RestaurantID,
		Amount:         entry.AmountDue,
		Currency:       p.config.Currency,
		IdempotencyKey: entry.ID,
	})
	elapsed := time.Since(start).Seconds()

	switch {
	case err != nil && ctx.Err() != nil:
		observability.RecordBankTransfer("cancelled", elapsed)
		return "", "", true
	case err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, domain.ErrTransferTimeout)):
		observability.RecordBankTransfer("timeout", elapsed)
		return "", FailureReasonTimeout, false
	case err != nil:
		observability.RecordBankTransfer("error", elapsed)
		return "", err.Error(), false
	case res == nil || !res.Success:
		observability.RecordBankTransfer("declined", elapsed)
		if res != nil && res.Message != "" {
			return "", res.Message, false
		}
		return "", "bank declined transfer", false
	case res.Reference == "":
		observability.RecordBankTransfer("declined", elapsed)
		return "", "bank reported success without a transaction reference", false
	}

	observability.RecordBankTransfer("success", elapsed)
	return res.Reference, "", false
}

func (p *Processor) writeStatus(ctx context.Context, write func(ctx context.Context) error) error {
	return resilience.Retry(ctx, resilience.RetryPolicy{
		MaxAttempts: p.config.StatusWriteAttempts,
		Backoff:     p.config.StatusBackoff,
		Retryable: func(err error) bool {
			return !errors.Is(err, domain.ErrSettlementNotClaimed) && !domain.IsValidationError(err)
		},
	}, func(ctx context.Context, _ int) error {
		wctx, cancel := p.config.Timeouts.StoreWriteContext(ctx)
		defer cancel()
		return write(wctx)
	})
}

func (p *Processor) release(ctx context.Context, entry *domain.SettlementEntry, fields []ports.Field) {
	err := p.writeStatus(ctx, func(ctx context.Context) error {
		return p.repo.Release(ctx, entry.ID, p.now().UTC())
	})
	if err != nil {
		p.logger.Error("failed to release settlement claim", append(fields, ports.Err(err))...)
	}
}

func (p *Processor) notify(ctx context.Context, note ports.SettlementNotification) {
	if p.notifier == nil {
		return
	}
	p.notifyWG.Add(1)
	go func() {
		defer p.notifyWG.Done()
		nctx, cancel := p.config.Timeouts.NotificationContext(ctx)
		defer cancel()

		if err := p.notifier.Notify(nctx, note); err != nil {
			observability.RecordNotification("failed")
			p.logger.Warn("failed to send settlement notification",
				ports.String("settlement_id", note.SettlementID),
				ports.String("restaurant_id", note.RestaurantID),
				ports.Err(err),
			)
			return
		}
		observability.RecordNotification("sent")
	}()
}

func (p *Processor) recordOutcome(entry *domain.SettlementEntry, outcome entryOutcome) entryOutcome {
	observability.RecordSettlementOutcome(outcome.kind, domain.ToCents(entry.AmountDue), p.config.Currency)
	return outcome
}

// WaitForNotifications blocks until in-flight notifications finish or ctx ends
func (p *Processor) WaitForNotifications(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.notifyWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
