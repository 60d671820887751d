package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"newroi/ledger-service/internal/models"
	"newroi/ledger-service/internal/notify"
	"newroi/ledger-service/internal/repository"
	"newroi/ledger-service/pkg/helpers"
	"newroi/ledger-service/pkg/logger"
	"newroi/ledger-service/pkg/metrics"
)

const ledgerDateLayout = "2006-01-02"

// Reasons recorded on missed entries
const (
	MissedReasonHoliday     = "roi_holiday"
	MissedReasonMaintenance = "maintenance_mode"
	MissedReasonLevelLocked = "level_locked"
)

// RunRequest are the inputs of one distribution run
type RunRequest struct {
	// Date is the calendar date to distribute for; zero means today in the
	// configured timezone. Only its year, month and day are used.
	Date time.Time
	// ForceRerun disables the per-investment idempotency check
	ForceRerun bool
	// IsManual marks operator triggered runs; it never changes behavior
	IsManual    bool
	TriggeredBy *uint64
	// Settings is the configuration used for the whole run; nil loads it once
	Settings *models.SystemSettings
}

// InvestmentFailure is one investment the run could not process
type InvestmentFailure struct {
	InvestmentID uint64 `json:"investment_id"`
	UserID       uint64 `json:"user_id"`
	Error        string `json:"error"`
}

// RunSummary is returned in full for scheduled and manual runs alike
type RunSummary struct {
	RunID             string              `json:"run_id"`
	Date              string              `json:"date"`
	IsManual          bool                `json:"is_manual"`
	ForceRerun        bool                `json:"force_rerun"`
	Considered        int                 `json:"considered"`
	Credited          int                 `json:"credited"`
	Skipped           int                 `json:"skipped"`
	Missed            int                 `json:"missed"`
	Failed            int                 `json:"failed"`
	Completed         int                 `json:"completed"`
	CommissionsPaid   int                 `json:"commissions_paid"`
	CommissionsMissed int                 `json:"commissions_missed"`
	TotalROI          decimal.Decimal     `json:"total_roi"`
	TotalCommission   decimal.Decimal     `json:"total_commission"`
	TotalMissed       decimal.Decimal     `json:"total_missed"`
	Failures          []InvestmentFailure `json:"failures"`
	Stopped           bool                `json:"stopped"`
	StartedAt         time.Time           `json:"started_at"`
	FinishedAt        time.Time           `json:"finished_at"`
}

type DistributionService interface {
	Run(ctx context.Context, req RunRequest) (*RunSummary, error)
	RecentRuns(ctx context.Context, limit int) ([]*models.DistributionRun, error)
}

type distributionService struct {
	store    repository.Store
	ledger   LedgerService
	settings SettingsService
	notifier notify.Notifier
	metrics  *metrics.Metrics
	log      *logger.Logger
	location *time.Location
	now      func() time.Time
}

// NewDistributionService creates the daily ROI and commission engine.
// location is the reference timezone used to resolve "today".
func NewDistributionService(
	store repository.Store,
	ledger LedgerService,
	settings SettingsService,
	notifier notify.Notifier,
	m *metrics.Metrics,
	log *logger.Logger,
	location *time.Location,
) DistributionService {
	if location == nil {
		location = time.UTC
	}
	return &distributionService{
		store:    store,
		ledger:   ledger,
		settings: settings,
		notifier: notifier,
		metrics:  m,
		log:      log,
		location: location,
		now:      time.Now,
	}
}

// LedgerDate returns the calendar date of t in loc as midnight UTC
func LedgerDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// runState is shared by every investment of one run
type runState struct {
	id       string
	date     time.Time
	dateKey  string
	force    bool
	settings *models.SystemSettings
	tree     *ReferralTree
	unlocked map[uint64]int
}

func (r *runState) unlockedLevel(userID uint64) int {
	if level, ok := r.unlocked[userID]; ok {
		return level
	}
	level := UnlockedLevel(r.tree.QualifiedDirects(userID), r.settings.LevelUnlockThresholds)
	r.unlocked[userID] = level
	return level
}

// key builds an idempotency key; forced runs get a per-run suffix so they can
// write again on a date that was already processed.
func (r *runState) key(format string, args ...interface{}) string {
	key := fmt.Sprintf(format, args...)
	if r.force {
		key += ":force:" + r.id
	}
	return key
}

func (r *runState) metadata(inv *models.Investment, extra map[string]any) map[string]any {
	md := map[string]any{
		"run_id":        r.id,
		"investment_id": inv.ID,
		"ledger_date":   r.dateKey,
	}
	if r.force {
		md["forced"] = true
	}
	for k, v := range extra {
		md[k] = v
	}
	return md
}

func (r *runState) pauseReason() string {
	switch {
	case r.settings.ROIHoliday:
		return MissedReasonHoliday
	case r.settings.MaintenanceMode:
		return MissedReasonMaintenance
	default:
		return ""
	}
}

type investmentOutcome struct {
	credited          bool
	missed            bool
	completed         bool
	exhausted         bool
	roi               decimal.Decimal
	commission        decimal.Decimal
	missedAmount      decimal.Decimal
	commissionsPaid   int
	commissionsMissed int
}

func (s *distributionService) Run(ctx context.Context, req RunRequest) (*RunSummary, error) {
	started := s.now().UTC()

	settings := req.Settings
	if settings == nil {
		var err error
		if settings, err = s.settings.Load(ctx); err != nil {
			return nil, fmt.Errorf("failed to load settings: %w", err)
		}
	}

	date := LedgerDate(s.now(), s.location)
	if !req.Date.IsZero() {
		y, m, d := req.Date.Date()
		date = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	run := &runState{
		id:       uuid.NewString(),
		date:     date,
		dateKey:  date.Format(ledgerDateLayout),
		force:    req.ForceRerun,
		settings: settings,
		unlocked: make(map[uint64]int),
	}
	log := s.log.WithFields(logrus.Fields{
		"run_id":      run.id,
		"date":        run.dateKey,
		"is_manual":   req.IsManual,
		"force_rerun": req.ForceRerun,
	})
	if req.ForceRerun {
		log.Warn("forced distribution run: idempotency check disabled, investments may be credited twice for this date")
	}

	users, err := s.store.Users().FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load users: %w", err)
	}
	active, err := s.store.Investments().FindByStatus(ctx, models.InvestmentActive)
	if err != nil {
		return nil, fmt.Errorf("failed to load active investments: %w", err)
	}
	run.tree = NewReferralTree(users, active)

	summary := &RunSummary{
		RunID:      run.id,
		Date:       run.dateKey,
		IsManual:   req.IsManual,
		ForceRerun: req.ForceRerun,
		Considered: len(active),
		Failures:   []InvestmentFailure{},
		StartedAt:  started,
	}
	log.WithField("investments", len(active)).Info("distribution started")

	for _, inv := range active {
		// cooperative stop: the previous unit is committed, nothing new starts
		if ctx.Err() != nil {
			summary.Stopped = true
			log.Warn("distribution stopped before all investments were processed")
			break
		}

		outcome, err := s.processInvestment(context.WithoutCancel(ctx), run, inv)
		switch {
		case isAlreadyProcessed(err):
			summary.Skipped++
			s.metrics.ObserveInvestment("skipped")
		case err != nil:
			summary.Failed++
			summary.Failures = append(summary.Failures, InvestmentFailure{
				InvestmentID: inv.ID,
				UserID:       inv.UserID,
				Error:        err.Error(),
			})
			s.metrics.ObserveInvestment("failed")
			log.WithField("investment_id", inv.ID).WithField("user_id", inv.UserID).
				WithError(err).Error("failed to distribute investment")
		default:
			summary.accumulate(outcome)
			s.metrics.ObserveInvestment(outcome.label())
		}
	}

	summary.FinishedAt = s.now().UTC()
	s.finish(ctx, req, run, summary, log)
	return summary, nil
}

func (o *investmentOutcome) label() string {
	switch {
	case o.credited:
		return "credited"
	case o.missed:
		return "missed"
	default:
		return "skipped"
	}
}

func (s *RunSummary) accumulate(o *investmentOutcome) {
	switch {
	case o.credited:
		s.Credited++
	case o.missed:
		s.Missed++
	default:
		s.Skipped++
	}
	if o.completed {
		s.Completed++
	}
	s.CommissionsPaid += o.commissionsPaid
	s.CommissionsMissed += o.commissionsMissed
	s.TotalROI = s.TotalROI.Add(o.roi)
	s.TotalCommission = s.TotalCommission.Add(o.commission)
	s.TotalMissed = s.TotalMissed.Add(o.missedAmount)
}

func (s *distributionService) finish(ctx context.Context, req RunRequest, run *runState, summary *RunSummary, log *logrus.Entry) {
	trigger := "scheduled"
	if req.IsManual {
		trigger = "manual"
	}
	s.metrics.ObserveRunDuration(trigger, summary.FinishedAt.Sub(summary.StartedAt))
	roi, _ := summary.TotalROI.Float64()
	commission, _ := summary.TotalCommission.Float64()
	missed, _ := summary.TotalMissed.Float64()
	s.metrics.AddDistributedAmount("roi", roi)
	s.metrics.AddDistributedAmount("commission", commission)
	s.metrics.AddDistributedAmount("missed", missed)

	record := &models.DistributionRun{
		RunID:           run.id,
		RunDate:         run.date,
		IsManual:        req.IsManual,
		ForceRerun:      req.ForceRerun,
		TriggeredBy:     req.TriggeredBy,
		Credited:        summary.Credited,
		Skipped:         summary.Skipped,
		Missed:          summary.Missed,
		Failed:          summary.Failed,
		TotalROI:        summary.TotalROI,
		TotalCommission: summary.TotalCommission,
		TotalMissed:     summary.TotalMissed,
		Stopped:         summary.Stopped,
		StartedAt:       summary.StartedAt,
		FinishedAt:      summary.FinishedAt,
	}
	persistCtx := context.WithoutCancel(ctx)
	if err := s.store.Runs().Create(persistCtx, record); err != nil {
		log.WithError(err).Error("failed to record distribution run")
	}

	log.WithFields(logrus.Fields{
		"credited":         summary.Credited,
		"skipped":          summary.Skipped,
		"missed":           summary.Missed,
		"failed":           summary.Failed,
		"total_roi":        summary.TotalROI.String(),
		"total_commission": summary.TotalCommission.String(),
		"total_missed":     summary.TotalMissed.String(),
		"stopped":          summary.Stopped,
	}).Info("distribution finished")

	_ = s.notifier.Notify(persistCtx, notify.Event{
		Type:      notify.EventDistributionCompleted,
		Amount:    helpers.FormatMoney(summary.TotalROI),
		Reference: run.id,
		Message: fmt.Sprintf("Distribution for %s: %d credited, %d skipped, %d missed, %d failed, commissions %s",
			run.dateKey, summary.Credited, summary.Skipped, summary.Missed, summary.Failed,
			helpers.FormatMoney(summary.TotalCommission)),
	})
}

// processInvestment runs the idempotency check, the investor entry and the
// upline cascade for one investment inside a single unit of work.
func (s *distributionService) processInvestment(ctx context.Context, run *runState, snapshot *models.Investment) (*investmentOutcome, error) {
	var outcome *investmentOutcome
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		outcome = &investmentOutcome{}

		inv, err := tx.Investments().FindByIDForUpdate(ctx, snapshot.ID)
		if err != nil {
			return err
		}
		if inv == nil {
			return fmt.Errorf("investment %d: %w", snapshot.ID, ErrNotFound)
		}
		if inv.Status != models.InvestmentActive {
			return fmt.Errorf("%w: investment %d is %s", ErrAlreadyProcessed, inv.ID, inv.Status)
		}

		ref := fmt.Sprint(inv.ID)
		if !run.force {
			done, err := tx.Transactions().ExistsForReference(ctx, ref, run.date,
				[]models.TransactionType{models.TxROI, models.TxMissedROI})
			if err != nil {
				return err
			}
			if done {
				return fmt.Errorf("%w: investment %d on %s", ErrAlreadyProcessed, inv.ID, run.dateKey)
			}
		}

		roi, capped, err := s.dailyAmount(ctx, tx, inv, outcome)
		if err != nil || outcome.exhausted {
			return err
		}

		if reason := run.pauseReason(); reason != "" {
			_, err := s.ledger.RecordMissed(ctx, tx, Entry{
				UserID:         inv.UserID,
				Amount:         roi,
				Description:    fmt.Sprintf("Missed ROI for investment #%d on %s (%s)", inv.ID, run.dateKey, reason),
				ReferenceID:    ref,
				LedgerDate:     &run.date,
				IdempotencyKey: run.key("MISSED_ROI:%d:%s", inv.ID, run.dateKey),
				Metadata:       run.metadata(inv, map[string]any{"reason": reason}),
			})
			if err != nil {
				return err
			}
			outcome.missed = true
			outcome.missedAmount = outcome.missedAmount.Add(roi)
		} else {
			_, err := s.ledger.ApplyEntry(ctx, tx, Entry{
				UserID:         inv.UserID,
				Type:           models.TxROI,
				Amount:         roi,
				Description:    fmt.Sprintf("Daily ROI for investment #%d on %s", inv.ID, run.dateKey),
				ReferenceID:    ref,
				LedgerDate:     &run.date,
				IdempotencyKey: run.key("ROI:%d:%s", inv.ID, run.dateKey),
				Metadata:       run.metadata(inv, map[string]any{"rate": inv.ROIRate.String(), "capped": capped}),
			})
			if err != nil {
				return err
			}
			outcome.credited = true
			outcome.roi = roi

			if err := tx.Investments().AddROIPaid(ctx, inv.ID, roi); err != nil {
				return err
			}
			inv.TotalROIPaid = inv.TotalROIPaid.Add(roi)
			if inv.Exhausted() {
				if err := s.complete(ctx, tx, inv); err != nil {
					return err
				}
				outcome.completed = true
			}
		}

		return s.cascade(ctx, tx, run, inv, roi, outcome)
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// dailyAmount is the day's ROI, trimmed to what is left under the return cap.
// An investment already at its cap is moved to COMPLETED instead.
func (s *distributionService) dailyAmount(ctx context.Context, tx repository.Store, inv *models.Investment, outcome *investmentOutcome) (decimal.Decimal, bool, error) {
	roi := inv.DailyROI()
	if !roi.IsPositive() {
		return decimal.Zero, false, userError(ErrInvalidState, "Investment %d has no daily return", inv.ID)
	}
	if !inv.MaxReturnPercent.IsPositive() {
		return roi, false, nil
	}

	remaining := helpers.Percent(inv.Amount, inv.MaxReturnPercent).Sub(inv.TotalROIPaid)
	if !remaining.IsPositive() {
		if err := s.complete(ctx, tx, inv); err != nil {
			return decimal.Zero, false, err
		}
		outcome.exhausted = true
		outcome.completed = true
		return decimal.Zero, false, nil
	}
	if roi.GreaterThan(remaining) {
		return remaining, true, nil
	}
	return roi, false, nil
}

func (s *distributionService) complete(ctx context.Context, tx repository.Store, inv *models.Investment) error {
	err := tx.Investments().TransitionStatus(ctx, inv.ID, models.InvestmentActive, models.InvestmentCompleted, nil, nil)
	if err != nil && !errors.Is(err, repository.ErrNoRowsAffected) {
		return err
	}
	s.log.WithInvestmentID(inv.ID).WithField("total_roi_paid", inv.TotalROIPaid.String()).
		Info("investment reached its return cap")
	return nil
}

// cascade pays or records commissions for every ancestor up to the level ceiling.
// A locked ancestor does not stop evaluation of the ones above it.
func (s *distributionService) cascade(ctx context.Context, tx repository.Store, run *runState, inv *models.Investment, roi decimal.Decimal, outcome *investmentOutcome) error {
	ref := fmt.Sprint(inv.ID)
	pause := run.pauseReason()

	for _, node := range run.tree.WalkUpline(inv.UserID, MaxReferralDepth) {
		percent := run.settings.CommissionPercent(node.Level)
		commission := helpers.Percent(roi, percent)
		if !commission.IsPositive() {
			continue
		}

		ancestor := node.User.ID
		unlocked := run.unlockedLevel(ancestor)
		reason := pause
		if reason == "" && node.Level > unlocked {
			reason = MissedReasonLevelLocked
		}

		extra := map[string]any{
			"level":          node.Level,
			"percent":        percent.String(),
			"source_user_id": inv.UserID,
			"unlocked_level": unlocked,
		}

		if reason != "" {
			extra["reason"] = reason
			extra["kind"] = "commission"
			_, err := s.ledger.RecordMissed(ctx, tx, Entry{
				UserID: ancestor,
				Amount: commission,
				Description: fmt.Sprintf("Missed level %d commission from user #%d investment #%d on %s (%s)",
					node.Level, inv.UserID, inv.ID, run.dateKey, reason),
				ReferenceID:    ref,
				LedgerDate:     &run.date,
				IdempotencyKey: run.key("MISSED_COMMISSION:%d:%d:%s", inv.ID, ancestor, run.dateKey),
				Metadata:       run.metadata(inv, extra),
			})
			if err != nil {
				return err
			}
			outcome.commissionsMissed++
			outcome.missedAmount = outcome.missedAmount.Add(commission)
			continue
		}

		_, err := s.ledger.ApplyEntry(ctx, tx, Entry{
			UserID: ancestor,
			Type:   models.TxCommission,
			Amount: commission,
			Description: fmt.Sprintf("Level %d commission from user #%d investment #%d on %s",
				node.Level, inv.UserID, inv.ID, run.dateKey),
			ReferenceID:    ref,
			LedgerDate:     &run.date,
			IdempotencyKey: run.key("COMMISSION:%d:%d:%s", inv.ID, ancestor, run.dateKey),
			Metadata:       run.metadata(inv, extra),
		})
		if err != nil {
			return err
		}
		outcome.commissionsPaid++
		outcome.commission = outcome.commission.Add(commission)
	}
	return nil
}

func (s *distributionService) RecentRuns(ctx context.Context, limit int) ([]*models.DistributionRun, error) {
	return s.store.Runs().ListRecent(ctx, limit)
}
