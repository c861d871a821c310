// Package alerts evaluates the configured alert rules against current café
// data and manages the resulting alerts.
//
// A sweep is stateless: every active rule produces candidate alerts, the
// candidates are de-duplicated against open alerts on (type, related entity,
// title) and the survivors are inserted in one batch. A rule that fails to
// evaluate is logged and skipped; the remaining rules still run.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/leafy-life/cafe/internal/app/domain/alert"
	"github.com/leafy-life/cafe/internal/app/domain/calendar"
	"github.com/leafy-life/cafe/internal/app/metrics"
	"github.com/leafy-life/cafe/internal/app/storage"
	"github.com/leafy-life/cafe/pkg/logger"
)

// Sweep triggers.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
)

// Engine runs alert sweeps.
type Engine struct {
	store storage.Store
	log   *logger.Logger
	loc   *time.Location
	now   func() time.Time
}

// NewEngine constructs an engine that evaluates dates in the local zone.
func NewEngine(store storage.Store, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("alerts")
	}
	return &Engine{store: store, log: log, loc: time.Local, now: time.Now}
}

// WithLocation sets the café's time zone.
func (e *Engine) WithLocation(loc *time.Location) *Engine {
	if loc != nil {
		e.loc = loc
	}
	return e
}

// WithClock overrides the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// Report summarises one sweep.
type Report struct {
	Rules       int       `json:"rules"`
	Candidates  int       `json:"candidates"`
	Inserted    int       `json:"inserted"`
	FailedRules []string  `json:"failed_rules,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}

// candidate is an alert produced by a rule, before de-duplication.
type candidate struct {
	ruleID string
	alert  alert.Alert
}

// Run performs a manual sweep and returns the number of alerts inserted.
func (e *Engine) Run(ctx context.Context) (int, error) {
	report, err := e.Sweep(ctx, TriggerManual)
	return report.Inserted, err
}

// Sweep evaluates every active rule once.
func (e *Engine) Sweep(ctx context.Context, trigger string) (Report, error) {
	started := e.now()
	report, err := e.sweep(ctx, started)
	metrics.RecordAlertSweep(trigger, e.now().Sub(started), err == nil)
	if err != nil {
		e.log.WithError(err).WithField("trigger", trigger).Warn("alert sweep failed")
		return report, err
	}
	e.log.WithField("trigger", trigger).
		WithField("rules", report.Rules).
		WithField("inserted", report.Inserted).
		Debug("alert sweep finished")
	return report, nil
}

func (e *Engine) sweep(ctx context.Context, started time.Time) (Report, error) {
	report := Report{StartedAt: started.UTC()}

	var rules []alert.Rule
	if err := storage.SelectInto(ctx, e.store, storage.TableAlertRules, storage.Where("is_active", true), &rules); err != nil {
		return report, fmt.Errorf("load rules: %w", err)
	}
	report.Rules = len(rules)

	today := calendar.Midnight(started.In(e.loc))
	var batch []candidate
	for _, rule := range rules {
		alerts, err := e.evaluate(ctx, rule, today)
		if err != nil {
			metrics.RecordRuleFailure(string(rule.Condition))
			report.FailedRules = append(report.FailedRules, rule.ID)
			e.log.WithError(err).
				WithField("rule_id", rule.ID).
				WithField("condition", string(rule.Condition)).
				Warn("alert rule evaluation failed")
			continue
		}
		for _, a := range alerts {
			batch = append(batch, candidate{ruleID: rule.ID, alert: a})
		}
	}
	report.Candidates = len(batch)
	if len(batch) == 0 {
		return report, nil
	}

	fresh, err := e.dedupe(ctx, batch)
	if err != nil {
		return report, err
	}
	if len(fresh) == 0 {
		return report, nil
	}

	createdAt := started.UTC()
	rows := make([]storage.Row, 0, len(fresh))
	for _, c := range fresh {
		c.alert.CreatedAt = createdAt
		row, err := storage.Encode(c.alert)
		if err != nil {
			return report, err
		}
		rows = append(rows, row)
	}
	if _, err := e.store.Insert(ctx, storage.TableAlerts, rows...); err != nil {
		return report, fmt.Errorf("insert alerts: %w", storage.Wrap("insert", storage.TableAlerts, err))
	}
	report.Inserted = len(rows)

	triggered := make(map[string]struct{})
	for _, c := range fresh {
		metrics.RecordAlertRaised(c.alert.Type, c.alert.Severity)
		triggered[c.ruleID] = struct{}{}
	}
	for id := range triggered {
		patch := storage.Row{"last_triggered": createdAt}
		if err := storage.UpdateByID(ctx, e.store, storage.TableAlertRules, id, patch, nil); err != nil {
			e.log.WithError(err).WithField("rule_id", id).Warn("update rule last_triggered")
		}
	}
	return report, nil
}

// dedupe drops candidates matching an open alert or an earlier candidate.
func (e *Engine) dedupe(ctx context.Context, batch []candidate) ([]candidate, error) {
	var open []alert.Alert
	if err := storage.SelectInto(ctx, e.store, storage.TableAlerts, storage.NewQuery().IsNull("resolved_at"), &open); err != nil {
		return nil, fmt.Errorf("load open alerts: %w", err)
	}
	seen := make(map[string]struct{}, len(open)+len(batch))
	for _, a := range open {
		seen[a.DedupKey()] = struct{}{}
	}
	out := batch[:0]
	for _, c := range batch {
		key := c.alert.DedupKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

func (e *Engine) evaluate(ctx context.Context, rule alert.Rule, today time.Time) ([]alert.Alert, error) {
	params, err := rule.Params()
	if err != nil {
		return nil, err
	}
	// Rules written before validation existed may still hold bad values.
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid parameters: %w", err)
	}
	switch p := params.(type) {
	case alert.StockBelowThreshold:
		return e.checkLowStock(ctx)
	case alert.MonthlyRentDue:
		return checkRentDue(p, today), nil
	case alert.DailyRevenueBelow:
		return e.checkRevenueBelow(ctx, p, today)
	case alert.DailyRevenueAbove:
		return e.checkRevenueAbove(ctx, p, today)
	case alert.ExpenseExceedsBudget:
		return e.checkExpenses(ctx, p, today)
	case alert.ExpiryWithinDays:
		return e.checkExpiry(ctx, p, today)
	case alert.TaskOverdue:
		return e.checkTasks(ctx, today)
	default:
		return nil, fmt.Errorf("unsupported condition %q", rule.Condition)
	}
}
