package automation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nathanyu/p2p-exchange/internal/domain"
	"github.com/nathanyu/p2p-exchange/internal/notify"
	"github.com/nathanyu/p2p-exchange/internal/settlement"
	"github.com/nathanyu/p2p-exchange/internal/store"
	"github.com/nathanyu/p2p-exchange/internal/telemetry"
)

var (
	// EvaluationsTotal counts task evaluation attempts by result.
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_automation_evaluations_total",
			Help: "Total number of automation task evaluations by result",
		},
		[]string{"result"},
	)
)

// Evaluator runs automation tasks against settlement snapshots. Time-based
// triggers are re-evaluated on a fixed polling interval; event and condition
// triggers are re-evaluated whenever the referenced settlement changes state,
// so manual operator actions are never raced with a stale read.
type Evaluator struct {
	tasks       store.TaskStore
	settlements *settlement.Engine
	rules       *RuleSet
	notifier    notify.Notifier
	log         *slog.Logger

	pollInterval time.Duration

	// EventIn receives settlement change events (push model).
	EventIn chan *domain.SettlementEvent

	done   chan struct{}
	ticker *time.Ticker
}

// NewEvaluator creates an automation evaluator.
func NewEvaluator(tasks store.TaskStore, settlements *settlement.Engine, rules *RuleSet, notifier notify.Notifier, pollInterval time.Duration, bufferSize int) *Evaluator {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	return &Evaluator{
		tasks:        tasks,
		settlements:  settlements,
		rules:        rules,
		notifier:     notifier,
		log:          telemetry.Component("automation"),
		pollInterval: pollInterval,
		EventIn:      make(chan *domain.SettlementEvent, bufferSize),
		done:         make(chan struct{}),
	}
}

// Start begins the evaluator's application loop.
func (e *Evaluator) Start() {
	e.ticker = time.NewTicker(e.pollInterval)
	go e.run()
}

// Stop shuts down the evaluator.
func (e *Evaluator) Stop() {
	if e.ticker != nil {
		e.ticker.Stop()
	}
	close(e.done)
}

// run is the main application loop. Single goroutine, so task log appends
// never race each other.
func (e *Evaluator) run() {
	e.log.Info("automation evaluator started", "poll_interval", e.pollInterval)
	for {
		select {
		case event := <-e.EventIn:
			e.handleSettlementEvent(event)
		case <-e.ticker.C:
			e.PollOnce(context.Background())
		case <-e.done:
			e.log.Info("automation evaluator stopped")
			return
		}
	}
}

// RegisterTask validates a task, applies the matching settlement rule's risk
// limits, and activates it. Tasks matching a rule that requires approval
// start paused.
func (e *Evaluator) RegisterTask(ctx context.Context, task *domain.AutomationTask) (*domain.AutomationTask, error) {
	switch task.Trigger {
	case domain.TriggerTimeBased, domain.TriggerEventBased, domain.TriggerConditionMet, domain.TriggerManual:
	default:
		return nil, fmt.Errorf("unknown trigger kind %q: %w", task.Trigger, domain.ErrValidation)
	}
	for _, c := range task.Conditions {
		if err := validateCondition(c); err != nil {
			return nil, err
		}
	}
	for _, a := range task.Actions {
		switch a.Type {
		case domain.ActionReleaseFunds, domain.ActionCancelSettlement,
			domain.ActionNotifyParties, domain.ActionEscalateDispute:
		default:
			return nil, fmt.Errorf("unknown action type %q: %w", a.Type, domain.ErrValidation)
		}
	}

	s, err := e.settlements.GetSettlement(ctx, task.SettlementID)
	if err != nil {
		return nil, err
	}

	task.Status = domain.TaskStatusActive
	if rule := e.rules.Match(s); rule != nil {
		disputeCount := 0
		if s.Dispute != nil {
			disputeCount = 1
		}
		if err := checkRisk(rule, s, disputeCount); err != nil {
			return nil, err
		}
		task.RuleID = rule.RuleID

		// A rule-scoped auto-release timeout fills in for a task registered
		// without explicit conditions.
		if len(task.Conditions) == 0 && rule.AutoReleaseAfter > 0 {
			task.Conditions = []domain.Condition{{
				Type:     domain.ConditionTimeElapsed,
				Operator: domain.OperatorGreaterThan,
				Duration: rule.AutoReleaseAfter,
			}}
		}
		if len(task.Actions) == 0 && rule.AutoReleaseAfter > 0 {
			task.Actions = []domain.Action{{Type: domain.ActionReleaseFunds, Percentage: 100}}
		}
		if rule.RequireApproval {
			task.Status = domain.TaskStatusPaused
		}
	}

	if len(task.Actions) == 0 {
		return nil, fmt.Errorf("task has no actions: %w", domain.ErrValidation)
	}

	if task.TaskID == "" {
		task.TaskID = uuid.New().String()
	}
	task.CreatedAt = time.Now()
	if err := e.tasks.Save(ctx, task); err != nil {
		return nil, err
	}

	e.log.Info("automation task registered",
		"task_id", task.TaskID,
		"settlement_id", task.SettlementID,
		"trigger", task.Trigger,
		"status", task.Status,
	)
	return task, nil
}

// ResumeTask activates a paused task (operator approval).
func (e *Evaluator) ResumeTask(ctx context.Context, taskID string) error {
	task, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskStatusPaused {
		return fmt.Errorf("task %s is %s: %w", taskID, task.Status, domain.ErrInvalidState)
	}
	task.Status = domain.TaskStatusActive
	return e.tasks.Update(ctx, task)
}

// RunTask evaluates one task immediately, regardless of its trigger kind.
// This is the entry point for manual triggers.
func (e *Evaluator) RunTask(ctx context.Context, taskID string) error {
	task, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskStatusActive {
		return fmt.Errorf("task %s is %s: %w", taskID, task.Status, domain.ErrInvalidState)
	}
	e.evaluate(ctx, task)
	return nil
}

// ListExecutionLog returns a task's append-only execution log.
func (e *Evaluator) ListExecutionLog(ctx context.Context, taskID string) ([]domain.ExecutionLogEntry, error) {
	task, err := e.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return task.ExecutionLog, nil
}

// GetTask returns a task snapshot by ID.
func (e *Evaluator) GetTask(ctx context.Context, taskID string) (*domain.AutomationTask, error) {
	return e.tasks.Get(ctx, taskID)
}

// PollOnce evaluates every active time-based task once.
func (e *Evaluator) PollOnce(ctx context.Context) {
	tasks, err := e.tasks.ListActive(ctx)
	if err != nil {
		e.log.Error("failed to list active tasks", "error", err)
		return
	}
	for _, task := range tasks {
		if task.Trigger != domain.TriggerTimeBased {
			continue
		}
		e.evaluate(ctx, task)
	}
}

// handleSettlementEvent re-evaluates event and condition triggered tasks
// targeting the changed settlement.
func (e *Evaluator) handleSettlementEvent(event *domain.SettlementEvent) {
	ctx := context.Background()
	tasks, err := e.tasks.ListBySettlement(ctx, event.Settlement.SettlementID)
	if err != nil {
		e.log.Error("failed to list tasks for settlement",
			"settlement_id", event.Settlement.SettlementID, "error", err)
		return
	}
	for _, task := range tasks {
		if task.Status != domain.TaskStatusActive {
			continue
		}
		if task.Trigger != domain.TriggerEventBased && task.Trigger != domain.TriggerConditionMet {
			continue
		}
		e.evaluate(ctx, task)
	}
}

// evaluate runs one evaluation attempt: check all conditions (AND), execute
// the actions in declared order, and append exactly one execution log entry
// recording the outcome.
func (e *Evaluator) evaluate(ctx context.Context, task *domain.AutomationTask) {
	now := time.Now()

	s, err := e.settlements.GetSettlement(ctx, task.SettlementID)
	if err != nil {
		task.Status = domain.TaskStatusFailed
		e.finish(ctx, task, "evaluate", domain.ExecResultFailure,
			fmt.Sprintf("settlement lookup failed: %v", err))
		return
	}

	for _, c := range task.Conditions {
		if !conditionMet(c, s, now) {
			e.finish(ctx, task, "evaluate", domain.ExecResultSkipped,
				fmt.Sprintf("condition %s %s not met", c.Type, c.Operator))
			return
		}
	}

	succeeded := 0
	for _, action := range task.Actions {
		if err := e.execute(ctx, task, action, s); err != nil {
			result := domain.ExecResultFailure
			if succeeded > 0 {
				result = domain.ExecResultPartial
			}
			if !errors.Is(err, domain.ErrConflict) {
				// Non-retryable: acting on a terminal settlement or bad input.
				task.Status = domain.TaskStatusFailed
			}
			e.finish(ctx, task, string(action.Type), result, err.Error())
			return
		}
		succeeded++
	}

	// Manual and event-based tasks may run repeatedly; the rest complete
	// after all actions succeed once.
	if task.Trigger == domain.TriggerTimeBased || task.Trigger == domain.TriggerConditionMet {
		task.Status = domain.TaskStatusCompleted
	}
	e.finish(ctx, task, "execute", domain.ExecResultSuccess,
		fmt.Sprintf("%d action(s) executed", succeeded))
}

// execute performs a single automation action against the settlement engine.
func (e *Evaluator) execute(ctx context.Context, task *domain.AutomationTask, action domain.Action, s *domain.Settlement) error {
	switch action.Type {
	case domain.ActionReleaseFunds:
		_, err := e.settlements.ReleaseFunds(ctx, task.SettlementID, action.Percentage)
		return err
	case domain.ActionCancelSettlement:
		_, err := e.settlements.Cancel(ctx, task.SettlementID)
		return err
	case domain.ActionNotifyParties:
		return e.notifier.NotifyParties(ctx, s, action.Message)
	case domain.ActionEscalateDispute:
		_, err := e.settlements.EscalateDispute(ctx, task.SettlementID)
		return err
	}
	return fmt.Errorf("unknown action type %q: %w", action.Type, domain.ErrValidation)
}

// finish appends the attempt's log entry and persists the task.
func (e *Evaluator) finish(ctx context.Context, task *domain.AutomationTask, event, result, details string) {
	task.ExecutionLog = append(task.ExecutionLog, domain.ExecutionLogEntry{
		Timestamp: time.Now(),
		Event:     event,
		Result:    result,
		Details:   details,
	})
	EvaluationsTotal.WithLabelValues(result).Inc()

	if err := e.tasks.Update(ctx, task); err != nil {
		e.log.Error("failed to persist task state", "task_id", task.TaskID, "error", err)
	}
	if result == domain.ExecResultFailure && task.Status == domain.TaskStatusFailed {
		e.log.Warn("automation task failed", "task_id", task.TaskID, "details", details)
	}
}
