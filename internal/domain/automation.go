package domain

import "time"

// TriggerKind says when an automation task is evaluated.
type TriggerKind string

const (
	// TriggerTimeBased tasks are re-evaluated on the evaluator's polling
	// interval.
	TriggerTimeBased TriggerKind = "time_based"
	// TriggerEventBased tasks are re-evaluated whenever the referenced
	// settlement changes state, and may run repeatedly.
	TriggerEventBased TriggerKind = "event_based"
	// TriggerConditionMet tasks are re-evaluated on settlement change and
	// complete after their actions succeed once.
	TriggerConditionMet TriggerKind = "condition_met"
	// TriggerManual tasks only run when an operator invokes them.
	TriggerManual TriggerKind = "manual"
)

// TaskStatus represents the lifecycle state of an automation task.
type TaskStatus string

const (
	TaskStatusActive    TaskStatus = "active"
	TaskStatusPaused    TaskStatus = "paused"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// ConditionType is the settlement field a condition inspects. The value
// carried by the condition is typed per field: durations for time_elapsed,
// int64 for amount/total_value/dispute_count, strings for the rest.
type ConditionType string

const (
	ConditionTimeElapsed   ConditionType = "time_elapsed"
	ConditionAmount        ConditionType = "amount"
	ConditionTotalValue    ConditionType = "total_value"
	ConditionDisputeCount  ConditionType = "dispute_count"
	ConditionStatus        ConditionType = "status"
	ConditionAssetType     ConditionType = "asset_type"
	ConditionPaymentMethod ConditionType = "payment_method"
)

// Operator compares the settlement field against the condition value.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorContains    Operator = "contains"
)

// Condition is one typed predicate of an automation task. Exactly one of
// Duration, Number or Text is meaningful, selected by Type.
type Condition struct {
	Type     ConditionType `json:"type"`
	Operator Operator      `json:"operator"`
	Duration time.Duration `json:"duration,omitempty"`
	Number   int64         `json:"number,omitempty"`
	Text     string        `json:"text,omitempty"`
}

// ActionType names an automation action.
type ActionType string

const (
	ActionReleaseFunds     ActionType = "release_funds"
	ActionCancelSettlement ActionType = "cancel_settlement"
	ActionNotifyParties    ActionType = "notify_parties"
	ActionEscalateDispute  ActionType = "escalate_dispute"
)

// Action is one step executed when a task's conditions are all satisfied.
// Percentage applies to release_funds (100 = full release).
type Action struct {
	Type       ActionType `json:"type"`
	Percentage int        `json:"percentage,omitempty"`
	Message    string     `json:"message,omitempty"`
}

// ExecutionLogEntry is one append-only record of an evaluation attempt.
type ExecutionLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Result    string    `json:"result"`
	Details   string    `json:"details,omitempty"`
}

// Execution log results.
const (
	ExecResultSuccess string = "success"
	ExecResultPartial string = "partial"
	ExecResultFailure string = "failure"
	ExecResultSkipped string = "skipped"
)

// AutomationTask places one settlement under automated rule execution.
// Conditions are ANDed; actions run in declared order. Terminal once
// completed or failed. Version is used for store compare-and-swap.
type AutomationTask struct {
	TaskID       string              `json:"task_id"`
	SettlementID string              `json:"settlement_id"`
	RuleID       string              `json:"rule_id,omitempty"`
	Trigger      TriggerKind         `json:"trigger"`
	Conditions   []Condition         `json:"conditions"`
	Actions      []Action            `json:"actions"`
	Status       TaskStatus          `json:"status"`
	ExecutionLog []ExecutionLogEntry `json:"execution_log,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	Version      uint64              `json:"version"`
}
