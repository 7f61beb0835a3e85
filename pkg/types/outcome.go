package types

import "time"

// StrategyName identifies an indexing strategy
type StrategyName string

const (
	StrategyCodeQuery StrategyName = "codequery"
	StrategyKythe     StrategyName = "kythe"
)

// StrategyResult is the uniform outcome of one strategy execution
type StrategyResult struct {
	Strategy StrategyName
	Success  bool
	Stage    string // Stage that failed, empty on success
	Err      error  // Cause of failure, nil on success
	Duration time.Duration
}

// Succeeded builds a successful result
func Succeeded(name StrategyName, d time.Duration) StrategyResult {
	return StrategyResult{Strategy: name, Success: true, Duration: d}
}

// Failed builds a failed result for the given stage
func Failed(name StrategyName, stage string, err error, d time.Duration) StrategyResult {
	return StrategyResult{Strategy: name, Stage: stage, Err: err, Duration: d}
}

// TaskOutcome is the overall result of processing one IndexRequest.
// Success is the logical OR of every recorded strategy result.
type TaskOutcome struct {
	TaskID  string
	Success bool
	Results []StrategyResult
}

// NewTaskOutcome combines strategy results with OR semantics
func NewTaskOutcome(taskID string, results ...StrategyResult) TaskOutcome {
	out := TaskOutcome{TaskID: taskID, Results: results}
	for _, r := range results {
		if r.Success {
			out.Success = true
		}
	}
	return out
}

// Ran lists the strategies that were executed, in execution order
func (o TaskOutcome) Ran() []StrategyName {
	names := make([]StrategyName, 0, len(o.Results))
	for _, r := range o.Results {
		names = append(names, r.Strategy)
	}
	return names
}

// Succeeded lists the strategies that contributed to success
func (o TaskOutcome) Succeeded() []StrategyName {
	var names []StrategyName
	for _, r := range o.Results {
		if r.Success {
			names = append(names, r.Strategy)
		}
	}
	return names
}
