package types

import "go.mongodb.org/mongo-driver/bson"

// ScanResult is the outcome of a denylist scan over a request body.
type ScanResult struct {
	Found    bool   `json:"found"`
	Operator string `json:"operator,omitempty"`
	Path     string `json:"path,omitempty"`
}

// ValidationResult is the outcome of a structural validation. Err, when set,
// carries the typed form of Error so callers can match on the rejection class.
type ValidationResult struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
	Err   error  `json:"-"`
}

// PipelineValidation extends ValidationResult with the stage counts consumed
// by callers for diagnostics.
type PipelineValidation struct {
	Valid               bool     `json:"valid"`
	Error               string   `json:"error,omitempty"`
	StageCount          int      `json:"stage_count"`
	ExpensiveStageCount int      `json:"expensive_stage_count"`
	ExpensiveOperators  []string `json:"expensive_operators,omitempty"`
}

// AdminValidation carries the sanitized command alongside any warnings
// produced while filtering it.
type AdminValidation struct {
	Valid     bool     `json:"valid"`
	Sanitized bson.M   `json:"sanitized,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// CapResult is the outcome of capping a result set to the byte budget.
type CapResult struct {
	Result    []bson.M `json:"result"`
	Truncated bool     `json:"truncated"`
	Warning   string   `json:"warning,omitempty"`
}
