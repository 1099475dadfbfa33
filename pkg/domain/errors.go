package domain

import (
	"errors"
	"fmt"
	"strings"
)

// BlockedOperatorError reports a denylisted operator found inside a request
// body. Path is a dotted/bracketed locator such as "$and[0].$where".
type BlockedOperatorError struct {
	Operator string
	Path     string
	Context  string
}

func (e *BlockedOperatorError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("blocked operator %s at %s in %s", e.Operator, e.Path, e.Context)
	}
	return fmt.Sprintf("blocked operator %s at %s", e.Operator, e.Path)
}

func NewBlockedOperatorError(operator, path, context string) error {
	return &BlockedOperatorError{Operator: operator, Path: path, Context: context}
}

func IsBlockedOperatorError(err error) bool {
	var blockedOperatorError *BlockedOperatorError
	return errors.As(err, &blockedOperatorError)
}

// DepthExceededError reports structural nesting over the configured limit.
type DepthExceededError struct {
	Depth int
	Limit int
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("query nesting depth %d exceeds maximum allowed depth %d", e.Depth, e.Limit)
}

// PipelineBudgetError reports a pipeline exceeding the total or expensive
// stage budget.
type PipelineBudgetError struct {
	StageCount     int
	ExpensiveCount int
	StageLimit     int
	ExpensiveLimit int
	Operators      []string
}

func (e *PipelineBudgetError) Error() string {
	if e.ExpensiveCount > e.ExpensiveLimit {
		return fmt.Sprintf(
			"pipeline contains %d expensive stages (%s), maximum allowed is %d",
			e.ExpensiveCount, strings.Join(e.Operators, ", "), e.ExpensiveLimit,
		)
	}
	return fmt.Sprintf("pipeline contains %d stages, maximum allowed is %d", e.StageCount, e.StageLimit)
}

// EmptyFilterError reports a multi-document write operation carrying an empty
// filter. Index is 1-based.
type EmptyFilterError struct {
	Index  int
	OpType string
}

func (e *EmptyFilterError) Error() string {
	return fmt.Sprintf("operation %d (%s) has an empty filter; multi-document writes require a non-empty filter", e.Index, e.OpType)
}

// UnknownOperationError reports a bulk entry tagged with an operation type
// outside the supported set.
type UnknownOperationError struct {
	Index  int
	OpType string
}

func (e *UnknownOperationError) Error() string {
	return fmt.Sprintf("operation %d has unknown type %q", e.Index, e.OpType)
}

// MalformedBatchError reports a bulk entry that is not a single-key tagged
// object.
type MalformedBatchError struct {
	Index int
	Keys  []string
}

func (e *MalformedBatchError) Error() string {
	if len(e.Keys) == 0 {
		return fmt.Sprintf("operation %d is empty; expected exactly one operation type", e.Index)
	}
	return fmt.Sprintf("operation %d has multiple keys (%s); expected exactly one operation type", e.Index, strings.Join(e.Keys, ", "))
}

// RateLimitError is a soft failure: the caller should surface it and let the
// agent retry after the window resets.
type RateLimitError struct {
	Operation  string
	Limit      int
	RetryAfter string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit of %d calls exceeded for %s, retry after %s", e.Limit, e.Operation, e.RetryAfter)
}

func IsRateLimitError(err error) bool {
	var rateLimitError *RateLimitError
	return errors.As(err, &rateLimitError)
}

// NameRejectedError reports access to a reserved or system-named resource.
type NameRejectedError struct {
	Kind   string // "database" or "collection"
	Name   string
	Reason string
}

func (e *NameRejectedError) Error() string {
	return fmt.Sprintf("%s name %q rejected: %s", e.Kind, e.Name, e.Reason)
}

func IsNameRejectedError(err error) bool {
	var nameRejectedError *NameRejectedError
	return errors.As(err, &nameRejectedError)
}
