package depth_limiter

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/treewalk"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/types"
)

const (
	GuardName = "depth_limiter"

	// DefaultMaxDepth bounds filter nesting before it reaches the engine.
	DefaultMaxDepth = 10
)

type Limiter struct {
	logger *logrus.Logger
}

func NewLimiter(logger *logrus.Logger) *Limiter {
	return &Limiter{logger: logger}
}

func (l *Limiter) Name() string {
	return GuardName
}

// MeasureDepth returns the maximum nesting level reached through maps or
// sequences. The top-level object is level 0; scalars do not add a level.
func (l *Limiter) MeasureDepth(body interface{}) int {
	return measure(body, 0)
}

// ValidateDepth accepts bodies nested up to and including maxDepth and
// rejects anything deeper. maxDepth <= 0 falls back to DefaultMaxDepth.
// Traversal short-circuits on the first container past the limit.
func (l *Limiter) ValidateDepth(body interface{}, maxDepth int) types.ValidationResult {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if exceeds(body, 0, maxDepth) {
		l.logger.WithFields(logrus.Fields{
			"max_depth": maxDepth,
		}).Warn("query nesting depth limit exceeded")
		return types.ValidationResult{
			Valid: false,
			Error: fmt.Sprintf("query nesting depth exceeds maximum allowed depth %d", maxDepth),
		}
	}
	return types.ValidationResult{Valid: true}
}

func children(value interface{}) []interface{} {
	if m, ok := treewalk.AsMap(value); ok {
		vals := make([]interface{}, 0, len(m))
		for _, v := range m {
			vals = append(vals, v)
		}
		return vals
	}
	if seq, ok := treewalk.AsSlice(value); ok {
		return seq
	}
	return nil
}

func isContainer(value interface{}) bool {
	if _, ok := treewalk.AsMap(value); ok {
		return true
	}
	_, ok := treewalk.AsSlice(value)
	return ok
}

func measure(value interface{}, depth int) int {
	maxSeen := depth
	for _, child := range children(value) {
		if !isContainer(child) {
			continue
		}
		if d := measure(child, depth+1); d > maxSeen {
			maxSeen = d
		}
	}
	return maxSeen
}

func exceeds(value interface{}, depth, maxDepth int) bool {
	if depth > maxDepth {
		return true
	}
	for _, child := range children(value) {
		if !isContainer(child) {
			continue
		}
		if exceeds(child, depth+1, maxDepth) {
			return true
		}
	}
	return false
}
