package operator_scanner

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/domain"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/treewalk"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/types"
)

const (
	GuardName = "operator_scanner"
)

// Operators that allow arbitrary server-side JavaScript execution. Matching is
// case-insensitive against every key anywhere in the request body.
var blockedOperators = map[string]struct{}{
	"$where":       {},
	"$function":    {},
	"$accumulator": {},
}

// IsBlocked reports whether key is on the operator denylist.
func IsBlocked(key string) bool {
	_, blocked := blockedOperators[strings.ToLower(key)]
	return blocked
}

// Scanner walks request bodies looking for denylisted operators. It is
// stateless and safe for concurrent use.
type Scanner struct {
	logger *logrus.Logger
}

func NewScanner(logger *logrus.Logger) *Scanner {
	return &Scanner{logger: logger}
}

func (s *Scanner) Name() string {
	return GuardName
}

// Scan walks body depth-first and stops at the first denylisted key. Values
// are always recursed into, so an operator hidden inside an allowed
// construct's argument ($expr, $facet branches, $lookup sub-pipelines, $group
// accumulators) is still found.
func (s *Scanner) Scan(body interface{}) types.ScanResult {
	result := types.ScanResult{}
	treewalk.Walk(body, func(path, key string, _ interface{}) bool {
		if _, blocked := blockedOperators[strings.ToLower(key)]; blocked {
			result = types.ScanResult{Found: true, Operator: key, Path: path}
			return false
		}
		return true
	})
	return result
}

// AssertSafe scans body and returns a BlockedOperatorError carrying the
// operator, its path and the caller-supplied context when a denylisted
// operator is present. It is a no-op on clean bodies.
func (s *Scanner) AssertSafe(body interface{}, context string) error {
	result := s.Scan(body)
	if !result.Found {
		return nil
	}
	s.logger.WithFields(logrus.Fields{
		"operator": result.Operator,
		"path":     result.Path,
		"context":  context,
	}).Warn("blocked operator detected")
	return domain.NewBlockedOperatorError(result.Operator, result.Path, context)
}
