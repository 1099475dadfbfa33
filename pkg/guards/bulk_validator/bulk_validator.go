package bulk_validator

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/domain"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/operator_scanner"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/treewalk"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/types"
)

const (
	GuardName = "bulk_validator"

	DefaultMaxOperations = 1000
)

// The six supported bulk write operation types.
var knownOperations = map[string]struct{}{
	"insertOne":  {},
	"updateOne":  {},
	"updateMany": {},
	"deleteOne":  {},
	"deleteMany": {},
	"replaceOne": {},
}

// Operations that can touch every document matching their filter. These
// require a non-empty filter unless the caller explicitly overrides the
// protection; updateOne/deleteOne affect at most one document and may use an
// empty filter safely.
var multiDocumentOperations = map[string]struct{}{
	"updateMany": {},
	"deleteMany": {},
}

type Config struct {
	MaxOperations int `mapstructure:"max_operations"`
	// AllowEmptyMultiFilter disables the empty-filter protection for
	// updateMany/deleteMany.
	AllowEmptyMultiFilter bool `mapstructure:"allow_empty_multi_filter"`
}

type Validator struct {
	logger  *logrus.Logger
	scanner *operator_scanner.Scanner
	cfg     Config
}

func NewValidator(logger *logrus.Logger, scanner *operator_scanner.Scanner, cfg Config) *Validator {
	if cfg.MaxOperations <= 0 {
		cfg.MaxOperations = DefaultMaxOperations
	}
	return &Validator{logger: logger, scanner: scanner, cfg: cfg}
}

func (v *Validator) Name() string {
	return GuardName
}

// ValidateBulkOperations checks a heterogeneous batch of write operations.
// Validation is all-or-nothing: the first violation found anywhere in the
// batch is returned as the sole error.
func (v *Validator) ValidateBulkOperations(batch []interface{}) types.ValidationResult {
	if len(batch) == 0 {
		return v.reject("bulk operations batch is empty")
	}
	if len(batch) > v.cfg.MaxOperations {
		return v.reject(fmt.Sprintf("bulk operations batch has %d operations, maximum allowed is %d", len(batch), v.cfg.MaxOperations))
	}

	for i, entry := range batch {
		index := i + 1
		op, ok := treewalk.AsMap(entry)
		if !ok {
			return v.reject(fmt.Sprintf("operation %d is not an object", index))
		}
		if len(op) == 0 {
			return v.rejectErr(&domain.MalformedBatchError{Index: index})
		}
		if len(op) > 1 {
			keys := make([]string, 0, len(op))
			for key := range op {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			return v.rejectErr(&domain.MalformedBatchError{Index: index, Keys: keys})
		}

		var opType string
		var spec interface{}
		for key, val := range op {
			opType, spec = key, val
		}
		if _, known := knownOperations[opType]; !known {
			return v.rejectErr(&domain.UnknownOperationError{Index: index, OpType: opType})
		}

		specMap, _ := treewalk.AsMap(spec)
		filter, hasFilter := filterOf(specMap)

		if _, multi := multiDocumentOperations[opType]; multi && !v.cfg.AllowEmptyMultiFilter {
			if !hasFilter || len(filter) == 0 {
				return v.rejectErr(&domain.EmptyFilterError{Index: index, OpType: opType})
			}
		}

		for _, field := range []string{"filter", "update", "replacement"} {
			if specMap == nil {
				break
			}
			body, present := specMap[field]
			if !present {
				continue
			}
			if scan := v.scanner.Scan(body); scan.Found {
				return v.rejectErr(domain.NewBlockedOperatorError(scan.Operator, fmt.Sprintf("%s.%s", field, scan.Path), fmt.Sprintf("operation %d", index)))
			}
		}
	}

	return types.ValidationResult{Valid: true}
}

func (v *Validator) reject(message string) types.ValidationResult {
	v.logger.WithFields(logrus.Fields{
		"error": message,
	}).Warn("bulk operations batch rejected")
	return types.ValidationResult{Valid: false, Error: message}
}

// rejectErr is reject for the typed rejection classes; the error travels in
// the result so callers can match on it.
func (v *Validator) rejectErr(err error) types.ValidationResult {
	result := v.reject(err.Error())
	result.Err = err
	return result
}

// filterOf returns the operation's filter when it is present and an object.
// Array-typed or scalar filters report as absent so the empty-filter rule
// treats them as unsafe.
func filterOf(spec map[string]interface{}) (map[string]interface{}, bool) {
	if spec == nil {
		return nil, false
	}
	raw, present := spec["filter"]
	if !present {
		return nil, false
	}
	m, ok := treewalk.AsMap(raw)
	if !ok {
		return nil, false
	}
	return m, true
}
