package pipeline_budget

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/treewalk"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/types"
)

const (
	GuardName = "pipeline_budget"

	DefaultMaxStages          = 20
	DefaultMaxExpensiveStages = 3
)

// Stages that perform cross-collection joins, recursive traversal,
// sub-pipeline fan-out or dataset unions. Each is disproportionately costly
// relative to simple filter/transform stages.
var expensiveStages = map[string]struct{}{
	"$lookup":      {},
	"$graphlookup": {},
	"$facet":       {},
	"$unionwith":   {},
}

type Config struct {
	MaxStages          int `mapstructure:"max_stages"`
	MaxExpensiveStages int `mapstructure:"max_expensive_stages"`
}

type Validator struct {
	logger *logrus.Logger
	cfg    Config
}

func NewValidator(logger *logrus.Logger, cfg Config) *Validator {
	if cfg.MaxStages <= 0 {
		cfg.MaxStages = DefaultMaxStages
	}
	if cfg.MaxExpensiveStages <= 0 {
		cfg.MaxExpensiveStages = DefaultMaxExpensiveStages
	}
	return &Validator{logger: logger, cfg: cfg}
}

func (v *Validator) Name() string {
	return GuardName
}

// ValidatePipeline counts total and expensive stages, recursing into the
// sub-pipelines carried by the expensive stages themselves ($lookup.pipeline,
// $facet branches, $unionWith.pipeline) so nesting cannot hide stages from
// the budget. Counts equal to either limit are accepted.
func (v *Validator) ValidatePipeline(stages []interface{}) types.PipelineValidation {
	total, expensive, operators, err := countStages(stages)
	result := types.PipelineValidation{
		Valid:               true,
		StageCount:          total,
		ExpensiveStageCount: expensive,
		ExpensiveOperators:  operators,
	}
	if err != nil {
		result.Valid = false
		result.Error = err.Error()
		return result
	}
	if expensive > v.cfg.MaxExpensiveStages {
		result.Valid = false
		result.Error = fmt.Sprintf(
			"pipeline contains %d expensive stages (%s), maximum allowed is %d",
			expensive, strings.Join(operators, ", "), v.cfg.MaxExpensiveStages,
		)
	} else if total > v.cfg.MaxStages {
		result.Valid = false
		result.Error = fmt.Sprintf("pipeline contains %d stages, maximum allowed is %d", total, v.cfg.MaxStages)
	}
	if !result.Valid {
		v.logger.WithFields(logrus.Fields{
			"stage_count":     total,
			"expensive_count": expensive,
			"operators":       operators,
		}).Warn("pipeline budget exceeded")
	}
	return result
}

func countStages(stages []interface{}) (total, expensive int, operators []string, err error) {
	for i, stage := range stages {
		m, ok := treewalk.AsMap(stage)
		if !ok {
			return total, expensive, operators, fmt.Errorf("stage %d is not an object", i+1)
		}
		if len(m) != 1 {
			return total, expensive, operators, fmt.Errorf("stage %d must have exactly one operator, found %d keys", i+1, len(m))
		}
		total++
		for op, arg := range m {
			lower := strings.ToLower(op)
			if _, isExpensive := expensiveStages[lower]; isExpensive {
				expensive++
				operators = append(operators, op)
			}
			for _, sub := range subPipelines(lower, arg) {
				subTotal, subExpensive, subOps, subErr := countStages(sub)
				total += subTotal
				expensive += subExpensive
				operators = append(operators, subOps...)
				if subErr != nil {
					return total, expensive, operators, subErr
				}
			}
		}
	}
	return total, expensive, operators, nil
}

// subPipelines extracts the nested pipelines an expensive stage can carry.
func subPipelines(op string, arg interface{}) [][]interface{} {
	m, ok := treewalk.AsMap(arg)
	if !ok {
		return nil
	}
	switch op {
	case "$lookup", "$unionwith":
		if sub, ok := treewalk.AsSlice(m["pipeline"]); ok {
			return [][]interface{}{sub}
		}
	case "$facet":
		var branches [][]interface{}
		for _, branch := range m {
			if sub, ok := treewalk.AsSlice(branch); ok {
				branches = append(branches, sub)
			}
		}
		return branches
	}
	return nil
}
