// Package guards wires the individual guard packages into the inspection
// chain every inbound call passes through: name validation, identifier
// preprocessing, the structural validators applicable to the call shape, the
// rate-limit gate for high-cost calls, the execution engine, and finally
// response redaction and result capping.
package guards

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/config"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/domain"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/admin_command"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/bulk_validator"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/depth_limiter"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/name_validator"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/operator_scanner"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/pipeline_budget"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/preprocessor"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/rate_limiter"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/response_redactor"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/result_capper"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/treewalk"
	infraPrometheus "github.com/bluwork/mongo-scout-mcp-sub000/pkg/infra/prometheus"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/mongodb"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/types"
)

type Manager struct {
	logger   *logrus.Logger
	engine   mongodb.Engine
	scanner  *operator_scanner.Scanner
	depth    *depth_limiter.Limiter
	pipeline *pipeline_budget.Validator
	bulk     *bulk_validator.Validator
	admin    *admin_command.Validator
	limiter  *rate_limiter.Limiter
	pre      *preprocessor.Preprocessor
	names    *name_validator.Validator
	redactor *response_redactor.Redactor
	capper   *result_capper.Capper
	cfg      config.GuardsConfig
}

// NewManager builds the guard chain. opts is test-only rate limiter wiring;
// pass nil in production.
func NewManager(logger *logrus.Logger, cfg config.GuardsConfig, engine mongodb.Engine, opts *rate_limiter.Opts) *Manager {
	// Rejection errors report limits out of this copy, so the fallbacks the
	// individual guards apply must be mirrored here.
	cfg.ApplyDefaults()
	scanner := operator_scanner.NewScanner(logger)
	return &Manager{
		logger:  logger,
		engine:  engine,
		scanner: scanner,
		depth:   depth_limiter.NewLimiter(logger),
		pipeline: pipeline_budget.NewValidator(logger, pipeline_budget.Config{
			MaxStages:          cfg.MaxPipelineStages,
			MaxExpensiveStages: cfg.MaxExpensiveStages,
		}),
		bulk: bulk_validator.NewValidator(logger, scanner, bulk_validator.Config{
			MaxOperations:         cfg.MaxBulkOperations,
			AllowEmptyMultiFilter: cfg.AllowEmptyMultiFilter,
		}),
		admin: admin_command.NewValidator(logger, admin_command.Config{
			MaxParamDepth: cfg.MaxParamDepth,
		}),
		limiter: rate_limiter.NewLimiter(logger, rate_limiter.Config{
			MaxCalls:      cfg.RateLimit.MaxCalls,
			Window:        cfg.RateLimit.Window,
			SweepInterval: cfg.RateLimit.SweepInterval,
		}, opts),
		pre:      preprocessor.NewPreprocessor(logger),
		names:    name_validator.NewValidator(logger),
		redactor: response_redactor.NewRedactor(logger),
		capper: result_capper.NewCapper(logger, result_capper.Config{
			MaxBytes: cfg.MaxResultBytes,
		}),
		cfg: cfg,
	}
}

// Close stops the rate limiter's background sweep.
func (m *Manager) Close() {
	m.limiter.Stop()
}

// Find runs a guarded single-collection query.
func (m *Manager) Find(ctx context.Context, collection string, filter bson.M, limit int64) (types.CapResult, error) {
	traceID := uuid.NewString()
	if err := m.names.ValidateCollectionName(collection); err != nil {
		m.rejected(name_validator.GuardName, "reserved_name")
		return types.CapResult{}, err
	}
	prepared := m.pre.PreprocessQuery(filter)
	if err := m.scanner.AssertSafe(prepared, "find filter"); err != nil {
		m.rejected(operator_scanner.GuardName, "blocked_operator")
		return types.CapResult{}, err
	}
	if result := m.depth.ValidateDepth(prepared, m.cfg.MaxFilterDepth); !result.Valid {
		m.rejected(depth_limiter.GuardName, "depth_exceeded")
		return types.CapResult{}, &domain.DepthExceededError{
			Depth: m.depth.MeasureDepth(prepared),
			Limit: m.cfg.MaxFilterDepth,
		}
	}
	infraPrometheus.GuardChecksTotal.WithLabelValues("find").Inc()

	docs, err := m.engine.Find(ctx, collection, prepared, limit)
	if err != nil {
		return types.CapResult{}, err
	}
	m.logger.WithFields(logrus.Fields{
		"trace_id":   traceID,
		"collection": collection,
		"documents":  len(docs),
	}).Debug("find executed")
	return m.deliver(sanitizeDocs(m.redactor, docs)), nil
}

// Aggregate runs a guarded aggregation pipeline. Aggregations count as
// high-cost calls and pass the rate-limit gate.
func (m *Manager) Aggregate(ctx context.Context, collection string, pipeline []interface{}) (types.CapResult, error) {
	traceID := uuid.NewString()
	if err := m.names.ValidateCollectionName(collection); err != nil {
		m.rejected(name_validator.GuardName, "reserved_name")
		return types.CapResult{}, err
	}
	if err := m.scanner.AssertSafe(pipeline, "aggregation pipeline"); err != nil {
		m.rejected(operator_scanner.GuardName, "blocked_operator")
		return types.CapResult{}, err
	}
	budget := m.pipeline.ValidatePipeline(pipeline)
	if !budget.Valid {
		m.rejected(pipeline_budget.GuardName, "budget_exceeded")
		return types.CapResult{}, &domain.PipelineBudgetError{
			StageCount:     budget.StageCount,
			ExpensiveCount: budget.ExpensiveStageCount,
			StageLimit:     m.cfg.MaxPipelineStages,
			ExpensiveLimit: m.cfg.MaxExpensiveStages,
			Operators:      budget.ExpensiveOperators,
		}
	}
	if err := m.gate("aggregate"); err != nil {
		return types.CapResult{}, err
	}
	infraPrometheus.GuardChecksTotal.WithLabelValues("aggregate").Inc()

	docs, err := m.engine.Aggregate(ctx, collection, preprocessStages(m.pre, pipeline))
	if err != nil {
		return types.CapResult{}, err
	}
	m.logger.WithFields(logrus.Fields{
		"trace_id":   traceID,
		"collection": collection,
		"stages":     budget.StageCount,
		"documents":  len(docs),
	}).Debug("aggregation executed")
	return m.deliver(sanitizeDocs(m.redactor, docs)), nil
}

// BulkWrite runs a guarded heterogeneous write batch.
func (m *Manager) BulkWrite(ctx context.Context, collection string, operations []interface{}) (bson.M, error) {
	if err := m.names.ValidateCollectionName(collection); err != nil {
		m.rejected(name_validator.GuardName, "reserved_name")
		return nil, err
	}
	prepared := preprocessOperations(m.pre, operations)
	if result := m.bulk.ValidateBulkOperations(prepared); !result.Valid {
		m.rejected(bulk_validator.GuardName, "batch_rejected")
		if result.Err != nil {
			return nil, result.Err
		}
		return nil, errors.New(result.Error)
	}
	if err := m.gate("bulkWrite"); err != nil {
		return nil, err
	}
	infraPrometheus.GuardChecksTotal.WithLabelValues("bulkWrite").Inc()

	result, err := m.engine.BulkWrite(ctx, collection, prepared)
	if err != nil {
		return nil, err
	}
	sanitized, _ := m.redactor.SanitizeResponse(result).(bson.M)
	return sanitized, nil
}

// RunAdminCommand validates, rate-limits, executes and redacts an
// administrative command. The returned warnings report any stripped
// parameters; they are non-fatal.
func (m *Manager) RunAdminCommand(ctx context.Context, database, commandName string, command bson.M) (bson.M, []string, error) {
	// Server-wide commands run against admin; any other target database must
	// pass name validation.
	if !strings.EqualFold(database, "admin") {
		if err := m.names.ValidateDatabaseName(database); err != nil {
			m.rejected(name_validator.GuardName, "reserved_name")
			return nil, nil, err
		}
	}
	validation := m.admin.ValidateParams(command, commandName)
	if !validation.Valid {
		m.rejected(admin_command.GuardName, "param_depth_exceeded")
		return nil, validation.Warnings, fmt.Errorf("admin command %q rejected: %s", commandName, lastWarning(validation.Warnings))
	}
	if err := m.gate("admin:" + commandName); err != nil {
		return nil, validation.Warnings, err
	}
	infraPrometheus.GuardChecksTotal.WithLabelValues("admin").Inc()

	response, err := m.engine.RunCommand(ctx, database, commandName, validation.Sanitized)
	if err != nil {
		return nil, validation.Warnings, err
	}
	redacted, dropped := m.redactor.RedactAdminResponse(commandName, response)
	if dropped > 0 {
		infraPrometheus.RedactedFieldsTotal.WithLabelValues(commandName).Add(float64(dropped))
	}
	sanitized, _ := m.redactor.SanitizeResponse(redacted).(bson.M)
	return sanitized, validation.Warnings, nil
}

// gate applies the fixed-window rate limit to high-cost operations.
func (m *Manager) gate(operation string) error {
	if m.limiter.Allow(operation) {
		return nil
	}
	infraPrometheus.RateLimitDenialsTotal.WithLabelValues(operation).Inc()
	return &domain.RateLimitError{
		Operation:  operation,
		Limit:      m.limiter.Limit(),
		RetryAfter: m.limiter.RetryAfter(operation).String(),
	}
}

func (m *Manager) deliver(docs []bson.M) types.CapResult {
	capped := m.capper.CapResultSize(docs)
	if capped.Truncated {
		infraPrometheus.TruncatedResultsTotal.Inc()
	}
	return capped
}

func (m *Manager) rejected(guard, reason string) {
	infraPrometheus.GuardRejectionsTotal.WithLabelValues(guard, reason).Inc()
}

func sanitizeDocs(r *response_redactor.Redactor, docs []bson.M) []bson.M {
	out := make([]bson.M, len(docs))
	for i, doc := range docs {
		sanitized, ok := r.SanitizeResponse(doc).(bson.M)
		if !ok {
			sanitized = doc
		}
		out[i] = sanitized
	}
	return out
}

// preprocessStages rewrites identifier leaves inside $match stages; other
// stages pass through untouched.
func preprocessStages(pre *preprocessor.Preprocessor, pipeline []interface{}) []interface{} {
	out := make([]interface{}, len(pipeline))
	for i, stage := range pipeline {
		out[i] = stage
		m, ok := treewalk.AsMap(stage)
		if !ok || len(m) != 1 {
			continue
		}
		if match, ok := treewalk.AsMap(m["$match"]); ok {
			out[i] = bson.M{"$match": pre.PreprocessQuery(match)}
		}
	}
	return out
}

// preprocessOperations rewrites identifier leaves inside each bulk
// operation's filter; documents, updates and replacements pass through.
func preprocessOperations(pre *preprocessor.Preprocessor, operations []interface{}) []interface{} {
	out := make([]interface{}, len(operations))
	for i, op := range operations {
		out[i] = op
		m, ok := treewalk.AsMap(op)
		if !ok || len(m) != 1 {
			continue
		}
		for opType, rawSpec := range m {
			spec, ok := treewalk.AsMap(rawSpec)
			if !ok {
				continue
			}
			filter, ok := treewalk.AsMap(spec["filter"])
			if !ok {
				continue
			}
			newSpec := make(bson.M, len(spec))
			for key, value := range spec {
				newSpec[key] = value
			}
			newSpec["filter"] = pre.PreprocessQuery(filter)
			out[i] = bson.M{opType: newSpec}
		}
	}
	return out
}

func lastWarning(warnings []string) string {
	if len(warnings) == 0 {
		return "parameter validation failed"
	}
	return warnings[len(warnings)-1]
}
