package guards

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/config"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/domain"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/rate_limiter"
	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/response_redactor"
)

type fakeEngine struct {
	mu sync.Mutex

	findFilter   bson.M
	findDocs     []bson.M
	pipeline     []interface{}
	bulkOps      []interface{}
	commandName  string
	command      bson.M
	commandReply bson.M

	calls int
}

func (f *fakeEngine) Find(ctx context.Context, collection string, filter bson.M, limit int64) ([]bson.M, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.findFilter = filter
	return f.findDocs, nil
}

func (f *fakeEngine) Aggregate(ctx context.Context, collection string, pipeline []interface{}) ([]bson.M, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.pipeline = pipeline
	return nil, nil
}

func (f *fakeEngine) BulkWrite(ctx context.Context, collection string, operations []interface{}) (bson.M, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.bulkOps = operations
	return bson.M{"insertedCount": int64(len(operations))}, nil
}

func (f *fakeEngine) RunCommand(ctx context.Context, database, commandName string, command bson.M) (bson.M, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.commandName = commandName
	f.command = command
	return f.commandReply, nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type managerClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *managerClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *managerClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, engine *fakeEngine, cfg config.GuardsConfig) (*Manager, *managerClock) {
	t.Helper()
	clock := &managerClock{now: time.Unix(1700000000, 0)}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	m := NewManager(logger, cfg, engine, &rate_limiter.Opts{TimeProvider: clock.Now})
	t.Cleanup(m.Close)
	return m, clock
}

func TestManager_FindBlocksDeniedOperatorBeforeEngine(t *testing.T) {
	engine := &fakeEngine{}
	m, _ := newTestManager(t, engine, config.GuardsConfig{})

	_, err := m.Find(context.Background(), "orders", bson.M{"$where": "this.x > 1"}, 0)

	require.Error(t, err)
	require.True(t, domain.IsBlockedOperatorError(err))
	var blocked *domain.BlockedOperatorError
	require.ErrorAs(t, err, &blocked)
	assert.Equal(t, "$where", blocked.Operator)
	assert.Zero(t, engine.callCount())
}

func TestManager_FindRejectsDeepFilterBeforeEngine(t *testing.T) {
	engine := &fakeEngine{}
	m, _ := newTestManager(t, engine, config.GuardsConfig{MaxFilterDepth: 3})

	filter := bson.M{"a": bson.M{"b": bson.M{"c": bson.M{"d": bson.M{"e": 1}}}}}
	_, err := m.Find(context.Background(), "orders", filter, 0)

	require.Error(t, err)
	var depthErr *domain.DepthExceededError
	require.ErrorAs(t, err, &depthErr)
	assert.Equal(t, 3, depthErr.Limit)
	assert.Zero(t, engine.callCount())
}

func TestManager_ZeroConfigReportsEffectiveLimits(t *testing.T) {
	engine := &fakeEngine{}
	m, _ := newTestManager(t, engine, config.GuardsConfig{})

	filter := bson.M{"leaf": 1}
	for i := 0; i < 11; i++ {
		filter = bson.M{"n": filter}
	}
	_, err := m.Find(context.Background(), "orders", filter, 0)

	require.Error(t, err)
	var depthErr *domain.DepthExceededError
	require.ErrorAs(t, err, &depthErr)
	assert.Equal(t, 10, depthErr.Limit)
	assert.Equal(t, 11, depthErr.Depth)

	pipeline := make([]interface{}, 0, 4)
	for i := 0; i < 4; i++ {
		pipeline = append(pipeline, bson.M{"$lookup": bson.M{"from": "a", "as": "a"}})
	}
	_, err = m.Aggregate(context.Background(), "orders", pipeline)

	require.Error(t, err)
	var budgetErr *domain.PipelineBudgetError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, 3, budgetErr.ExpensiveLimit)
	assert.Equal(t, 20, budgetErr.StageLimit)
}

func TestManager_FindRejectsReservedCollection(t *testing.T) {
	engine := &fakeEngine{}
	m, _ := newTestManager(t, engine, config.GuardsConfig{})

	_, err := m.Find(context.Background(), "system.users", bson.M{}, 0)

	require.Error(t, err)
	assert.True(t, domain.IsNameRejectedError(err))
	assert.Zero(t, engine.callCount())
}

func TestManager_FindCoercesIdentifiersAndRedacts(t *testing.T) {
	hex := "64b0f0a1e4b0c2d3e4f5a6b7"
	engine := &fakeEngine{findDocs: []bson.M{
		{"name": "svc", "apiToken": "tok-123"},
	}}
	m, _ := newTestManager(t, engine, config.GuardsConfig{})

	result, err := m.Find(context.Background(), "orders", bson.M{"_id": hex}, 0)
	require.NoError(t, err)

	// The filter handed to the engine carries the coerced ObjectID.
	oid, err := primitive.ObjectIDFromHex(hex)
	require.NoError(t, err)
	assert.Equal(t, oid, engine.findFilter["_id"])

	// Sensitive fields in the result are masked before delivery.
	require.Len(t, result.Result, 1)
	assert.Equal(t, response_redactor.RedactionMarker, result.Result[0]["apiToken"])
	assert.Equal(t, "svc", result.Result[0]["name"])
}

func TestManager_FindCapsOversizedResult(t *testing.T) {
	big := make([]byte, 600)
	for i := range big {
		big[i] = 'a'
	}
	engine := &fakeEngine{findDocs: []bson.M{
		{"v": string(big)}, {"v": string(big)}, {"v": string(big)},
	}}
	m, _ := newTestManager(t, engine, config.GuardsConfig{MaxResultBytes: 1000})

	result, err := m.Find(context.Background(), "orders", bson.M{}, 0)
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Len(t, result.Result, 1)
	assert.NotEmpty(t, result.Warning)
}

func TestManager_AggregateEnforcesBudget(t *testing.T) {
	engine := &fakeEngine{}
	m, _ := newTestManager(t, engine, config.GuardsConfig{MaxPipelineStages: 20, MaxExpensiveStages: 1})

	pipeline := []interface{}{
		bson.M{"$lookup": bson.M{"from": "a", "as": "a"}},
		bson.M{"$facet": bson.M{"x": []interface{}{bson.M{"$count": "n"}}}},
	}
	_, err := m.Aggregate(context.Background(), "orders", pipeline)

	require.Error(t, err)
	var budgetErr *domain.PipelineBudgetError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, 2, budgetErr.ExpensiveCount)
	assert.Zero(t, engine.callCount())
}

func TestManager_AggregateRateLimited(t *testing.T) {
	engine := &fakeEngine{}
	m, clock := newTestManager(t, engine, config.GuardsConfig{
		RateLimit: config.RateLimitConfig{MaxCalls: 2, Window: time.Minute},
	})

	pipeline := []interface{}{bson.M{"$match": bson.M{"status": "active"}}}
	for i := 0; i < 2; i++ {
		_, err := m.Aggregate(context.Background(), "orders", pipeline)
		require.NoError(t, err)
	}

	_, err := m.Aggregate(context.Background(), "orders", pipeline)
	require.Error(t, err)
	require.True(t, domain.IsRateLimitError(err))
	var rateErr *domain.RateLimitError
	require.ErrorAs(t, err, &rateErr)
	assert.Equal(t, "aggregate", rateErr.Operation)
	assert.Equal(t, 2, engine.callCount())

	// A fresh window admits the call again.
	clock.Advance(61 * time.Second)
	_, err = m.Aggregate(context.Background(), "orders", pipeline)
	assert.NoError(t, err)
}

func TestManager_BulkWriteRejectsEmptyMultiFilter(t *testing.T) {
	engine := &fakeEngine{}
	m, _ := newTestManager(t, engine, config.GuardsConfig{})

	ops := []interface{}{
		bson.M{"deleteMany": bson.M{"filter": bson.M{}}},
	}
	_, err := m.BulkWrite(context.Background(), "orders", ops)

	require.Error(t, err)
	var emptyFilter *domain.EmptyFilterError
	require.ErrorAs(t, err, &emptyFilter)
	assert.Equal(t, "deleteMany", emptyFilter.OpType)
	assert.Zero(t, engine.callCount())
}

func TestManager_BulkWritePreprocessesFilters(t *testing.T) {
	hex := "64b0f0a1e4b0c2d3e4f5a6b7"
	engine := &fakeEngine{}
	m, _ := newTestManager(t, engine, config.GuardsConfig{})

	ops := []interface{}{
		bson.M{"updateOne": bson.M{
			"filter": bson.M{"_id": hex},
			"update": bson.M{"$set": bson.M{"status": "done"}},
		}},
	}
	result, err := m.BulkWrite(context.Background(), "orders", ops)
	require.NoError(t, err)
	assert.NotNil(t, result)

	require.Len(t, engine.bulkOps, 1)
	op := engine.bulkOps[0].(bson.M)
	spec := op["updateOne"].(bson.M)
	oid, err := primitive.ObjectIDFromHex(hex)
	require.NoError(t, err)
	assert.Equal(t, oid, spec["filter"].(bson.M)["_id"])
}

func TestManager_RunAdminCommandStripsAndRedacts(t *testing.T) {
	engine := &fakeEngine{commandReply: bson.M{
		"ok":  1,
		"log": bson.A{"connection accepted from 10.0.0.5"},
	}}
	m, _ := newTestManager(t, engine, config.GuardsConfig{})

	command := bson.M{"getLog": "global", "maxTimeMS": 500, "$comment": "probe"}
	response, warnings, err := m.RunAdminCommand(context.Background(), "admin", "getLog", command)
	require.NoError(t, err)

	// Unknown parameter stripped with a warning; known ones pass through.
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "$comment")
	assert.Equal(t, "global", engine.command["getLog"])
	assert.Equal(t, 500, engine.command["maxTimeMS"])
	assert.NotContains(t, engine.command, "$comment")

	// The per-command policy removes the host log lines from the reply.
	assert.NotContains(t, response, "log")
	assert.Equal(t, 1, response["ok"])
}

func TestManager_RunAdminCommandRejectsReservedDatabase(t *testing.T) {
	engine := &fakeEngine{commandReply: bson.M{"ok": 1}}
	m, _ := newTestManager(t, engine, config.GuardsConfig{})

	_, _, err := m.RunAdminCommand(context.Background(), "local", "dbStats", bson.M{"dbStats": 1})
	require.Error(t, err)
	assert.True(t, domain.IsNameRejectedError(err))
	assert.Zero(t, engine.callCount())

	// admin is the home of server-wide commands and stays reachable.
	_, _, err = m.RunAdminCommand(context.Background(), "admin", "ping", bson.M{"ping": 1})
	assert.NoError(t, err)
}

func TestManager_RunAdminCommandRejectsDeepParams(t *testing.T) {
	engine := &fakeEngine{}
	m, _ := newTestManager(t, engine, config.GuardsConfig{MaxParamDepth: 2})

	command := bson.M{
		"serverStatus": 1,
		"repl":         bson.M{"a": bson.M{"b": bson.M{"c": 1}}},
	}
	_, _, err := m.RunAdminCommand(context.Background(), "admin", "serverStatus", command)
	require.Error(t, err)
	assert.Zero(t, engine.callCount())
}
