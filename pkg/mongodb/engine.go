// Package mongodb is the execution-engine collaborator behind the guard
// layer. The guards hand it already-sanitized filters, pipelines and
// commands; it does not interpret engine failures beyond returning them.
package mongodb

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bluwork/mongo-scout-mcp-sub000/pkg/guards/treewalk"
)

// Engine is the call surface the guard chain executes against.
type Engine interface {
	Find(ctx context.Context, collection string, filter bson.M, limit int64) ([]bson.M, error)
	Aggregate(ctx context.Context, collection string, pipeline []interface{}) ([]bson.M, error)
	BulkWrite(ctx context.Context, collection string, operations []interface{}) (bson.M, error)
	RunCommand(ctx context.Context, database, commandName string, command bson.M) (bson.M, error)
}

type engine struct {
	client   *mongo.Client
	database string
}

// Connect dials the server and verifies the connection.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return client, nil
}

func NewEngine(client *mongo.Client, database string) Engine {
	return &engine{client: client, database: database}
}

func (e *engine) Find(ctx context.Context, collection string, filter bson.M, limit int64) ([]bson.M, error) {
	opts := options.Find()
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := e.client.Database(e.database).Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var results []bson.M
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *engine) Aggregate(ctx context.Context, collection string, pipeline []interface{}) ([]bson.M, error) {
	cursor, err := e.client.Database(e.database).Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var results []bson.M
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (e *engine) BulkWrite(ctx context.Context, collection string, operations []interface{}) (bson.M, error) {
	models := make([]mongo.WriteModel, 0, len(operations))
	for i, op := range operations {
		model, err := toWriteModel(op)
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i+1, err)
		}
		models = append(models, model)
	}
	result, err := e.client.Database(e.database).Collection(collection).BulkWrite(ctx, models)
	if err != nil {
		return nil, err
	}
	return bson.M{
		"insertedCount": result.InsertedCount,
		"matchedCount":  result.MatchedCount,
		"modifiedCount": result.ModifiedCount,
		"deletedCount":  result.DeletedCount,
		"upsertedCount": result.UpsertedCount,
	}, nil
}

// RunCommand reorders the command document so the command name leads, as the
// server requires, then executes it.
func (e *engine) RunCommand(ctx context.Context, database, commandName string, command bson.M) (bson.M, error) {
	doc := bson.D{}
	for key, value := range command {
		if strings.EqualFold(key, commandName) {
			doc = append(bson.D{{Key: key, Value: value}}, doc...)
			continue
		}
		doc = append(doc, bson.E{Key: key, Value: value})
	}
	if len(doc) == 0 || !strings.EqualFold(doc[0].Key, commandName) {
		doc = append(bson.D{{Key: commandName, Value: 1}}, doc...)
	}
	var result bson.M
	if err := e.client.Database(database).RunCommand(ctx, doc).Decode(&result); err != nil {
		return nil, err
	}
	return result, nil
}

func toWriteModel(op interface{}) (mongo.WriteModel, error) {
	m, ok := treewalk.AsMap(op)
	if !ok || len(m) != 1 {
		return nil, fmt.Errorf("expected a single-key operation object")
	}
	var opType string
	var rawSpec interface{}
	for key, value := range m {
		opType, rawSpec = key, value
	}
	spec, _ := treewalk.AsMap(rawSpec)
	if spec == nil {
		spec = map[string]interface{}{}
	}
	filter := spec["filter"]
	if filter == nil {
		filter = bson.M{}
	}

	switch opType {
	case "insertOne":
		return mongo.NewInsertOneModel().SetDocument(spec["document"]), nil
	case "updateOne":
		return mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(spec["update"]), nil
	case "updateMany":
		return mongo.NewUpdateManyModel().SetFilter(filter).SetUpdate(spec["update"]), nil
	case "deleteOne":
		return mongo.NewDeleteOneModel().SetFilter(filter), nil
	case "deleteMany":
		return mongo.NewDeleteManyModel().SetFilter(filter), nil
	case "replaceOne":
		return mongo.NewReplaceOneModel().SetFilter(filter).SetReplacement(spec["replacement"]), nil
	default:
		return nil, fmt.Errorf("unknown operation type %q", opType)
	}
}
