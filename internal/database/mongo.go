package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoNamespaceExists is the server code for CreateCollection on an
// existing collection.
const mongoNamespaceExists = 48

type MongoStore struct {
	client   *mongo.Client
	db       *mongo.Database
	endpoint string
}

func OpenMongo(ctx context.Context, cfg Config) (Store, error) {
	opts := options.Client().ApplyURI(cfg.DSN)
	if comps := mongoCompressors(cfg.Compression); len(comps) > 0 {
		opts.SetCompressors(comps)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	name := cfg.Database
	if name == "" {
		name = "benchmarkdb"
	}
	return &MongoStore{
		client:   client,
		db:       client.Database(name),
		endpoint: redactDSN(cfg.DSN),
	}, nil
}

func mongoCompressors(compression string) []string {
	switch strings.ToLower(compression) {
	case "gzip", "zlib":
		return []string{"zlib"}
	case "snappy":
		return []string{"snappy"}
	case "zstd":
		return []string{"zstd"}
	}
	return nil
}

func (md *MongoStore) Endpoint() string { return md.endpoint }

func (md *MongoStore) Dialect() string { return DialectMongo }

func (md *MongoStore) Close() error {
	return md.client.Disconnect(context.Background())
}

func (md *MongoStore) EnsurePartition(ctx context.Context, partition string) error {
	if err := ValidatePartition(partition); err != nil {
		return err
	}
	err := md.db.CreateCollection(ctx, partition)
	var ce mongo.CommandError
	if err != nil && !(errors.As(err, &ce) && ce.Code == mongoNamespaceExists) {
		return err
	}
	_, err = md.db.Collection(partition).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "measurement", Value: 1}, {Key: "run_id", Value: 1}, {Key: "ts", Value: 1}},
	})
	return err
}

func (md *MongoStore) WriteBatch(ctx context.Context, partition string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	docs := make([]interface{}, len(points))
	for i, p := range points {
		docs[i] = bson.M{
			"measurement": p.Measurement,
			"run_id":      tagOrEmpty(p, TagRunID),
			"writer_id":   tagOrEmpty(p, TagWriterID),
			"device_id":   tagOrEmpty(p, TagDeviceID),
			"ts":          p.UnixNano(),
			"fields":      p.Fields,
		}
	}
	_, err := md.db.Collection(partition).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	return err
}

// RunQuery runs an aggregation pipeline given as extended JSON of the form
// {"pipeline": [...]}.
func (md *MongoStore) RunQuery(ctx context.Context, partition, queryText string) (QueryStats, error) {
	var stats QueryStats
	var q struct {
		Pipeline []bson.D `bson:"pipeline"`
	}
	if err := bson.UnmarshalExtJSON([]byte(queryText), false, &q); err != nil {
		return stats, fmt.Errorf("parse pipeline: %w", err)
	}

	start := time.Now()
	cursor, err := md.db.Collection(partition).Aggregate(ctx, q.Pipeline)
	if err != nil {
		return stats, err
	}
	defer cursor.Close(context.Background())

	for cursor.Next(ctx) {
		if stats.Rows == 0 {
			stats.TimeToFirstRow = time.Since(start)
		}
		stats.Rows++
		stats.Bytes += int64(len(cursor.Current))
	}
	return stats, cursor.Err()
}

func mongoFilter(start, stop time.Time, measurement, runID string) bson.M {
	filter := bson.M{}
	if !start.IsZero() || !stop.IsZero() {
		lo, hi := nanosRange(start, stop)
		filter["ts"] = bson.M{"$gte": lo, "$lt": hi}
	}
	if measurement != "" {
		filter["measurement"] = measurement
	}
	if runID != "" {
		filter["run_id"] = runID
	}
	return filter
}

func (md *MongoStore) DeleteByPredicate(ctx context.Context, partition string, start, stop time.Time, pred Predicate) error {
	_, err := md.db.Collection(partition).DeleteMany(ctx, mongoFilter(start, stop, pred.Measurement, pred.RunID))
	return err
}

func (md *MongoStore) CountPoints(ctx context.Context, partition, measurement, runID string) (int64, error) {
	return md.db.Collection(partition).CountDocuments(ctx, mongoFilter(time.Time{}, time.Time{}, measurement, runID))
}

func (md *MongoStore) DropPartition(ctx context.Context, partition string) error {
	return md.db.Collection(partition).Drop(ctx)
}
