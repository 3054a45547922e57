// Package source defines the MongoDB contract required by the slurper,
// and an implementation backed by go.mongodb.org/mongo-driver.
package source

import (
	"context"

	"github.com/LilithWittmann/elasticsearch-river-mongodb/event"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ShardServer names one shard discovered from config.shards along with
// the replica set member hosts backing it.
type ShardServer struct {
	ReplicaSetName string
	Hosts          []string
}

// Cursor abstracts both a regular find cursor and a tailable,
// await-data oplog cursor: Next blocks for tailable cursors until data
// arrives or ctx is cancelled.
type Cursor interface {
	Next(ctx context.Context) bool
	Decode(v interface{}) error
	Err() error
	Close(ctx context.Context) error
}

// Client is the source-side contract consumed by package slurper.
type Client interface {
	// IsMongos reports whether this connection is talking to a mongos
	// router (serverStatus.process contains "mongos").
	IsMongos(ctx context.Context) (bool, error)
	// Shards lists the shards of a sharded cluster from config.shards.
	Shards(ctx context.Context) ([]ShardServer, error)
	// AuthenticateAdmin authenticates against the admin database;
	// callers fall back to local credentials on failure.
	AuthenticateAdmin(ctx context.Context, user, password string) error
	// AuthenticateLocal authenticates against db directly, the fallback
	// path when admin authentication is refused. A failure here is
	// fatal for the calling slurper.
	AuthenticateLocal(ctx context.Context, db, user, password string) error
	// HasOplog reports whether local.oplog.rs exists on this server.
	HasOplog(ctx context.Context) (bool, error)
	// MaxOplogTimestamp returns the current tail of the oplog, used as
	// T0 for a full-collection bootstrap.
	MaxOplogTimestamp(ctx context.Context) (primitive.Timestamp, error)
	// TailOplog opens a tailable, await-data cursor over local.oplog.rs
	// filtered by filter, sorted natural ascending.
	TailOplog(ctx context.Context, filter bson.M) (Cursor, error)
	// FindAll opens a plain forward cursor over every document in
	// db.collection, used for the full-collection bootstrap.
	FindAll(ctx context.Context, db, collection string) (Cursor, error)
	// FindMatching re-queries db.collection for every document
	// currently matching selector, projecting out exclude, used by
	// update fan-out.
	FindMatching(ctx context.Context, db, collection string, selector bson.M, exclude []string) (Cursor, error)
	// GridFSFile fetches a full GridFS file by id from bucket in db.
	GridFSFile(ctx context.Context, db, bucket, id string) (*event.AttachmentFile, error)
	// Close releases the underlying driver connection. Called by the
	// supervisor's close() when the pipeline is disabled.
	Close(ctx context.Context) error
}
