// Package slurper tails a MongoDB oplog and produces normalized change
// events onto a queue.
package slurper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/LilithWittmann/elasticsearch-river-mongodb/checkpoint"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/event"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/pkg/oplog"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/queue"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/river"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/source"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// reconnectBackoff is the pause between outer-loop iterations (after a
// driver error or a cursor that ended), avoiding a tight reconnect spin.
const reconnectBackoff = 500 * time.Millisecond

// fatalError marks conditions the outer loop must not retry: a missing
// oplog.rs, or local credentials refused after the admin fallback.
// Run exits on one; everything else restarts the loop.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Worker tails the oplog visible through one source.Client (one
// replica set, or one shard of a sharded cluster) and pushes
// normalized Change events onto q.
type Worker struct {
	Name        string
	Client      source.Client
	Def         *river.Definition
	Queue       queue.Queue
	Checkpoints *checkpoint.Store
	Resolver    oplog.ResumeResolver
	Logger      *log.Logger
}

// Run tails the oplog until ctx is cancelled. Each outer iteration
// reconnects and repositions from the stored checkpoint; driver errors
// restart the loop rather than propagating to the supervisor (the
// slurper self-heals or exits its own goroutine).
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := w.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			var fatal *fatalError
			if errors.As(err, &fatal) {
				w.Logger.Printf("slurper[%s]: fatal: %v", w.Name, err)
				return
			}
			w.Logger.Printf("slurper[%s]: %v", w.Name, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) error {
	if err := w.Client.AuthenticateAdmin(ctx, w.Def.MongoAdminUser, w.Def.MongoAdminPass); err != nil {
		w.Logger.Printf("slurper[%s]: admin authentication failed, trying local credentials: %v", w.Name, err)
		if err := w.Client.AuthenticateLocal(ctx, w.Def.MongoDatabase, w.Def.MongoLocalUser, w.Def.MongoLocalPass); err != nil {
			return &fatalError{err: fmt.Errorf("local authentication failed: %w", err)}
		}
	}

	hasOplog, err := w.Client.HasOplog(ctx)
	if err != nil {
		return fmt.Errorf("checking for oplog.rs: %w", err)
	}
	if !hasOplog {
		return &fatalError{err: fmt.Errorf("local.oplog.rs not found, this slurper cannot continue")}
	}

	resumeTs, err := w.resumeTimestamp(ctx)
	if err != nil {
		return fmt.Errorf("resolving resume timestamp: %w", err)
	}

	filter, err := buildFilter(w.Def.MongoDatabase, w.Def.Namespace(), w.Def.GridFSNamespace(), w.Def.MongoGridFS, w.Def.Filter, resumeTs)
	if err != nil {
		return fmt.Errorf("building oplog filter: %w", err)
	}

	cur, err := w.Client.TailOplog(ctx, filter)
	if err != nil {
		return fmt.Errorf("opening oplog cursor: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var entry event.Entry
		if err := cur.Decode(&entry); err != nil {
			w.Logger.Printf("slurper[%s]: failed to decode oplog entry: %v", w.Name, err)
			continue
		}
		if err := w.processEntry(ctx, entry); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.Logger.Printf("slurper[%s]: failed to process oplog entry: %v", w.Name, err)
		}
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("oplog cursor: %w", err)
	}
	if ctx.Err() == nil {
		w.Logger.Printf("slurper[%s]: oplog cursor exhausted without error, reopening", w.Name)
	}
	return nil
}

// resumeTimestamp decides where to tail from: a stored checkpoint
// wins; otherwise an explicit initial timestamp; otherwise a fresh
// sync does a full-collection bootstrap stamped with the oplog's
// current tail.
func (w *Worker) resumeTimestamp(ctx context.Context) (primitive.Timestamp, error) {
	if ts, found, err := w.Checkpoints.Get(ctx, w.Def.Namespace()); err != nil {
		return primitive.Timestamp{}, err
	} else if found {
		return ts, nil
	}

	if w.Def.InitialTimestamp != nil {
		return *w.Def.InitialTimestamp, nil
	}

	t0, err := w.Client.MaxOplogTimestamp(ctx)
	if err != nil {
		return primitive.Timestamp{}, err
	}

	agreed := t0
	if w.Resolver != nil {
		agreed = <-w.Resolver.Resolve(t0)
	}

	if err := w.bootstrapFullCollection(ctx, agreed); err != nil {
		return primitive.Timestamp{}, err
	}
	return agreed, nil
}

// bootstrapFullCollection enqueues every document currently in the
// target collection as a synthetic insert stamped with ts, so the
// oplog can then be tailed strictly after ts without a gap.
func (w *Worker) bootstrapFullCollection(ctx context.Context, ts primitive.Timestamp) error {
	cur, err := w.Client.FindAll(ctx, w.Def.MongoDatabase, w.Def.MongoCollection)
	if err != nil {
		return err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return err
		}
		id, ok := doc["_id"]
		if !ok {
			continue
		}
		event.ApplyExcludeFields(doc, w.Def.ExcludeFields)
		change := event.NewDocument(idString(id), ts, event.OpInsert, w.Def.Namespace(), doc)
		if err := w.Queue.Put(ctx, change); err != nil {
			return err
		}
	}
	return cur.Err()
}

// processEntry turns one oplog entry into zero or more queue events.
func (w *Worker) processEntry(ctx context.Context, entry event.Entry) error {
	if entry.FromMigrate {
		return nil
	}
	if entry.IsChunk() {
		return nil
	}

	if entry.Op == event.OpCommand {
		return w.Queue.Put(ctx, event.NewCommand(entry.Ts, w.Def.MongoDatabase, entry.Object))
	}

	if !w.Def.NamespaceAllowed(entry.Namespace) {
		return nil
	}

	id, hasID := entry.ObjectID()

	if w.Def.MongoGridFS && entry.IsFiles() && (entry.Op == event.OpInsert || entry.Op == event.OpUpdate) {
		if !hasID {
			return fmt.Errorf("gridfs event missing _id")
		}
		file, err := w.Client.GridFSFile(ctx, w.Def.MongoDatabase, w.Def.MongoCollection, id)
		if err != nil {
			w.Logger.Printf("slurper[%s]: cannot find gridfs file %s: %v", w.Name, id, err)
			return nil
		}
		return w.Queue.Put(ctx, event.NewAttachment(id, entry.Ts, w.Def.Namespace(), file))
	}

	if entry.Op == event.OpUpdate {
		return w.fanOutUpdate(ctx, entry)
	}

	if !hasID {
		return nil
	}
	doc := entry.Object
	event.ApplyExcludeFields(doc, w.Def.ExcludeFields)
	return w.Queue.Put(ctx, event.NewDocument(id, entry.Ts, entry.Op, w.Def.Namespace(), doc))
}

// fanOutUpdate handles oplog updates, which carry a mutation rather
// than the new document: the slurper re-queries the source collection
// with the update's selector and emits one event per document
// currently matching it. Documents deleted between the oplog write
// and this re-query silently drop; that is the accepted at-least-once
// semantics. The re-query observes the *current* state, so rapid
// successive updates on the same selector can make an older update's
// event reflect a newer document body: this is eventually-consistent
// latest-state replication, not a point-in-time mutation log.
func (w *Worker) fanOutUpdate(ctx context.Context, entry event.Entry) error {
	cur, err := w.Client.FindMatching(ctx, w.Def.MongoDatabase, w.Def.MongoCollection, entry.Update, w.Def.ExcludeFields)
	if err != nil {
		return err
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return err
		}
		id, ok := doc["_id"]
		if !ok {
			continue
		}
		change := event.NewDocument(idString(id), entry.Ts, event.OpUpdate, w.Def.Namespace(), doc)
		if err := w.Queue.Put(ctx, change); err != nil {
			return err
		}
	}
	return cur.Err()
}

func idString(id interface{}) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	default:
		return fmt.Sprintf("%v", v)
	}
}
