// Package indexer drains the event queue, batches changes into
// Elasticsearch bulk requests, applies the optional transformation
// script, writes the sink, and checkpoints progress.
package indexer

import (
	"context"
	"log"
	"time"

	"github.com/LilithWittmann/elasticsearch-river-mongodb/checkpoint"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/docbuild"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/event"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/mapping"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/queue"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/river"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/sink"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/transform"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Indexer is the single consumer of the event queue.
type Indexer struct {
	Def         *river.Definition
	Queue       queue.Queue
	Sink        sink.Client
	Checkpoints *checkpoint.Store
	Transform   transform.Transformer
	Logger      *log.Logger
}

// stats accumulates one batch's action counts for the log line emitted
// at the end of each loop turn.
type stats struct {
	inserted int
	updated  int
	deleted  int
}

func (s *stats) reset() { *s = stats{} }

// Run loops while ctx is not cancelled, processing one batch per
// iteration. On cancellation any buffered, not-yet-submitted events for
// the in-flight batch are discarded; they are replayed from the stored
// checkpoint on the next run.
func (ix *Indexer) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := ix.runBatch(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			ix.Logger.Printf("indexer: %v", err)
		}
	}
}

func (ix *Indexer) runBatch(ctx context.Context) error {
	start := time.Now()
	var st stats
	var actions []sink.Action
	var maxTs primitive.Timestamp
	var haveTs bool

	first, err := ix.Queue.Take(ctx)
	if err != nil {
		return err
	}
	if ts, ok := ix.accumulate(ctx, first, &actions, &st); ok {
		maxTs, haveTs = ts, true
	}

	for {
		if actionCount(actions) >= ix.Def.BulkSize {
			break
		}
		c, ok, err := ix.Queue.Poll(ctx, ix.Def.BulkTimeout)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if ts, advanced := ix.accumulate(ctx, c, &actions, &st); advanced {
			if !haveTs || primitive.CompareTimestamp(ts, maxTs) > 0 {
				maxTs, haveTs = ts, true
			}
		}
	}

	if haveTs {
		actions = append(actions, ix.Checkpoints.Action(ix.Def.Namespace(), maxTs))
	}

	if len(actions) == 0 {
		return nil
	}

	result, err := ix.Sink.Bulk(ctx, actions)
	if err != nil {
		return err
	}
	for _, itemErr := range result.PerItemErrors {
		ix.Logger.Printf("indexer: bulk item %d failed: %s", itemErr.ActionIndex, itemErr.Reason)
	}

	ix.logStats(st, start)
	return nil
}

// accumulate transforms one Change into zero or more bulk actions
// appended to actions, returning the timestamp the checkpoint should
// advance to if this event should count toward it.
func (ix *Indexer) accumulate(ctx context.Context, c *event.Change, actions *[]sink.Action, st *stats) (primitive.Timestamp, bool) {
	if c.ID == "" && c.Kind != event.KindCommand {
		ix.Logger.Printf("indexer: dropping event with no id for op %s", c.Op)
		return primitive.Timestamp{}, false
	}

	if c.Kind == event.KindCommand {
		ix.handleCommand(ctx, c, actions, st)
		return c.Ts, true
	}

	doc := ix.buildDocument(c)
	if ix.Def.IncludeCollectionField != "" {
		doc[ix.Def.IncludeCollectionField] = ix.Def.MongoCollection
	}

	tctx := &transform.Context{
		Document:  doc,
		Operation: string(c.Op),
		ID:        c.ID,
		Index:     ix.Def.IndexName,
		Type:      ix.Def.TypeName,
	}

	if ix.Transform != nil {
		result, err := ix.Transform.Apply(tctx)
		if err != nil {
			ix.Logger.Printf("indexer: script evaluation failed for id %s, keeping original document: %v", c.ID, err)
		} else {
			tctx = result
		}
	}

	if tctx.Ignore {
		return c.Ts, true
	}
	if tctx.Deleted {
		tctx.Operation = string(event.OpDelete)
	}

	index := orDefault(tctx.Index, ix.Def.IndexName)
	typeName := orDefault(tctx.Type, ix.Def.TypeName)
	id := orDefault(tctx.ID, c.ID)

	switch event.Op(tctx.Operation) {
	case event.OpInsert:
		*actions = append(*actions, sink.Action{Kind: sink.ActionIndex, Index: index, Type: typeName, ID: id, Parent: tctx.Parent, Routing: tctx.Routing, Doc: tctx.Document})
		st.inserted++
	case event.OpUpdate:
		*actions = append(*actions, sink.Action{Kind: sink.ActionDelete, Index: index, Type: typeName, ID: id, Parent: tctx.Parent, Routing: tctx.Routing})
		*actions = append(*actions, sink.Action{Kind: sink.ActionIndex, Index: index, Type: typeName, ID: id, Parent: tctx.Parent, Routing: tctx.Routing, Doc: tctx.Document})
		st.updated++
	case event.OpDelete:
		*actions = append(*actions, sink.Action{Kind: sink.ActionDelete, Index: index, Type: typeName, ID: id, Parent: tctx.Parent, Routing: tctx.Routing})
		st.deleted++
	}

	return c.Ts, true
}

// buildDocument turns a Change's payload into the map that becomes the
// sink document body: a GridFS attachment is replaced with its base64
// envelope; a plain document is converted to its JSON-safe form.
func (ix *Indexer) buildDocument(c *event.Change) map[string]interface{} {
	if c.Kind == event.KindAttachment {
		return docbuild.AttachmentEnvelope(c.Attachment)
	}
	return docbuild.ForJSON(c.Doc)
}

// handleCommand translates a replicated database command:
// a drop of the configured collection, with the drop-collection policy
// enabled, resets the in-flight batch, refreshes the index, and
// preserves/reinstalls any customized mapping; anything else produces
// no sink mutation.
func (ix *Indexer) handleCommand(ctx context.Context, c *event.Change, actions *[]sink.Action, st *stats) {
	dropped, _ := c.Command["drop"].(string)
	if dropped == "" || dropped != ix.Def.MongoCollection {
		return
	}
	if !ix.Def.DropCollection {
		ix.Logger.Printf("indexer: ignoring drop of %s, drop-collection is disabled", dropped)
		return
	}

	ix.Logger.Printf("indexer: collection %s dropped, resetting pending batch and restoring mapping", dropped)
	if err := ix.Sink.Refresh(ctx, ix.Def.IndexName); err != nil {
		ix.Logger.Printf("indexer: failed to refresh index %s after drop: %v", ix.Def.IndexName, err)
	}
	if err := mapping.RestoreMapping(ctx, ix.Logger, ix.Sink, ix.Def.IndexName, ix.Def.TypeName); err != nil {
		ix.Logger.Printf("indexer: failed to restore mapping on %s/%s after drop: %v", ix.Def.IndexName, ix.Def.TypeName, err)
	}
	*actions = (*actions)[:0]
	st.reset()
}

func (ix *Indexer) logStats(st stats, start time.Time) {
	total := st.inserted + st.updated + st.deleted
	elapsed := time.Since(start).Seconds()
	perSecond := float64(total)
	if elapsed > 0 {
		perSecond = float64(total) / elapsed
	}
	ix.Logger.Printf("indexer: indexed %d documents (%d inserts, %d updates, %d deletes), %.2f documents/sec",
		total, st.inserted, st.updated, st.deleted, perSecond)
}

func actionCount(actions []sink.Action) int {
	return len(actions)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
