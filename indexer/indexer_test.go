package indexer

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/LilithWittmann/elasticsearch-river-mongodb/checkpoint"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/event"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/queue"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/river"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/sink"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/transform"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type fakeSink struct {
	bulks [][]sink.Action
	mapping map[string]map[string]interface{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{mapping: map[string]map[string]interface{}{}}
}

func (f *fakeSink) IndexExists(ctx context.Context, index string) (bool, error) { return true, nil }
func (f *fakeSink) CreateIndex(ctx context.Context, index string) error          { return nil }
func (f *fakeSink) PutMapping(ctx context.Context, index, typeName string, m map[string]interface{}) error {
	f.mapping[index+"/"+typeName] = m
	return nil
}
func (f *fakeSink) DeleteMapping(ctx context.Context, index, typeName string) error {
	delete(f.mapping, index+"/"+typeName)
	return nil
}
func (f *fakeSink) GetMapping(ctx context.Context, index, typeName string) (map[string]interface{}, bool, error) {
	m, ok := f.mapping[index+"/"+typeName]
	return m, ok, nil
}
func (f *fakeSink) Refresh(ctx context.Context, index string) error { return nil }
func (f *fakeSink) GetDocument(ctx context.Context, index, typeName, id string) (map[string]interface{}, bool, error) {
	return nil, false, nil
}
func (f *fakeSink) Bulk(ctx context.Context, actions []sink.Action) (*sink.BulkResult, error) {
	f.bulks = append(f.bulks, actions)
	return &sink.BulkResult{Succeeded: len(actions)}, nil
}

func testDefinition() *river.Definition {
	return &river.Definition{
		RiverName:       "testdb.items",
		RiverIndexName:  "_river",
		MongoDatabase:   "testdb",
		MongoCollection: "items",
		IndexName:       "items",
		TypeName:        "mongodb",
		BulkSize:        10,
		BulkTimeout:     50 * time.Millisecond,
		DropCollection:  true,
	}
}

func newTestIndexer(fs *fakeSink, q queue.Queue) *Indexer {
	def := testDefinition()
	return &Indexer{
		Def:         def,
		Queue:       q,
		Sink:        fs,
		Checkpoints: checkpoint.NewStore(fs, def.RiverIndexName, def.RiverName),
		Logger:      log.New(os.Stdout, "test ", log.LstdFlags),
	}
}

func TestRunBatchInsertAndCheckpoint(t *testing.T) {
	fs := newFakeSink()
	q := queue.New(queue.Unbounded)
	ix := newTestIndexer(fs, q)

	ctx := context.Background()
	change := event.NewDocument("abc", primitive.Timestamp{T: 100, I: 1}, event.OpInsert, "testdb.items", bson.M{"_id": "abc", "name": "widget"})
	if err := q.Put(ctx, change); err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := ix.runBatch(ctx); err != nil {
		t.Fatalf("runBatch: %v", err)
	}

	if len(fs.bulks) != 1 {
		t.Fatalf("expected exactly one bulk submission, got %d", len(fs.bulks))
	}
	actions := fs.bulks[0]
	if len(actions) != 2 {
		t.Fatalf("expected 1 document action + 1 checkpoint action, got %d", len(actions))
	}
	if actions[0].Kind != sink.ActionIndex || actions[0].ID != "abc" || actions[0].Index != "items" {
		t.Fatalf("unexpected document action: %+v", actions[0])
	}
	if actions[1].ID != "testdb.items" || actions[1].Index != "_river" {
		t.Fatalf("unexpected checkpoint action: %+v", actions[1])
	}
}

func TestRunBatchUpdateEmitsDeleteThenIndex(t *testing.T) {
	fs := newFakeSink()
	q := queue.New(queue.Unbounded)
	ix := newTestIndexer(fs, q)

	ctx := context.Background()
	change := event.NewDocument("abc", primitive.Timestamp{T: 100, I: 1}, event.OpUpdate, "testdb.items", bson.M{"_id": "abc", "name": "updated"})
	if err := q.Put(ctx, change); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := ix.runBatch(ctx); err != nil {
		t.Fatalf("runBatch: %v", err)
	}

	actions := fs.bulks[0]
	if len(actions) != 3 {
		t.Fatalf("expected delete+index+checkpoint, got %d", len(actions))
	}
	if actions[0].Kind != sink.ActionDelete || actions[1].Kind != sink.ActionIndex {
		t.Fatalf("expected delete before index for update, got %+v", actions[:2])
	}
}

func TestRunBatchDropsEventWithMissingID(t *testing.T) {
	fs := newFakeSink()
	q := queue.New(queue.Unbounded)
	ix := newTestIndexer(fs, q)

	ctx := context.Background()
	change := event.NewDocument("", primitive.Timestamp{T: 100, I: 1}, event.OpInsert, "testdb.items", bson.M{"name": "no id"})
	if err := q.Put(ctx, change); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := ix.runBatch(ctx); err != nil {
		t.Fatalf("runBatch: %v", err)
	}
	if len(fs.bulks) != 0 {
		t.Fatalf("expected no bulk submission for an id-less event, got %d", len(fs.bulks))
	}
}

func TestRunBatchDropCommandResetsPendingActions(t *testing.T) {
	fs := newFakeSink()
	fs.mapping["items/mongodb"] = map[string]interface{}{"properties": map[string]interface{}{"name": map[string]interface{}{"type": "text"}}}
	q := queue.New(queue.Unbounded)
	ix := newTestIndexer(fs, q)

	ctx := context.Background()
	insert := event.NewDocument("abc", primitive.Timestamp{T: 100, I: 1}, event.OpInsert, "testdb.items", bson.M{"_id": "abc"})
	drop := event.NewCommand(primitive.Timestamp{T: 100, I: 2}, "testdb", bson.M{"drop": "items"})
	if err := q.Put(ctx, insert); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := q.Put(ctx, drop); err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := ix.runBatch(ctx); err != nil {
		t.Fatalf("runBatch: %v", err)
	}

	if len(fs.bulks) != 1 {
		t.Fatalf("expected one bulk submission, got %d", len(fs.bulks))
	}
	actions := fs.bulks[0]
	if len(actions) != 1 {
		t.Fatalf("expected only the checkpoint action to survive the drop, got %d: %+v", len(actions), actions)
	}
	if actions[0].ID != "testdb.items" {
		t.Fatalf("expected surviving action to be the checkpoint advance, got %+v", actions[0])
	}
	if _, ok := fs.mapping["items/mongodb"]; !ok {
		t.Fatalf("expected mapping to be reinstalled after drop")
	}
}

func TestRunBatchIgnoredTransformStillAdvancesCheckpoint(t *testing.T) {
	fs := newFakeSink()
	q := queue.New(queue.Unbounded)
	ix := newTestIndexer(fs, q)
	ix.Transform = ignoreAll{}

	ctx := context.Background()
	change := event.NewDocument("abc", primitive.Timestamp{T: 200, I: 1}, event.OpInsert, "testdb.items", bson.M{"_id": "abc"})
	if err := q.Put(ctx, change); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := ix.runBatch(ctx); err != nil {
		t.Fatalf("runBatch: %v", err)
	}

	if len(fs.bulks) != 1 || len(fs.bulks[0]) != 1 {
		t.Fatalf("expected only the checkpoint action when the document is ignored, got %+v", fs.bulks)
	}
}

type ignoreAll struct{}

func (ignoreAll) Apply(ctx *transform.Context) (*transform.Context, error) {
	ctx.Ignore = true
	return ctx, nil
}

func TestRunBatchAttachmentEnvelope(t *testing.T) {
	fs := newFakeSink()
	q := queue.New(queue.Unbounded)
	ix := newTestIndexer(fs, q)

	ctx := context.Background()
	file := &event.AttachmentFile{
		ID:       "f1",
		Filename: "hello.txt",
		MD5:      "5d41402abc4b2a76b9719d911017c592",
		Length:   5,
		Content:  []byte("hello"),
	}
	change := event.NewAttachment("f1", primitive.Timestamp{T: 100, I: 1}, "testdb.items.files", file)
	if err := q.Put(ctx, change); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := ix.runBatch(ctx); err != nil {
		t.Fatalf("runBatch: %v", err)
	}

	actions := fs.bulks[0]
	if len(actions) != 2 {
		t.Fatalf("expected attachment index + checkpoint, got %d", len(actions))
	}
	doc := actions[0].Doc.(map[string]interface{})
	if doc["content"] != "aGVsbG8=" {
		t.Fatalf("expected base64 content in the sink document, got %v", doc["content"])
	}
	if doc["filename"] != "hello.txt" || doc["length"] != int64(5) {
		t.Fatalf("attachment metadata lost: %v", doc)
	}
}

func TestRunBatchInjectsIncludeCollectionField(t *testing.T) {
	fs := newFakeSink()
	q := queue.New(queue.Unbounded)
	ix := newTestIndexer(fs, q)
	ix.Def.IncludeCollectionField = "_collection"

	ctx := context.Background()
	change := event.NewDocument("abc", primitive.Timestamp{T: 100, I: 1}, event.OpInsert, "testdb.items", bson.M{"_id": "abc"})
	if err := q.Put(ctx, change); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := ix.runBatch(ctx); err != nil {
		t.Fatalf("runBatch: %v", err)
	}

	doc := fs.bulks[0][0].Doc.(map[string]interface{})
	if doc["_collection"] != "items" {
		t.Fatalf("expected the source collection name injected, got %v", doc["_collection"])
	}
}

func TestRunBatchStopsAccumulatingAtBulkSize(t *testing.T) {
	fs := newFakeSink()
	q := queue.New(queue.Unbounded)
	ix := newTestIndexer(fs, q)
	ix.Def.BulkSize = 2

	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		change := event.NewDocument(id, primitive.Timestamp{T: 100, I: uint32(i + 1)}, event.OpInsert, "testdb.items", bson.M{"_id": id})
		if err := q.Put(ctx, change); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := ix.runBatch(ctx); err != nil {
		t.Fatalf("runBatch: %v", err)
	}

	// Two document actions plus the checkpoint; "c" waits for the
	// next batch.
	if len(fs.bulks) != 1 || len(fs.bulks[0]) != 3 {
		t.Fatalf("expected the batch capped at bulk-size, got %+v", fs.bulks)
	}
	if err := ix.runBatch(ctx); err != nil {
		t.Fatalf("second runBatch: %v", err)
	}
	if len(fs.bulks) != 2 || fs.bulks[1][0].ID != "c" {
		t.Fatalf("expected the overflow event in the next batch, got %+v", fs.bulks)
	}
}
