package event

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestObjectIDFromObject(t *testing.T) {
	e := Entry{Object: bson.M{"_id": "abc"}}
	id, ok := e.ObjectID()
	if !ok || id != "abc" {
		t.Fatalf("expected abc, got %q ok=%v", id, ok)
	}
}

func TestObjectIDFallsBackToUpdateSelector(t *testing.T) {
	e := Entry{
		Object: bson.M{"$set": bson.M{"color": "blue"}},
		Update: bson.M{"_id": "xyz"},
	}
	id, ok := e.ObjectID()
	if !ok || id != "xyz" {
		t.Fatalf("expected xyz from o2, got %q ok=%v", id, ok)
	}
}

func TestObjectIDHexEncodesObjectIDs(t *testing.T) {
	oid := primitive.NewObjectID()
	e := Entry{Object: bson.M{"_id": oid}}
	id, ok := e.ObjectID()
	if !ok || id != oid.Hex() {
		t.Fatalf("expected %s, got %q", oid.Hex(), id)
	}
}

func TestObjectIDMissing(t *testing.T) {
	e := Entry{Object: bson.M{"field": 1}}
	if _, ok := e.ObjectID(); ok {
		t.Fatalf("expected no id")
	}
}

func TestChunkAndFilesNamespaces(t *testing.T) {
	if !(Entry{Namespace: "db.fs.chunks"}).IsChunk() {
		t.Fatalf("chunks namespace not detected")
	}
	if (Entry{Namespace: "db.fs.files"}).IsChunk() {
		t.Fatalf("files namespace misdetected as chunks")
	}
	if !(Entry{Namespace: "db.fs.files"}).IsFiles() {
		t.Fatalf("files namespace not detected")
	}
}

func TestApplyExcludeFields(t *testing.T) {
	doc := bson.M{"keep": 1, "drop1": 2, "drop2": 3}
	ApplyExcludeFields(doc, []string{"drop1", "drop2"})
	if len(doc) != 1 {
		t.Fatalf("expected only one field to survive, got %v", doc)
	}
	if _, ok := doc["keep"]; !ok {
		t.Fatalf("kept field was dropped: %v", doc)
	}
	if got := ApplyExcludeFields(nil, []string{"x"}); got != nil {
		t.Fatalf("nil document must pass through")
	}
}
