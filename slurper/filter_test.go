package slurper

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestBuildFilterIncludesCommandNamespace(t *testing.T) {
	filter, err := buildFilter("testdb", "testdb.items", "testdb.items.files", false, "", primitive.Timestamp{})
	if err != nil {
		t.Fatalf("buildFilter: %v", err)
	}
	and := filter["$and"].([]bson.M)
	nsOr := and[0]["$or"].([]bson.M)
	if nsOr[0]["ns"] != "testdb.items" {
		t.Fatalf("expected namespace clause first, got %v", nsOr[0])
	}
	if nsOr[1]["ns"] != "testdb.$cmd" {
		t.Fatalf("expected $cmd sentinel so drops are observed, got %v", nsOr[1])
	}
}

func TestBuildFilterGridFSTailsFilesNamespace(t *testing.T) {
	filter, err := buildFilter("testdb", "testdb.fs", "testdb.fs.files", true, "", primitive.Timestamp{})
	if err != nil {
		t.Fatalf("buildFilter: %v", err)
	}
	and := filter["$and"].([]bson.M)
	nsOr := and[0]["$or"].([]bson.M)
	if nsOr[0]["ns"] != "testdb.fs.files" {
		t.Fatalf("gridfs rivers must tail the .files sentinel, got %v", nsOr[0])
	}
	if nsOr[1]["ns"] != "testdb.$cmd" {
		t.Fatalf("expected $cmd sentinel for gridfs rivers too, got %v", nsOr[1])
	}
}

func TestBuildFilterUserFilterSparesDeletes(t *testing.T) {
	filter, err := buildFilter("testdb", "testdb.items", "", false, `{"color":"red"}`, primitive.Timestamp{})
	if err != nil {
		t.Fatalf("buildFilter: %v", err)
	}
	and := filter["$and"].([]bson.M)
	if len(and) != 2 {
		t.Fatalf("expected ns clause + user clause, got %d", len(and))
	}
	userOr := and[1]["$or"].([]bson.M)
	if userOr[0]["op"] != "d" {
		t.Fatalf("deletes must always pass the user filter, got %v", userOr[0])
	}
}

func TestBuildFilterRejectsBadUserFilter(t *testing.T) {
	if _, err := buildFilter("testdb", "testdb.items", "", false, "{not json", primitive.Timestamp{}); err == nil {
		t.Fatalf("expected an error for an unparseable user filter")
	}
}

func TestBuildFilterOmitsZeroResumeTimestamp(t *testing.T) {
	filter, err := buildFilter("testdb", "testdb.items", "", false, "", primitive.Timestamp{})
	if err != nil {
		t.Fatalf("buildFilter: %v", err)
	}
	if len(filter["$and"].([]bson.M)) != 1 {
		t.Fatalf("a zero resume timestamp must not add a ts clause: %v", filter)
	}

	filter, err = buildFilter("testdb", "testdb.items", "", false, "", primitive.Timestamp{T: 5, I: 1})
	if err != nil {
		t.Fatalf("buildFilter: %v", err)
	}
	if !filterResumesAfter(filter, primitive.Timestamp{T: 5, I: 1}) {
		t.Fatalf("expected a ts > resume clause: %v", filter)
	}
}
