package event

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Entry is a decoded row read straight off local.oplog.rs.
type Entry struct {
	Op          Op                  `bson:"op"`
	Namespace   string              `bson:"ns"`
	Ts          primitive.Timestamp `bson:"ts"`
	Object      bson.M              `bson:"o"`
	Update      bson.M              `bson:"o2"`
	FromMigrate bool                `bson:"fromMigrate"`
}

// IsChunk reports whether the entry's namespace is a GridFS chunk
// collection, which carries no independent document identity and is
// always suppressed (the .files sentinel represents the logical file).
func (e Entry) IsChunk() bool {
	return strings.HasSuffix(e.Namespace, ".chunks")
}

// IsFiles reports whether the entry's namespace is a GridFS metadata
// collection.
func (e Entry) IsFiles() bool {
	return strings.HasSuffix(e.Namespace, ".files")
}

// ObjectID extracts the document identity from o, falling back to o2 for
// updates where the insert/delete payload has no "_id" of its own.
func (e Entry) ObjectID() (string, bool) {
	if id, ok := e.Object["_id"]; ok {
		return idToString(id), true
	}
	if id, ok := e.Update["_id"]; ok {
		return idToString(id), true
	}
	return "", false
}

func idToString(id interface{}) string {
	switch v := id.(type) {
	case primitive.ObjectID:
		return v.Hex()
	default:
		return fmt.Sprintf("%v", v)
	}
}
