// Package event defines the normalized change event that flows from a
// slurper to the indexer across the queue.
package event

import (
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Op identifies the kind of oplog operation a Change was derived from.
type Op string

const (
	OpInsert  Op = "i"
	OpUpdate  Op = "u"
	OpDelete  Op = "d"
	OpCommand Op = "c"
)

// Kind discriminates the payload carried by a Change.
type Kind int

const (
	KindDocument Kind = iota
	KindAttachment
	KindCommand
)

// AttachmentFile is a GridFS file pulled in full for indexing as a binary
// attachment. Content is raw bytes; the indexer base64-encodes it when it
// builds the sink document.
type AttachmentFile struct {
	ID          string
	Filename    string
	ContentType string
	MD5         string
	Length      int64
	ChunkSize   int32
	Content     []byte
}

// Change is the tagged variant produced by a slurper and consumed by the
// indexer. Exactly one of Doc, Attachment, Command is populated, selected
// by Kind.
type Change struct {
	ID         string
	Ts         primitive.Timestamp
	Op         Op
	Kind       Kind
	Namespace  string
	Doc        bson.M
	Attachment *AttachmentFile
	Command    bson.M
}

// NewDocument builds a Change carrying a plain document body.
func NewDocument(id string, ts primitive.Timestamp, op Op, ns string, doc bson.M) *Change {
	return &Change{ID: id, Ts: ts, Op: op, Kind: KindDocument, Namespace: ns, Doc: doc}
}

// NewAttachment builds a Change carrying a GridFS file.
func NewAttachment(id string, ts primitive.Timestamp, ns string, file *AttachmentFile) *Change {
	return &Change{ID: id, Ts: ts, Op: OpInsert, Kind: KindAttachment, Namespace: ns, Attachment: file}
}

// NewCommand builds a Change carrying a raw command document (drop, etc).
func NewCommand(ts primitive.Timestamp, ns string, cmd bson.M) *Change {
	return &Change{Ts: ts, Op: OpCommand, Kind: KindCommand, Namespace: ns, Command: cmd}
}

// ApplyExcludeFields removes configured fields from a document in place.
func ApplyExcludeFields(doc bson.M, exclude []string) bson.M {
	if len(exclude) == 0 || doc == nil {
		return doc
	}
	for _, field := range exclude {
		delete(doc, field)
	}
	return doc
}
