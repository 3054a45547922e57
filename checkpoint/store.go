// Package checkpoint persists and reads the per-namespace last-applied
// oplog timestamp, stored as a document in the sink itself.
package checkpoint

import (
	"context"

	"github.com/LilithWittmann/elasticsearch-river-mongodb/sink"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// TypeField is the top-level key every checkpoint document is nested
// under.
const TypeField = "mongodb"

// TimestampField is the field holding the serialized timestamp.
const TimestampField = "_last_ts"

// Store reads and writes checkpoint records in riverIndex/riverName,
// keyed by namespace (db.collection).
type Store struct {
	client     sink.Client
	riverIndex string
	riverName  string
}

// NewStore builds a Store bound to one river's checkpoint home.
func NewStore(client sink.Client, riverIndex, riverName string) *Store {
	return &Store{client: client, riverIndex: riverIndex, riverName: riverName}
}

// Get reads the last checkpointed timestamp for namespace. found is
// false when no checkpoint document exists yet (fresh sync).
func (s *Store) Get(ctx context.Context, namespace string) (ts primitive.Timestamp, found bool, err error) {
	doc, exists, err := s.client.GetDocument(ctx, s.riverIndex, s.riverName, namespace)
	if err != nil || !exists {
		return primitive.Timestamp{}, false, err
	}
	inner, ok := doc[TypeField].(map[string]interface{})
	if !ok {
		return primitive.Timestamp{}, false, nil
	}
	raw, ok := inner[TimestampField]
	if !ok {
		return primitive.Timestamp{}, false, nil
	}
	t, i, ok := decodeTimestamp(raw)
	if !ok {
		return primitive.Timestamp{}, false, nil
	}
	return primitive.Timestamp{T: t, I: i}, true, nil
}

// Action builds the bulk index action that advances the checkpoint for
// namespace to ts. The indexer appends exactly one of these to every
// bulk it submits, so the checkpoint only ever advances together with
// the batch whose effects it covers.
func (s *Store) Action(namespace string, ts primitive.Timestamp) sink.Action {
	return sink.Action{
		Kind:  sink.ActionIndex,
		Index: s.riverIndex,
		Type:  s.riverName,
		ID:    namespace,
		Doc: map[string]interface{}{
			TypeField: map[string]interface{}{
				TimestampField: encodeTimestamp(ts),
			},
		},
	}
}

func encodeTimestamp(ts primitive.Timestamp) map[string]interface{} {
	return map[string]interface{}{"t": ts.T, "i": ts.I}
}

func decodeTimestamp(raw interface{}) (t, i uint32, ok bool) {
	m, isMap := raw.(map[string]interface{})
	if !isMap {
		return 0, 0, false
	}
	tf, tOK := toUint32(m["t"])
	iff, iOK := toUint32(m["i"])
	if !tOK || !iOK {
		return 0, 0, false
	}
	return tf, iff, true
}

func toUint32(v interface{}) (uint32, bool) {
	switch n := v.(type) {
	case float64:
		return uint32(n), true
	case int:
		return uint32(n), true
	case int32:
		return uint32(n), true
	case int64:
		return uint32(n), true
	case uint32:
		return n, true
	default:
		return 0, false
	}
}
