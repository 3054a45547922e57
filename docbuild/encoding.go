// Package docbuild turns a decoded BSON document (or a GridFS
// attachment) into the JSON-marshalable shape the sink expects: BSON
// binary and time values need explicit MarshalJSON wrappers because
// encoding/json does not know how to render them, and GridFS
// attachments need their own envelope.
package docbuild

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"github.com/LilithWittmann/elasticsearch-river-mongodb/event"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const timeJSONFormat = "2006-01-02T15:04:05.000Z07:00"

// jsonTime renders a BSON date the way the sink's dynamic mapping
// expects a timestamp string, rather than encoding/json's default
// RFC3339Nano rendering of time.Time.
type jsonTime struct{ time.Time }

func (t jsonTime) MarshalJSON() ([]byte, error) {
	if y := t.Year(); y < 0 || y >= 10000 {
		return nil, errors.New("docbuild: year outside of range [0,9999]")
	}
	b := make([]byte, 0, len(timeJSONFormat)+2)
	b = append(b, '"')
	b = t.AppendFormat(b, timeJSONFormat)
	b = append(b, '"')
	return b, nil
}

// jsonBinary renders BSON binary data as a hex string.
type jsonBinary struct{ primitive.Binary }

func (bi jsonBinary) MarshalJSON() ([]byte, error) {
	hexStr := hex.EncodeToString(bi.Data)
	b := make([]byte, 0, len(hexStr)+2)
	b = append(b, '"')
	b = append(b, []byte(hexStr)...)
	b = append(b, '"')
	return b, nil
}

// ForJSON walks a decoded BSON document recursively, replacing values
// encoding/json cannot marshal on its own with JSON-safe equivalents.
// Empty slices are preserved as [] rather than becoming null.
func ForJSON(m map[string]interface{}) map[string]interface{} {
	o := make(map[string]interface{}, len(m))
	for k, v := range m {
		o[k] = valueForJSON(v)
	}
	return o
}

func sliceForJSON(a []interface{}) []interface{} {
	out := make([]interface{}, 0, len(a))
	for _, v := range a {
		out = append(out, valueForJSON(v))
	}
	return out
}

func valueForJSON(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return ForJSON(val)
	case primitive.M:
		// Nested subdocuments decoded by the driver carry primitive.M,
		// a defined type the plain map case does not match.
		return ForJSON(map[string]interface{}(val))
	case []interface{}:
		return sliceForJSON(val)
	case primitive.A:
		return sliceForJSON([]interface{}(val))
	case primitive.Binary:
		return jsonBinary{val}
	case time.Time:
		return jsonTime{val}
	case primitive.DateTime:
		// Cursor decodes into bson.M surface dates as primitive.DateTime.
		return jsonTime{val.Time().UTC()}
	default:
		return val
	}
}

// AttachmentEnvelope is the serialized form of a GridFS file written
// into the sink document: base64-encoded content plus the fixed
// metadata fields declared by mapping.GridFSMapping.
func AttachmentEnvelope(file *event.AttachmentFile) map[string]interface{} {
	return map[string]interface{}{
		"content":     base64.StdEncoding.EncodeToString(file.Content),
		"filename":    file.Filename,
		"contentType": file.ContentType,
		"md5":         file.MD5,
		"length":      file.Length,
		"chunkSize":   file.ChunkSize,
	}
}
