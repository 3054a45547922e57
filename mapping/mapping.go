// Package mapping implements the target-index bootstrap: create the
// index if absent, and for GridFS collections install the fixed
// attachment field mapping.
package mapping

import (
	"context"
	"log"

	"github.com/LilithWittmann/elasticsearch-river-mongodb/sink"
)

// GridFSMapping is the fixed field mapping declared for GridFS-backed
// indices: content is a binary attachment, filename/contentType/md5 are
// text, length/chunkSize are 64-bit integers.
func GridFSMapping() map[string]interface{} {
	return map[string]interface{}{
		"properties": map[string]interface{}{
			"content":     map[string]interface{}{"type": "attachment"},
			"filename":    map[string]interface{}{"type": "text"},
			"contentType": map[string]interface{}{"type": "text"},
			"md5":         map[string]interface{}{"type": "text"},
			"length":      map[string]interface{}{"type": "long"},
			"chunkSize":   map[string]interface{}{"type": "long"},
		},
	}
}

// EnsureTargetReady creates indexName if it doesn't exist yet and, for
// GridFS collections, installs GridFSMapping under typeName. A
// cluster-not-ready condition is logged and treated as recoverable:
// the caller proceeds to slurp and the first bulk either succeeds once
// the cluster recovers or is retried by the indexer loop. Any other
// index-creation failure is fatal.
func EnsureTargetReady(ctx context.Context, logger *log.Logger, client sink.Client, indexName, typeName string, isGridFS bool) error {
	exists, err := client.IndexExists(ctx, indexName)
	if err != nil {
		return err
	}
	if !exists {
		if err := client.CreateIndex(ctx, indexName); err != nil {
			if _, ok := err.(*sink.ErrAlreadyExists); ok {
				logger.Printf("mapping: index %s already exists, continuing", indexName)
			} else if notReady, ok := err.(*sink.ErrClusterNotReady); ok {
				logger.Printf("mapping: cluster not ready creating %s, proceeding and retrying on first bulk: %v", indexName, notReady)
			} else {
				return err
			}
		}
	}

	if isGridFS {
		if err := client.PutMapping(ctx, indexName, typeName, GridFSMapping()); err != nil {
			logger.Printf("mapping: failed to install gridfs attachment mapping on %s/%s: %v", indexName, typeName, err)
		}
	}
	return nil
}

// RestoreMapping captures the current mapping for typeName, deletes it,
// and reinstalls the captured definition verbatim. It is used by the
// indexer's drop-collection handling to avoid a dropped collection's
// mapping reverting to Elasticsearch's dynamic default.
func RestoreMapping(ctx context.Context, logger *log.Logger, client sink.Client, indexName, typeName string) error {
	existing, found, err := client.GetMapping(ctx, indexName, typeName)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if err := client.DeleteMapping(ctx, indexName, typeName); err != nil {
		return err
	}
	if err := client.PutMapping(ctx, indexName, typeName, existing); err != nil {
		logger.Printf("mapping: failed to reinstall mapping %s/%s after drop: %v", indexName, typeName, err)
		return err
	}
	return nil
}
