// Package sink defines the Elasticsearch contract required by the
// indexer, mapping bootstrap, and checkpoint store, and an
// implementation backed by olivere/elastic.
package sink

import "context"

// ActionKind selects the bulk operation a Action performs.
type ActionKind int

const (
	ActionIndex ActionKind = iota
	ActionDelete
)

// Action is one entry in a bulk request: an index (upsert) or a delete,
// optionally routed/parented for join-field mappings.
type Action struct {
	Kind    ActionKind
	Index   string
	Type    string
	ID      string
	Parent  string
	Routing string
	Doc     interface{} // only read for ActionIndex
}

// BulkResult summarizes a submitted batch. PerItemErrors holds one entry
// per failed item, indexed positionally the same as the submitted
// actions; a failed item does not fail the whole batch.
type BulkResult struct {
	Succeeded     int
	PerItemErrors []ItemError
}

// ItemError names the action index and reason a single bulk item
// failed.
type ItemError struct {
	ActionIndex int
	Reason      string
}

// Client is the sink-side contract. Concrete construction lives in
// elastic.go; tests substitute a fake implementing this interface.
type Client interface {
	IndexExists(ctx context.Context, index string) (bool, error)
	CreateIndex(ctx context.Context, index string) error
	PutMapping(ctx context.Context, index, typeName string, mapping map[string]interface{}) error
	DeleteMapping(ctx context.Context, index, typeName string) error
	GetMapping(ctx context.Context, index, typeName string) (map[string]interface{}, bool, error)
	Refresh(ctx context.Context, index string) error
	GetDocument(ctx context.Context, index, typeName, id string) (map[string]interface{}, bool, error)
	Bulk(ctx context.Context, actions []Action) (*BulkResult, error)
}

// ErrClusterNotReady marks the recoverable "cluster not ready"
// condition: index creation is deferred to the first successful bulk.
type ErrClusterNotReady struct {
	Cause error
}

func (e *ErrClusterNotReady) Error() string {
	return "cluster not ready: " + e.Cause.Error()
}

func (e *ErrClusterNotReady) Unwrap() error { return e.Cause }

// ErrAlreadyExists marks an index-already-exists response, tolerated by
// the mapping bootstrap.
type ErrAlreadyExists struct {
	Index string
}

func (e *ErrAlreadyExists) Error() string {
	return "index already exists: " + e.Index
}
