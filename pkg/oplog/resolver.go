// Package oplog helps a sharded topology agree on a single bootstrap
// timestamp. A slurper with no checkpoint reads the current max oplog
// timestamp T0 before bootstrapping; with one slurper per shard that
// read happens independently on each shard's own oplog, and the
// results can disagree by however long it takes to query every shard.
// A ResumeResolver lets the supervisor give every shard slurper the
// same T0: the earliest candidate across all shards, so no shard's
// full-collection bootstrap misses writes that landed on another
// shard's oplog before the last shard was queried.
package oplog

import (
	"log"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ResumeResolver decides the bootstrap timestamp a slurper should use.
// The result may not be available immediately (EarliestResolver waits
// on every shard), so it is delivered on a channel.
type ResumeResolver interface {
	Resolve(candidate primitive.Timestamp) chan primitive.Timestamp
}

// SimpleResolver hands a candidate straight back; used for the
// unsharded, single-slurper case where no agreement is needed.
type SimpleResolver struct{}

func (SimpleResolver) Resolve(candidate primitive.Timestamp) chan primitive.Timestamp {
	ch := make(chan primitive.Timestamp, 1)
	ch <- candidate
	return ch
}

// EarliestResolver blocks every caller until all expectedShards have
// reported a candidate, then releases the minimum of them to everyone.
type EarliestResolver struct {
	expectedShards int
	logger         *log.Logger

	mu       sync.Mutex
	reported int
	earliest primitive.Timestamp
	ready    chan primitive.Timestamp
}

// NewEarliestResolver builds a resolver for a cluster with
// expectedShards slurpers that will each call Resolve once.
func NewEarliestResolver(expectedShards int, logger *log.Logger) *EarliestResolver {
	return &EarliestResolver{
		expectedShards: expectedShards,
		logger:         logger,
		ready:          make(chan primitive.Timestamp, expectedShards),
	}
}

func (r *EarliestResolver) Resolve(candidate primitive.Timestamp) chan primitive.Timestamp {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reported >= r.expectedShards {
		// Already resolved; hand the prior result back immediately.
		r.logger.Printf("oplog: bootstrap timestamp already agreed: %s", tsToTime(r.earliest).Format(time.RFC3339))
		ch := make(chan primitive.Timestamp, 1)
		ch <- r.earliest
		return ch
	}

	r.reported++
	if r.earliest.T == 0 || primitive.CompareTimestamp(candidate, r.earliest) < 0 {
		r.earliest = candidate
		r.logger.Printf("oplog: bootstrap timestamp candidate updated: %s", tsToTime(r.earliest).Format(time.RFC3339))
	}

	if r.reported == r.expectedShards {
		r.logger.Printf("oplog: bootstrap timestamp agreed across %d shards: %s", r.expectedShards, tsToTime(r.earliest).Format(time.RFC3339))
		for i := 0; i < r.expectedShards; i++ {
			r.ready <- r.earliest
		}
	}
	return r.ready
}

func tsToTime(ts primitive.Timestamp) time.Time {
	return time.Unix(int64(ts.T), 0)
}
