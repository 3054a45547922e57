package slurper

import (
	"context"

	"github.com/LilithWittmann/elasticsearch-river-mongodb/source"
)

// Target names one source connection a Worker should be built for:
// either the single replica set configured in the river definition, or
// one shard's member servers.
type Target struct {
	Name  string
	Hosts []string
}

// DiscoverTopology decides, once, whether client is talking to a
// mongos router; if so it returns one Target per shard from
// config.shards, otherwise a single Target naming the configured
// servers.
func DiscoverTopology(ctx context.Context, client source.Client, configuredServers []string) ([]Target, error) {
	isMongos, err := client.IsMongos(ctx)
	if err != nil {
		return nil, err
	}
	if !isMongos {
		return []Target{{Name: "default", Hosts: configuredServers}}, nil
	}

	shards, err := client.Shards(ctx)
	if err != nil {
		return nil, err
	}
	targets := make([]Target, 0, len(shards))
	for _, s := range shards {
		targets = append(targets, Target{Name: s.ReplicaSetName, Hosts: s.Hosts})
	}
	return targets, nil
}
