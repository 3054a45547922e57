// Package supervisor implements the control plane: a poll loop that
// starts or stops the slurper/indexer worker set in response to an
// externally toggled enable flag.
package supervisor

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LilithWittmann/elasticsearch-river-mongodb/checkpoint"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/indexer"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/mapping"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/pkg/oplog"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/queue"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/river"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/sink"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/slurper"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/source"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/transform"
	"github.com/coreos/go-systemd/daemon"
	"golang.org/x/sync/errgroup"
)

// SourceFactory opens a MongoDB client connected to hosts. The
// supervisor calls it once for topology discovery and once per
// discovered shard (or once for a plain, unsharded replica set).
type SourceFactory func(ctx context.Context, hosts []string) (source.Client, error)

// DefaultPollInterval is how often the enable flag is re-read.
const DefaultPollInterval = 1 * time.Second

// Supervisor polls the enable flag and transitions the pipeline
// between active and idle. Every transition is serialized through the
// mutex below, so start() and close() are safe to call concurrently.
type Supervisor struct {
	Def          *river.Definition
	Sources      SourceFactory
	Sink         sink.Client
	Logger       *log.Logger
	PollInterval time.Duration

	mu      sync.Mutex
	active  atomic.Bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	sources []source.Client
}

// Run polls the enable flag until ctx is cancelled, starting or
// stopping the pipeline on each observed transition, and always
// leaves the pipeline stopped before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	interval := s.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer s.close(context.Background())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Supervisor) tick(ctx context.Context) {
	enabled, err := readEnabled(ctx, s.Sink, s.Def.RiverIndexName, s.Def.RiverName)
	if err != nil {
		s.Logger.Printf("supervisor: failed to read enable flag for %s: %v", s.Def.RiverName, err)
		return
	}
	switch {
	case enabled && !s.isActive():
		if err := s.start(ctx); err != nil {
			s.Logger.Printf("supervisor: start failed for %s: %v", s.Def.RiverName, err)
		}
	case !enabled && s.isActive():
		s.close(ctx)
	}
}

func (s *Supervisor) isActive() bool {
	return s.active.Load()
}

// start is idempotent: a call while already active is
// a no-op. It discovers topology once, ensures the target index and
// any GridFS mapping exist, then spawns one slurper per target plus a
// single indexer.
func (s *Supervisor) start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active.Load() {
		return nil
	}

	discoveryClient, err := s.Sources(ctx, s.Def.MongoServers)
	if err != nil {
		return err
	}
	targets, err := slurper.DiscoverTopology(ctx, discoveryClient, s.Def.MongoServers)
	discoveryClient.Close(ctx)
	if err != nil {
		return err
	}

	if err := mapping.EnsureTargetReady(ctx, s.Logger, s.Sink, s.Def.IndexName, s.Def.TypeName, s.Def.MongoGridFS); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(runCtx)

	checkpoints := checkpoint.NewStore(s.Sink, s.Def.RiverIndexName, s.Def.RiverName)
	q := queue.New(s.Def.ThrottleSize)

	var resolver oplog.ResumeResolver
	if len(targets) > 1 {
		resolver = oplog.NewEarliestResolver(len(targets), s.Logger)
	}

	clients := make([]source.Client, 0, len(targets))
	for _, target := range targets {
		client, err := s.Sources(ctx, target.Hosts)
		if err != nil {
			for _, opened := range clients {
				opened.Close(ctx)
			}
			cancel()
			return err
		}
		clients = append(clients, client)

		worker := &slurper.Worker{
			Name:        target.Name,
			Client:      client,
			Def:         s.Def,
			Queue:       q,
			Checkpoints: checkpoints,
			Resolver:    resolver,
			Logger:      s.Logger,
		}
		group.Go(func() error {
			worker.Run(groupCtx)
			return nil
		})
	}

	ix := &indexer.Indexer{
		Def:         s.Def,
		Queue:       q,
		Sink:        s.Sink,
		Checkpoints: checkpoints,
		Transform:   s.transformer(),
		Logger:      s.Logger,
	}
	group.Go(func() error {
		ix.Run(groupCtx)
		return nil
	})

	s.cancel = cancel
	s.group = group
	s.sources = clients
	s.active.Store(true)

	if sent, notifyErr := daemon.SdNotify(false, daemon.SdNotifyReady); notifyErr != nil {
		s.Logger.Printf("supervisor: systemd readiness notification failed: %v", notifyErr)
	} else if sent {
		s.Logger.Printf("supervisor: notified systemd of readiness")
	}

	s.Logger.Printf("supervisor: started %s with %d slurper(s)", s.Def.RiverName, len(targets))
	return nil
}

// close interrupts every slurper and the indexer, closes their source
// connections, and clears the worker registry. It is idempotent and
// safe whether or not start() has ever run.
func (s *Supervisor) close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active.Load() {
		return
	}

	s.cancel()
	s.group.Wait()
	for _, c := range s.sources {
		if err := c.Close(ctx); err != nil {
			s.Logger.Printf("supervisor: error closing source connection: %v", err)
		}
	}

	s.cancel = nil
	s.group = nil
	s.sources = nil
	s.active.Store(false)
	s.Logger.Printf("supervisor: stopped %s", s.Def.RiverName)
}

func (s *Supervisor) transformer() transform.Transformer {
	if s.Def.Script == "" {
		return transform.Noop{}
	}
	return transform.NewOttoTransformer(s.Def.Script)
}
