// Command river runs a single MongoDB-to-Elasticsearch replication
// pipeline: parse configuration, build the supervisor, and run it
// until an interrupt or termination signal arrives.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/LilithWittmann/elasticsearch-river-mongodb/river"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/riverlog"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/sink"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/source"
	"github.com/LilithWittmann/elasticsearch-river-mongodb/supervisor"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := river.ParseFlags(os.Args[1:])
	if err != nil {
		return err
	}
	if _, err := flags.LoadConfigFile(); err != nil {
		return fmt.Errorf("loading config file: %w", err)
	}

	def, err := river.NewDefinition(flags.Options)
	if err != nil {
		return err
	}

	logger, err := riverlog.New(riverlog.Config{LogFilePath: def.LogFilePath, GelfAddr: def.GelfAddr})
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}

	elasticClient, err := sink.NewElasticClient(sink.Config{URLs: def.ElasticURLs})
	if err != nil {
		return fmt.Errorf("connecting to elasticsearch: %w", err)
	}

	sup := &supervisor.Supervisor{
		Def: def,
		Sources: func(ctx context.Context, hosts []string) (source.Client, error) {
			return connectSource(ctx, def, hosts)
		},
		Sink:   elasticClient,
		Logger: logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Printf("river: shutdown signal received")
		cancel()
	}()

	return sup.Run(ctx)
}

// connectSource opens a go.mongodb.org/mongo-driver client against
// hosts, falling back to the river's mongo-url when hosts is empty
// (the initial topology-discovery connection).
func connectSource(ctx context.Context, def *river.Definition, hosts []string) (source.Client, error) {
	opts := options.Client()
	switch {
	case len(hosts) > 0:
		opts.SetHosts(hosts)
	case def.MongoURL != "":
		opts.ApplyURI(def.MongoURL)
	}
	if def.MongoLocalUser != "" {
		opts.SetAuth(options.Credential{Username: def.MongoLocalUser, Password: def.MongoLocalPass})
	}
	if def.MongoSSL {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: !def.MongoSSLVerify})
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}
	return source.NewDriver(client, def.MongoSecondaryRO), nil
}
