// Package river holds the immutable configuration snapshot ("river
// definition") that every other component is constructed from. It is
// parsed once, at startup, and never mutated afterward.
package river

import (
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ConfigError marks a configuration problem that should prevent
// startup entirely.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("river config: %s: %s", e.Field, e.Reason)
}

// Definition is the immutable river configuration snapshot. Build it
// once with NewDefinition; nothing in this package or its callers
// mutates a Definition after construction.
type Definition struct {
	RiverName      string
	RiverIndexName string

	MongoURL          string
	MongoServers      []string
	MongoAdminUser    string
	MongoAdminPass    string
	MongoLocalUser    string
	MongoLocalPass    string
	MongoSSL          bool
	MongoSSLVerify    bool
	MongoSecondaryRO  bool
	MongoDatabase     string
	MongoCollection   string
	MongoGridFS       bool
	InitialTimestamp  *primitive.Timestamp
	NamespaceInclude  string
	NamespaceExclude  string

	nsInclude *regexp.Regexp
	nsExclude *regexp.Regexp

	ElasticURLs []string
	IndexName   string
	TypeName    string

	ThrottleSize int
	BulkSize     int
	BulkTimeout  time.Duration

	Filter                 string
	ExcludeFields          []string
	Script                 string
	ScriptType             string
	IncludeCollectionField string
	DropCollection         bool

	LogFilePath string
	GelfAddr    string
}

// Options mirrors the on-disk TOML shape (and matching CLI flags) of a
// river definition file.
type Options struct {
	MongoURL         string   `toml:"mongo-url"`
	MongoServers     []string `toml:"mongo-servers"`
	MongoAdminUser   string   `toml:"mongo-admin-user"`
	MongoAdminPass   string   `toml:"mongo-admin-password"`
	MongoLocalUser   string   `toml:"mongo-local-user"`
	MongoLocalPass   string   `toml:"mongo-local-password"`
	MongoSSL         bool     `toml:"mongo-ssl"`
	MongoSSLVerify   bool     `toml:"mongo-ssl-verify"`
	MongoSecondaryRO bool     `toml:"mongo-secondary-read-preference"`
	MongoDatabase    string   `toml:"mongo-db"`
	MongoCollection  string   `toml:"mongo-collection"`
	MongoGridFS      bool     `toml:"mongo-gridfs"`
	NamespaceInclude string   `toml:"namespace-regex"`
	NamespaceExclude string   `toml:"namespace-exclude-regex"`

	ElasticURLs []string `toml:"elasticsearch-urls"`
	IndexName   string   `toml:"index-name"`
	TypeName    string   `toml:"type-name"`

	ThrottleSize        int   `toml:"throttle-size"`
	BulkSize            int   `toml:"bulk-size"`
	BulkTimeoutSec      int   `toml:"bulk-timeout-seconds"`
	InitialTimestampSec int64 `toml:"initial-timestamp"`
	Filter         string `toml:"filter"`
	ExcludeFields  []string `toml:"exclude-fields"`
	Script         string `toml:"script"`
	ScriptType     string `toml:"script-type"`
	IncludeField   string `toml:"include-collection-field"`
	DropCollection bool   `toml:"drop-collection"`
	ResumeName     string `toml:"resume-name"`
	RiverIndexName string `toml:"river-index-name"`

	LogFilePath string `toml:"logs"`
	GelfAddr    string `toml:"gelf-port"`
}

const (
	defaultRiverIndexName = "_river"
	defaultThrottleSize   = 1000
	defaultBulkSize       = 1000
	defaultBulkTimeout    = 5 * time.Second
	defaultTypeName       = "mongodb"
)

// NewDefinition validates and assembles a Definition from parsed
// options. It is the only place a Definition is constructed; callers
// never mutate the result.
func NewDefinition(opt Options) (*Definition, error) {
	if opt.MongoURL == "" && len(opt.MongoServers) == 0 {
		return nil, &ConfigError{Field: "mongo-url", Reason: "must set mongo-url or mongo-servers"}
	}
	if opt.IndexName == "" {
		return nil, &ConfigError{Field: "index-name", Reason: "must not be empty"}
	}
	if opt.MongoDatabase == "" || opt.MongoCollection == "" {
		return nil, &ConfigError{Field: "mongo-db/mongo-collection", Reason: "must not be empty"}
	}
	throttle := opt.ThrottleSize
	if throttle == 0 {
		throttle = defaultThrottleSize
	}
	if throttle < -1 || throttle == 0 {
		return nil, &ConfigError{Field: "throttle-size", Reason: "must be -1 (unbounded) or >= 1"}
	}
	bulkSize := opt.BulkSize
	if bulkSize == 0 {
		bulkSize = defaultBulkSize
	}
	if bulkSize <= 0 {
		return nil, &ConfigError{Field: "bulk-size", Reason: "must be > 0"}
	}
	bulkTimeout := defaultBulkTimeout
	if opt.BulkTimeoutSec > 0 {
		bulkTimeout = time.Duration(opt.BulkTimeoutSec) * time.Second
	}
	typeName := opt.TypeName
	if typeName == "" {
		typeName = defaultTypeName
	}
	riverIndexName := opt.RiverIndexName
	if riverIndexName == "" {
		riverIndexName = defaultRiverIndexName
	}
	riverName := opt.ResumeName
	if riverName == "" {
		riverName = opt.MongoDatabase + "." + opt.MongoCollection
	}

	var initialTs *primitive.Timestamp
	if opt.InitialTimestampSec > 0 {
		initialTs = &primitive.Timestamp{T: uint32(opt.InitialTimestampSec)}
	}

	var nsInclude, nsExclude *regexp.Regexp
	if opt.NamespaceInclude != "" {
		var err error
		if nsInclude, err = regexp.Compile(opt.NamespaceInclude); err != nil {
			return nil, &ConfigError{Field: "namespace-regex", Reason: err.Error()}
		}
	}
	if opt.NamespaceExclude != "" {
		var err error
		if nsExclude, err = regexp.Compile(opt.NamespaceExclude); err != nil {
			return nil, &ConfigError{Field: "namespace-exclude-regex", Reason: err.Error()}
		}
	}

	def := &Definition{
		RiverName:              riverName,
		RiverIndexName:         riverIndexName,
		MongoURL:               opt.MongoURL,
		MongoServers:           opt.MongoServers,
		MongoAdminUser:         opt.MongoAdminUser,
		MongoAdminPass:         opt.MongoAdminPass,
		MongoLocalUser:         opt.MongoLocalUser,
		MongoLocalPass:         opt.MongoLocalPass,
		MongoSSL:               opt.MongoSSL,
		MongoSSLVerify:         opt.MongoSSLVerify,
		MongoSecondaryRO:       opt.MongoSecondaryRO,
		MongoDatabase:          opt.MongoDatabase,
		MongoCollection:        opt.MongoCollection,
		MongoGridFS:            opt.MongoGridFS,
		InitialTimestamp:       initialTs,
		NamespaceInclude:       opt.NamespaceInclude,
		NamespaceExclude:       opt.NamespaceExclude,
		nsInclude:              nsInclude,
		nsExclude:              nsExclude,
		ElasticURLs:            opt.ElasticURLs,
		IndexName:              opt.IndexName,
		TypeName:               typeName,
		ThrottleSize:           throttle,
		BulkSize:               bulkSize,
		BulkTimeout:            bulkTimeout,
		Filter:                 opt.Filter,
		ExcludeFields:          opt.ExcludeFields,
		Script:                 opt.Script,
		ScriptType:             opt.ScriptType,
		IncludeCollectionField: opt.IncludeField,
		DropCollection:         opt.DropCollection,
		LogFilePath:            opt.LogFilePath,
		GelfAddr:               opt.GelfAddr,
	}
	return def, nil
}

// Namespace is the db.collection string used as the checkpoint key and
// as the base of the oplog filter.
func (d *Definition) Namespace() string {
	return d.MongoDatabase + "." + d.MongoCollection
}

// GridFSNamespace is the .files namespace tailed instead of Namespace
// when MongoGridFS is set.
func (d *Definition) GridFSNamespace() string {
	return d.Namespace() + ".files"
}

// NamespaceAllowed applies the optional include/exclude regex pair to a
// namespace. The slurper checks it before emitting document events, so
// a single river over a filtered view does not replicate entries the
// operator regexed away.
func (d *Definition) NamespaceAllowed(ns string) bool {
	if d.nsInclude != nil && !d.nsInclude.MatchString(ns) {
		return false
	}
	if d.nsExclude != nil && d.nsExclude.MatchString(ns) {
		return false
	}
	return true
}
