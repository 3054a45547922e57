package river

import (
	"flag"

	"github.com/BurntSushi/toml"
)

// FlagSet combines command-line flags with a TOML config file: flags
// take precedence over the file, which takes precedence over
// compiled-in defaults.
type FlagSet struct {
	ConfigFile string
	Options
}

// ParseFlags registers and parses the command-line flags understood by
// the river binary. It does not read the config file yet.
func ParseFlags(args []string) (*FlagSet, error) {
	fs := flag.NewFlagSet("river", flag.ContinueOnError)
	set := &FlagSet{}
	fs.StringVar(&set.ConfigFile, "f", "", "location of the TOML river definition file")
	fs.StringVar(&set.MongoURL, "mongo-url", "", "MongoDB connection URL")
	fs.StringVar(&set.MongoDatabase, "mongo-db", "", "MongoDB database to tail")
	fs.StringVar(&set.MongoCollection, "mongo-collection", "", "MongoDB collection to tail")
	fs.BoolVar(&set.MongoGridFS, "mongo-gridfs", false, "treat the collection as a GridFS bucket")
	fs.StringVar(&set.IndexName, "index-name", "", "Elasticsearch index to write to")
	fs.StringVar(&set.TypeName, "type-name", "", "Elasticsearch document type to write to")
	fs.IntVar(&set.ThrottleSize, "throttle-size", 0, "bounded queue capacity, or -1 for unbounded")
	fs.IntVar(&set.BulkSize, "bulk-size", 0, "maximum actions per Elasticsearch bulk request")
	fs.Int64Var(&set.InitialTimestampSec, "initial-timestamp", 0, "oplog seconds to start tailing after when no checkpoint exists")
	fs.StringVar(&set.ResumeName, "resume-name", "", "checkpoint identity for this river instance")
	fs.StringVar(&set.Filter, "filter", "", "extended JSON filter applied to insert/update oplog entries")
	fs.BoolVar(&set.DropCollection, "drop-collection", false, "mirror source collection drops to the sink index")
	fs.StringVar(&set.LogFilePath, "logs", "", "rotating log file path; empty logs to stderr only")
	fs.StringVar(&set.GelfAddr, "gelf-port", "", "host:port of a Graylog GELF UDP endpoint to also log to")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return set, nil
}

// LoadConfigFile fills in any option left blank on the command line from
// the TOML file named by ConfigFile, if one was given.
func (set *FlagSet) LoadConfigFile() (*FlagSet, error) {
	if set.ConfigFile == "" {
		return set, nil
	}
	var fromFile Options
	if _, err := toml.DecodeFile(set.ConfigFile, &fromFile); err != nil {
		return nil, err
	}
	merge(&set.Options, fromFile)
	return set, nil
}

// merge copies any zero-valued field of dst from src. Slices and the
// bool fields whose false is the sentinel (DropCollection et al.) are
// only taken from the file when the flag-provided value is the zero
// value, keeping the command-line-wins precedence.
func merge(dst *Options, src Options) {
	if dst.MongoURL == "" {
		dst.MongoURL = src.MongoURL
	}
	if len(dst.MongoServers) == 0 {
		dst.MongoServers = src.MongoServers
	}
	if dst.MongoAdminUser == "" {
		dst.MongoAdminUser = src.MongoAdminUser
	}
	if dst.MongoAdminPass == "" {
		dst.MongoAdminPass = src.MongoAdminPass
	}
	if dst.MongoLocalUser == "" {
		dst.MongoLocalUser = src.MongoLocalUser
	}
	if dst.MongoLocalPass == "" {
		dst.MongoLocalPass = src.MongoLocalPass
	}
	if !dst.MongoSSL {
		dst.MongoSSL = src.MongoSSL
	}
	if !dst.MongoSSLVerify {
		dst.MongoSSLVerify = src.MongoSSLVerify
	}
	if !dst.MongoSecondaryRO {
		dst.MongoSecondaryRO = src.MongoSecondaryRO
	}
	if dst.MongoDatabase == "" {
		dst.MongoDatabase = src.MongoDatabase
	}
	if dst.MongoCollection == "" {
		dst.MongoCollection = src.MongoCollection
	}
	if !dst.MongoGridFS {
		dst.MongoGridFS = src.MongoGridFS
	}
	if dst.NamespaceInclude == "" {
		dst.NamespaceInclude = src.NamespaceInclude
	}
	if dst.NamespaceExclude == "" {
		dst.NamespaceExclude = src.NamespaceExclude
	}
	if len(dst.ElasticURLs) == 0 {
		dst.ElasticURLs = src.ElasticURLs
	}
	if dst.IndexName == "" {
		dst.IndexName = src.IndexName
	}
	if dst.TypeName == "" {
		dst.TypeName = src.TypeName
	}
	if dst.ThrottleSize == 0 {
		dst.ThrottleSize = src.ThrottleSize
	}
	if dst.BulkSize == 0 {
		dst.BulkSize = src.BulkSize
	}
	if dst.BulkTimeoutSec == 0 {
		dst.BulkTimeoutSec = src.BulkTimeoutSec
	}
	if dst.InitialTimestampSec == 0 {
		dst.InitialTimestampSec = src.InitialTimestampSec
	}
	if dst.Filter == "" {
		dst.Filter = src.Filter
	}
	if len(dst.ExcludeFields) == 0 {
		dst.ExcludeFields = src.ExcludeFields
	}
	if dst.Script == "" {
		dst.Script = src.Script
	}
	if dst.ScriptType == "" {
		dst.ScriptType = src.ScriptType
	}
	if dst.IncludeField == "" {
		dst.IncludeField = src.IncludeField
	}
	if !dst.DropCollection {
		dst.DropCollection = src.DropCollection
	}
	if dst.ResumeName == "" {
		dst.ResumeName = src.ResumeName
	}
	if dst.RiverIndexName == "" {
		dst.RiverIndexName = src.RiverIndexName
	}
	if dst.LogFilePath == "" {
		dst.LogFilePath = src.LogFilePath
	}
	if dst.GelfAddr == "" {
		dst.GelfAddr = src.GelfAddr
	}
}
