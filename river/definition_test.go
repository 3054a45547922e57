package river

import (
	"errors"
	"testing"
	"time"
)

func validOptions() Options {
	return Options{
		MongoServers:    []string{"localhost:27017"},
		MongoDatabase:   "testdb",
		MongoCollection: "items",
		IndexName:       "items",
	}
}

func TestNewDefinitionDefaults(t *testing.T) {
	def, err := NewDefinition(validOptions())
	if err != nil {
		t.Fatalf("NewDefinition: %v", err)
	}
	if def.ThrottleSize != defaultThrottleSize {
		t.Fatalf("expected default throttle size, got %d", def.ThrottleSize)
	}
	if def.BulkSize != defaultBulkSize {
		t.Fatalf("expected default bulk size, got %d", def.BulkSize)
	}
	if def.BulkTimeout != defaultBulkTimeout {
		t.Fatalf("expected default bulk timeout, got %s", def.BulkTimeout)
	}
	if def.TypeName != defaultTypeName {
		t.Fatalf("expected default type name, got %s", def.TypeName)
	}
	if def.RiverIndexName != defaultRiverIndexName {
		t.Fatalf("expected default river index, got %s", def.RiverIndexName)
	}
	if def.RiverName != "testdb.items" {
		t.Fatalf("river name must default to the namespace, got %s", def.RiverName)
	}
	if def.Namespace() != "testdb.items" {
		t.Fatalf("Namespace: %s", def.Namespace())
	}
	if def.GridFSNamespace() != "testdb.items.files" {
		t.Fatalf("GridFSNamespace: %s", def.GridFSNamespace())
	}
}

func TestNewDefinitionRequiredFields(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Options)
	}{
		{"no mongo servers", func(o *Options) { o.MongoServers = nil }},
		{"no index name", func(o *Options) { o.IndexName = "" }},
		{"no database", func(o *Options) { o.MongoDatabase = "" }},
		{"no collection", func(o *Options) { o.MongoCollection = "" }},
	}
	for _, tc := range cases {
		opt := validOptions()
		tc.mutate(&opt)
		_, err := NewDefinition(opt)
		var cfgErr *ConfigError
		if !errors.As(err, &cfgErr) {
			t.Fatalf("%s: expected a ConfigError, got %v", tc.name, err)
		}
	}
}

func TestNewDefinitionThrottleValidation(t *testing.T) {
	opt := validOptions()
	opt.ThrottleSize = -1
	def, err := NewDefinition(opt)
	if err != nil {
		t.Fatalf("throttle -1 must be accepted as unbounded: %v", err)
	}
	if def.ThrottleSize != -1 {
		t.Fatalf("expected -1, got %d", def.ThrottleSize)
	}

	opt.ThrottleSize = -5
	if _, err := NewDefinition(opt); err == nil {
		t.Fatalf("throttle below -1 must be rejected")
	}
}

func TestNewDefinitionBulkTimeout(t *testing.T) {
	opt := validOptions()
	opt.BulkTimeoutSec = 30
	def, err := NewDefinition(opt)
	if err != nil {
		t.Fatalf("NewDefinition: %v", err)
	}
	if def.BulkTimeout != 30*time.Second {
		t.Fatalf("expected 30s, got %s", def.BulkTimeout)
	}
}

func TestNewDefinitionInitialTimestamp(t *testing.T) {
	def, err := NewDefinition(validOptions())
	if err != nil {
		t.Fatalf("NewDefinition: %v", err)
	}
	if def.InitialTimestamp != nil {
		t.Fatalf("no configured initial timestamp must stay nil")
	}

	opt := validOptions()
	opt.InitialTimestampSec = 1700000000
	def, err = NewDefinition(opt)
	if err != nil {
		t.Fatalf("NewDefinition: %v", err)
	}
	if def.InitialTimestamp == nil || def.InitialTimestamp.T != 1700000000 {
		t.Fatalf("initial timestamp not carried over: %v", def.InitialTimestamp)
	}
}

func TestNewDefinitionBadNamespaceRegex(t *testing.T) {
	opt := validOptions()
	opt.NamespaceInclude = "("
	var cfgErr *ConfigError
	if _, err := NewDefinition(opt); !errors.As(err, &cfgErr) {
		t.Fatalf("an invalid namespace regex must be a ConfigError, got %v", err)
	}
}

func TestNamespaceAllowed(t *testing.T) {
	opt := validOptions()
	opt.NamespaceInclude = `^testdb\.`
	opt.NamespaceExclude = `\.secrets$`
	def, err := NewDefinition(opt)
	if err != nil {
		t.Fatalf("NewDefinition: %v", err)
	}
	if !def.NamespaceAllowed("testdb.items") {
		t.Fatalf("included namespace rejected")
	}
	if def.NamespaceAllowed("other.items") {
		t.Fatalf("namespace outside the include regex must be rejected")
	}
	if def.NamespaceAllowed("testdb.secrets") {
		t.Fatalf("excluded namespace must be rejected")
	}

	unfiltered, err := NewDefinition(validOptions())
	if err != nil {
		t.Fatalf("NewDefinition: %v", err)
	}
	if !unfiltered.NamespaceAllowed("anything.at.all") {
		t.Fatalf("no configured regexes means everything passes")
	}
}

func TestMergePrecedence(t *testing.T) {
	dst := Options{MongoDatabase: "fromflags"}
	src := Options{MongoDatabase: "fromfile", MongoCollection: "items"}
	merge(&dst, src)
	if dst.MongoDatabase != "fromflags" {
		t.Fatalf("command line must win over the config file, got %s", dst.MongoDatabase)
	}
	if dst.MongoCollection != "items" {
		t.Fatalf("unset flags must be filled from the file, got %q", dst.MongoCollection)
	}
}
